package gateway

import (
	"errors"
	"fmt"
	"strconv"
)

//go:generate stringer -type=LinkState,EventKind

// LinkState is the health of the serial link to the bridge.
type LinkState int

const (
	Disconnected LinkState = iota
	Connected
	WriteError
	ReadError
	UnexpectedError
)

// EventKind tells what an Event reports.
type EventKind int

const (
	StateChanged EventKind = iota
	FS20Received
	NECReceived
	LinkChanged
)

// The (un)marshallers below encode both enums by name, which keeps config
// files and the JSON feed readable.

func (s LinkState) MarshalJSON() ([]byte, error) {
	return quote(s.MarshalText())
}

func (s *LinkState) UnmarshalJSON(data []byte) error {
	b, err := unquote("LinkState", data)
	if err != nil {
		return err
	}
	return s.UnmarshalText(b)
}

func (s LinkState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *LinkState) UnmarshalText(b []byte) error {
	i, err := parseEnum("LinkState", _LinkState_name, _LinkState_index[:], string(b))
	if err == nil {
		*s = LinkState(i)
	}
	return err
}

func (k EventKind) MarshalJSON() ([]byte, error) {
	return quote(k.MarshalText())
}

func (k *EventKind) UnmarshalJSON(data []byte) error {
	b, err := unquote("EventKind", data)
	if err != nil {
		return err
	}
	return k.UnmarshalText(b)
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	i, err := parseEnum("EventKind", _EventKind_name, _EventKind_index[:], string(b))
	if err == nil {
		*k = EventKind(i)
	}
	return err
}

func quote(b []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	return []byte(strconv.Quote(string(b))), nil
}

func unquote(typ string, data []byte) ([]byte, error) {
	n := len(data)
	if n < 2 || data[0] != '"' || data[n-1] != '"' {
		return nil, errors.New(typ + ".UnmarshalJSON: Invalid JSON provided")
	}
	return data[1 : n-1], nil
}

// parseEnum finds str among the stringer names, or accepts a plain number.
func parseEnum(typ, names string, index []uint8, str string) (int, error) {
	for i := 0; i+1 < len(index); i++ {
		if names[index[i]:index[i+1]] == str {
			return i, nil
		}
	}
	if i, err := strconv.Atoi(str); err == nil && i >= 0 && i < len(index)-1 {
		return i, nil
	}
	return 0, fmt.Errorf("Cannot unmarshall %q to %s. Is it mispelled?", str, typ)
}
