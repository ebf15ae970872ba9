// Package stream reads and writes typed values over transactional byte
// buffers. A Format is an ordered list of field descriptors; reading or
// writing a format either fully succeeds or leaves the buffer untouched.
package stream

import "fmt"

// Status is the outcome of reading a value from a Source.
type Status uint8

const (
	// Valid means the value was fully parsed and its bytes consumed.
	Valid Status = iota
	// Invalid means the bytes are present but violate the format.
	Invalid
	// Incomplete means more bytes are needed; nothing was consumed.
	Incomplete
	// Partial means a literal matched a prefix of the input and more bytes
	// are needed to decide; nothing was consumed.
	Partial
)

var statusNames = [...]string{"Valid", "Invalid", "Incomplete", "Partial"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", s)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("Cannot unmarshall %q to Status. Is it mispelled?", b)
}

// Source is a transactional byte reader, see buffer.Ring.
type Source interface {
	Read() (byte, bool)
	UncheckedRead() byte
	Available() int
	ReadStart()
	ReadEnd()
	ReadAbort()
}

// Sink is a transactional byte writer, see buffer.Ring.
type Sink interface {
	Write(c byte) bool
	UncheckedWrite(c byte)
	Space() int
	WriteStart()
	WriteEnd()
	WriteAbort()
}

// Codec reads and writes values of type T.
type Codec[T any] interface {
	Read(src Source, v *T) Status
	Write(dst Sink, v *T) bool
}
