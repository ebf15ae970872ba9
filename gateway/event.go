package gateway

import (
	"fmt"
	"time"

	"github.com/solar3s/rfnode/pulse"
)

// Event is one entry of the gateway feed. Only the field matching Kind is
// set.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	Node      uint16    `json:"node,omitempty"`
	Status    string    `json:"status"`
	Erroneous bool      `json:"erroneous,omitempty"`

	Relay   *RelayState       `json:"relay,omitempty"`
	Reading *Reading          `json:"reading,omitempty"`
	FS20    *pulse.FS20Packet `json:"fs20,omitempty"`
	NEC     *pulse.NECPacket  `json:"nec,omitempty"`
	Link    *LinkState        `json:"link,omitempty"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s: %s", e.Time.Format(time.RFC3339), e.Kind, e.Status)
}

func event(kind EventKind, node uint16, status string, erroneous bool) Event {
	return Event{
		Time:      time.Now(),
		Kind:      kind,
		Node:      node,
		Status:    status,
		Erroneous: erroneous,
	}
}

func relayChanged(node uint16, v RelayState) Event {
	e := event(StateChanged, node, fmt.Sprintf("relay %d switched %s", node, v), false)
	e.Relay = &v
	return e
}

func readingChanged(node uint16, v Reading) Event {
	e := event(StateChanged, node, fmt.Sprintf("sensor %d reads %s", node, v), false)
	e.Reading = &v
	return e
}

func fs20Received(p pulse.FS20Packet) Event {
	e := event(FS20Received, 0, p.String(), false)
	e.FS20 = &p
	return e
}

func necReceived(p pulse.NECPacket) Event {
	e := event(NECReceived, 0, p.String(), false)
	e.NEC = &p
	return e
}

func linkChanged(st LinkState, dev string, err error) Event {
	var e Event
	if err != nil {
		e = event(LinkChanged, 0, fmt.Sprintf("%s: %s", dev, err), true)
	} else {
		e = event(LinkChanged, 0, fmt.Sprintf("%s: %s", dev, st), false)
	}
	e.Link = &st
	return e
}
