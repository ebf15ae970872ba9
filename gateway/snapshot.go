package gateway

import (
	"time"

	"github.com/solar3s/rfnode/pulse"
)

type RelaySnapshot struct {
	Node       uint16     `json:"node"`
	State      RelayState `json:"state"`
	Seq        uint8      `json:"seq"`
	Pending    bool       `json:"pending"`
	Requesting bool       `json:"requesting"`
	Retries    int        `json:"retries"`
}

type SensorSnapshot struct {
	Node    uint16  `json:"node"`
	Reading Reading `json:"reading"`
	Seq     uint8   `json:"seq"`
}

// Snapshot is the state of the gateway at a given time.
type Snapshot struct {
	Time    time.Time `json:"time"`
	Link    LinkState `json:"link"`
	Device  string    `json:"device,omitempty"`
	Version string    `json:"version,omitempty"`

	Relays  []RelaySnapshot  `json:"relays"`
	Sensors []SensorSnapshot `json:"sensors"`

	FS20      pulse.FS20Stats `json:"fs20"`
	NEC       pulse.NECStats  `json:"nec"`
	Dropped   uint32          `json:"dropped"`   // malformed packets
	Unclaimed uint64          `json:"unclaimed"` // packets no session took
	Overflows uint32          `json:"overflows"` // pulses lost by the bridge FIFO

	Recent []Event `json:"recent"`
}

// Snapshot retrieves the state of g.
func (g *Gateway) Snapshot() Snapshot {
	g.Lock()
	defer g.Unlock()
	s := Snapshot{
		Time:      time.Now(),
		Link:      g.state,
		FS20:      g.fs20.Stats(),
		NEC:       g.nec.Stats(),
		Unclaimed: g.unclaimed,
		Relays:    make([]RelaySnapshot, 0, len(g.cfg.Relays)),
		Sensors:   make([]SensorSnapshot, 0, len(g.cfg.Sensors)),
		Recent:    append([]Event(nil), g.recent...),
	}
	if g.link != nil {
		s.Device = g.link.Path()
		s.Version = g.link.Version()
		s.Dropped = g.link.In().Dropped()
		s.Overflows = g.link.Pulses().Overflows()
	}
	for _, id := range g.cfg.Relays {
		r := g.relays[id]
		s.Relays = append(s.Relays, RelaySnapshot{
			Node:       id,
			State:      r.Get(),
			Seq:        r.Seq(),
			Pending:    r.Pending(),
			Requesting: r.Requesting(),
			Retries:    r.Retries(),
		})
	}
	for _, id := range g.cfg.Sensors {
		r := g.sensors[id]
		s.Sensors = append(s.Sensors, SensorSnapshot{Node: id, Reading: r.Get(), Seq: r.Seq()})
	}
	return s
}

// Events returns the most recent events, oldest first.
func (g *Gateway) Events() []Event {
	g.Lock()
	defer g.Unlock()
	return append([]Event(nil), g.recent...)
}
