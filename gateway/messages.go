package gateway

import (
	"fmt"

	"github.com/solar3s/rfnode/stream"
)

// RelayState is the value shared with a relay node. Either side may
// switch it.
type RelayState struct {
	On bool `json:"on"`
}

func (r RelayState) String() string {
	if r.On {
		return "on"
	}
	return "off"
}

var RelayMessage = stream.NewMessage(
	stream.Bool(1, func(r *RelayState) *bool { return &r.On }),
)

// Reading is what a sensor node reports: a measure in the sensor's unit
// (tenths of a degree for thermometers) and its battery level in percent.
type Reading struct {
	Value   int32 `json:"value"`
	Battery uint8 `json:"battery"`
}

func (r Reading) String() string {
	return fmt.Sprintf("%d (battery %d%%)", r.Value, r.Battery)
}

var ReadingMessage = stream.NewMessage(
	stream.Int(1, func(r *Reading) *int32 { return &r.Value }),
	stream.Uint(2, func(r *Reading) *uint8 { return &r.Battery }),
)
