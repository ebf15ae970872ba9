package pulse

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solar3s/rfnode/buffer"
	"github.com/solar3s/rfnode/stream"
)

// NEC infra-red timings.
const (
	necUnit        = 562500 * time.Nanosecond
	necLeadMark    = necUnit * 16 // 9ms
	necLeadSpace   = necUnit * 8  // 4.5ms
	necRepeatSpace = necUnit * 4  // 2.25ms
	necBitMark     = necUnit
	necBit0Space   = necUnit
	necBit1Space   = necUnit * 3
)

// NECPacket is a decoded NEC remote code. Repeat is 0 for the code itself
// and counts the repeat frames sent while the key is held.
type NECPacket struct {
	Address uint16 `json:"address"`
	Command byte   `json:"command"`
	Repeat  uint8  `json:"repeat"`
}

func (p NECPacket) String() string {
	return fmt.Sprintf("NEC[%04x cmd=%d rep=%d]", p.Address, p.Command, p.Repeat)
}

var NECFormat = stream.NewFormat(
	stream.Scalar(func(p *NECPacket) *uint16 { return &p.Address }),
	stream.Scalar(func(p *NECPacket) *byte { return &p.Command }),
	stream.Scalar(func(p *NECPacket) *uint8 { return &p.Repeat }),
)

// SplitNEC validates a raw 32-bit code (LSB first on air) and returns its
// address and command.
func SplitNEC(data uint32) (valid bool, address uint16, command byte) {
	lo := byte(data)
	hi := byte(data >> 8)
	command = byte(data >> 16)
	inv := byte(data >> 24)
	if hi == ^lo {
		address = uint16(lo)
	} else {
		address = uint16(hi)<<8 | uint16(lo)
	}
	return command == ^inv, address, command
}

// MakeNEC assembles a raw code. 8-bit addresses get their inverse as high
// byte.
func MakeNEC(address uint16, command byte) uint32 {
	lo := byte(address)
	hi := byte(address >> 8)
	if hi == 0 {
		hi = ^lo
	}
	return uint32(^command)<<24 | uint32(command)<<16 | uint32(hi)<<8 | uint32(lo)
}

type necState int

const (
	necIdle necState = iota
	necLead
	necMark
	necSpace
	necRepeatTrail
)

// NECStats counts decoder outcomes.
type NECStats struct {
	Packets   uint32 `json:"packets"`
	Repeats   uint32 `json:"repeats"`
	Errors    uint32 `json:"errors"`
	Overflows uint32 `json:"overflows"`
}

// NECDecoder decodes NEC frames from mark (High) and space (Low) pulses.
type NECDecoder struct {
	lead, leadSpace, repeatSpace Window
	mark, space0, space1         Window

	out *buffer.Framed
	log *zap.Logger

	state necState
	bits  int
	data  uint32
	last  NECPacket
	valid bool // last holds a code repeats refer to

	stats NECStats
}

func NewNECDecoder(t Timing, opts ...Option) *NECDecoder {
	c := newConfig(opts)
	return &NECDecoder{
		lead:        t.Around(necLeadMark),
		leadSpace:   t.Around(necLeadSpace),
		repeatSpace: t.Around(necRepeatSpace),
		mark:        t.Around(necBitMark),
		space0:      t.Around(necBit0Space),
		space1:      t.Around(necBit1Space),
		out:         buffer.NewFramed(c.capacity),
		log:         c.log,
	}
}

func (d *NECDecoder) Out() *buffer.Framed { return d.out }

func (d *NECDecoder) Stats() NECStats { return d.stats }

// Read pops the next decoded code.
func (d *NECDecoder) Read(p *NECPacket) bool {
	return stream.ReadChunk[NECPacket](d.out, NECFormat, p) == stream.Valid
}

// Feed advances the decoder by one pulse.
func (d *NECDecoder) Feed(p Pulse) {
	if p.IsTimeout() {
		d.state = necIdle
		d.valid = false
		return
	}
	switch d.state {
	case necIdle:
		if p.High && d.lead.Contains(p.Duration) {
			d.state = necLead
		}
	case necLead:
		switch {
		case p.High:
			d.restart(p)
		case d.leadSpace.Contains(p.Duration):
			d.state = necMark
			d.bits = 0
			d.data = 0
		case d.repeatSpace.Contains(p.Duration):
			d.state = necRepeatTrail
		default:
			d.state = necIdle
		}
	case necMark:
		if !p.High || !d.mark.Contains(p.Duration) {
			d.restart(p)
			return
		}
		if d.bits == 32 {
			d.emit()
			d.state = necIdle
			return
		}
		d.state = necSpace
	case necSpace:
		switch {
		case p.High:
			d.restart(p)
		case d.space0.Contains(p.Duration):
			d.bits++
			d.state = necMark
		case d.space1.Contains(p.Duration):
			d.data |= 1 << d.bits
			d.bits++
			d.state = necMark
		default:
			d.state = necIdle
		}
	case necRepeatTrail:
		if p.High && d.mark.Contains(p.Duration) && d.valid {
			if d.last.Repeat < 0xff {
				d.last.Repeat++
			}
			d.stats.Repeats++
			d.push(d.last)
		}
		d.state = necIdle
	}
}

// restart drops the current frame; p may open the next one.
func (d *NECDecoder) restart(p Pulse) {
	d.state = necIdle
	if p.High && d.lead.Contains(p.Duration) {
		d.state = necLead
	}
}

func (d *NECDecoder) emit() {
	ok, addr, cmd := SplitNEC(d.data)
	if !ok {
		d.stats.Errors++
		d.valid = false
		d.log.Debug("nec code dropped", zap.Uint32("raw", d.data))
		return
	}
	d.last = NECPacket{Address: addr, Command: cmd}
	d.valid = true
	d.stats.Packets++
	d.push(d.last)
}

func (d *NECDecoder) push(p NECPacket) {
	if !stream.WriteChunk[NECPacket](d.out, NECFormat, &p) {
		d.stats.Overflows++
		d.log.Warn("nec output buffer full", zap.Stringer("packet", p))
	}
}

// EncodeNEC returns the pulses of a code followed by repeats repeat frames.
func EncodeNEC(p NECPacket, repeats int, t Timing) []Pulse {
	mark := Pulse{High: true, Duration: t.Ticks(necBitMark)}
	out := []Pulse{
		{High: true, Duration: t.Ticks(necLeadMark)},
		{Duration: t.Ticks(necLeadSpace)},
	}
	data := MakeNEC(p.Address, p.Command)
	for i := 0; i < 32; i++ {
		sp := necBit0Space
		if data>>i&1 != 0 {
			sp = necBit1Space
		}
		out = append(out, mark, Pulse{Duration: t.Ticks(sp)})
	}
	out = append(out, mark)
	for i := 0; i < repeats; i++ {
		out = append(out,
			Pulse{Duration: t.Ticks(40 * time.Millisecond)},
			Pulse{High: true, Duration: t.Ticks(necLeadMark)},
			Pulse{Duration: t.Ticks(necRepeatSpace)},
			mark,
		)
	}
	return out
}
