package pulse

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solar3s/rfnode/buffer"
	"github.com/solar3s/rfnode/stream"
)

const (
	fs20Zero = 400 * time.Microsecond
	fs20One  = 600 * time.Microsecond

	// FS20SyncBits is the minimum run of zero bits before the sync one.
	FS20SyncBits = 10

	fs20ChecksumBase = 6
	fs20ExtBit       = 0x20
)

// FS20Packet is one FS20 home automation frame.
type FS20Packet struct {
	HouseCodeHi byte `json:"houseCodeHi"`
	HouseCodeLo byte `json:"houseCodeLo"`
	Address     byte `json:"address"`
	Command     byte `json:"command"`
	CommandExt  byte `json:"commandExt,omitempty"`
	Checksum    byte `json:"checksum"`
}

// HasExtension reports whether the frame carries CommandExt.
func (p *FS20Packet) HasExtension() bool { return p.Command&fs20ExtBit != 0 }

func (p *FS20Packet) sum() byte {
	s := fs20ChecksumBase + p.HouseCodeHi + p.HouseCodeLo + p.Address + p.Command
	if p.HasExtension() {
		s += p.CommandExt
	}
	return s
}

func (p *FS20Packet) IsChecksumCorrect() bool { return p.Checksum == p.sum() }

// Seal fills in the checksum.
func (p *FS20Packet) Seal() { p.Checksum = p.sum() }

// HouseCode returns both house code bytes as one value.
func (p *FS20Packet) HouseCode() uint16 {
	return uint16(p.HouseCodeHi)<<8 | uint16(p.HouseCodeLo)
}

func (p FS20Packet) String() string {
	if p.HasExtension() {
		return fmt.Sprintf("FS20[%04x/%d cmd=%d ext=%d]", p.HouseCode(), p.Address, p.Command, p.CommandExt)
	}
	return fmt.Sprintf("FS20[%04x/%d cmd=%d]", p.HouseCode(), p.Address, p.Command)
}

// FS20Format is the byte layout of a decoded frame, as queued by
// FS20Decoder.
var FS20Format = stream.NewFormat(
	stream.Scalar(func(p *FS20Packet) *byte { return &p.HouseCodeHi }),
	stream.Scalar(func(p *FS20Packet) *byte { return &p.HouseCodeLo }),
	stream.Scalar(func(p *FS20Packet) *byte { return &p.Address }),
	stream.Scalar(func(p *FS20Packet) *byte { return &p.Command }),
	stream.Conditional((*FS20Packet).HasExtension,
		stream.Scalar(func(p *FS20Packet) *byte { return &p.CommandExt }),
	),
	stream.Scalar(func(p *FS20Packet) *byte { return &p.Checksum }),
)

type fs20State int

const (
	fs20Sync fs20State = iota
	fs20Receiving
)

// FS20Stats counts decoder outcomes.
type FS20Stats struct {
	Packets        uint32 `json:"packets"`
	ParityErrors   uint32 `json:"parityErrors"`
	ChecksumErrors uint32 `json:"checksumErrors"`
	Overflows      uint32 `json:"overflows"`
}

// FS20Decoder reassembles FS20 frames from pulses. A bit is a high pulse
// followed by a low pulse of the same class; any pulse outside both bit
// windows or a mismatched pair resets the decoder to sync.
type FS20Decoder struct {
	zero, one Window
	out       *buffer.Framed
	log       *zap.Logger

	state   fs20State
	zeros   int
	pending int8 // class of the high half of the current bit, or -1
	bits    int
	cur     uint16
	data    [6]byte
	n       int
	parity  bool

	stats FS20Stats
}

func NewFS20Decoder(t Timing, opts ...Option) *FS20Decoder {
	c := newConfig(opts)
	zero, one := uint32(t.Ticks(fs20Zero)), uint32(t.Ticks(fs20One))
	mid := uint16((zero + one) / 2)
	d := &FS20Decoder{
		zero: Window{Min: uint16(zero * 3 / 4), Max: mid},
		one:  Window{Min: mid + 1, Max: uint16(min(one*5/4, 0xffff))},
		out:  buffer.NewFramed(c.capacity),
		log:  c.log,
	}
	d.reset()
	return d
}

// Out is the buffer decoded frames are queued in, encoded with FS20Format.
func (d *FS20Decoder) Out() *buffer.Framed { return d.out }

func (d *FS20Decoder) Stats() FS20Stats { return d.stats }

// Read pops the next decoded frame.
func (d *FS20Decoder) Read(p *FS20Packet) bool {
	return stream.ReadChunk[FS20Packet](d.out, FS20Format, p) == stream.Valid
}

func (d *FS20Decoder) reset() {
	d.state = fs20Sync
	d.zeros = 0
	d.pending = -1
	d.bits = 0
	d.cur = 0
	d.n = 0
	d.parity = false
}

func (d *FS20Decoder) classify(ticks uint16) int8 {
	switch {
	case d.zero.Contains(ticks):
		return 0
	case d.one.Contains(ticks):
		return 1
	}
	return -1
}

// Feed advances the decoder by one pulse.
func (d *FS20Decoder) Feed(p Pulse) {
	c := d.classify(p.Duration)
	if c < 0 {
		d.reset()
		return
	}
	if p.High {
		if d.pending >= 0 {
			d.reset()
		}
		d.pending = c
		return
	}
	if d.pending < 0 {
		// a low half without its high: realign while syncing
		if d.state == fs20Receiving {
			d.reset()
		}
		return
	}
	h := d.pending
	d.pending = -1
	if h != c {
		d.reset()
		return
	}
	d.bit(uint16(c))
}

func (d *FS20Decoder) bit(b uint16) {
	if d.state == fs20Sync {
		switch {
		case b == 0:
			d.zeros++
		case d.zeros >= FS20SyncBits:
			d.state = fs20Receiving
		default:
			d.reset()
		}
		return
	}

	d.cur = d.cur<<1 | b
	d.bits++
	if d.bits < 9 {
		return
	}
	c := byte(d.cur >> 1)
	if evenParity(c) != byte(d.cur&1) {
		d.parity = true
	}
	d.data[d.n] = c
	d.n++
	d.bits = 0
	d.cur = 0

	want := 5
	if d.n >= 4 && d.data[3]&fs20ExtBit != 0 {
		want = 6
	}
	if d.n == want {
		d.emit()
		d.reset()
	}
}

func (d *FS20Decoder) emit() {
	var p FS20Packet
	if st := stream.Unmarshal[FS20Packet](FS20Format, d.data[:d.n], &p); st != stream.Valid {
		return
	}
	switch {
	case d.parity:
		d.stats.ParityErrors++
		d.log.Debug("fs20 frame dropped", zap.String("reason", "parity"), zap.Stringer("packet", p))
	case !p.IsChecksumCorrect():
		d.stats.ChecksumErrors++
		d.log.Debug("fs20 frame dropped", zap.String("reason", "checksum"), zap.Stringer("packet", p))
	case !stream.WriteChunk[FS20Packet](d.out, FS20Format, &p):
		d.stats.Overflows++
		d.log.Warn("fs20 output buffer full", zap.Stringer("packet", p))
	default:
		d.stats.Packets++
	}
}

// evenParity returns the bit that makes the count of ones in c plus the
// bit even.
func evenParity(c byte) byte {
	c ^= c >> 4
	c ^= c >> 2
	c ^= c >> 1
	return c & 1
}

// EncodeFS20 returns the pulses transmitting p: sync, the frame bytes each
// followed by its parity bit, and a closing zero bit. The checksum is
// taken from p as is.
func EncodeFS20(p FS20Packet, t Timing) []Pulse {
	zero := Pulse{Duration: t.Ticks(fs20Zero)}
	one := Pulse{Duration: t.Ticks(fs20One)}
	var out []Pulse
	bit := func(b byte) {
		pl := zero
		if b != 0 {
			pl = one
		}
		out = append(out, Pulse{High: true, Duration: pl.Duration}, pl)
	}
	for i := 0; i < FS20SyncBits+2; i++ {
		bit(0)
	}
	bit(1)

	var raw [6]byte
	enc, _ := stream.Marshal[FS20Packet](FS20Format, &p, raw[:])
	for _, c := range enc {
		for i := 7; i >= 0; i-- {
			bit(c >> i & 1)
		}
		bit(evenParity(c))
	}
	bit(0)
	return out
}
