// Package pulse turns edge timings captured from a radio or infra-red
// receiver into decoded packets.
package pulse

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/solar3s/rfnode/buffer"
)

// Pulse is one edge-to-edge interval. Duration is in timer ticks; zero
// means the capture timer overflowed (timeout).
type Pulse struct {
	High     bool
	Duration uint16
}

func (p Pulse) IsTimeout() bool { return p.Duration == 0 }

func (p Pulse) String() string {
	lvl := "L"
	if p.High {
		lvl = "H"
	}
	return fmt.Sprintf("%s%d", lvl, p.Duration)
}

// Timing converts wall-clock durations to capture timer ticks.
type Timing struct {
	Tick time.Duration
}

// DefaultTiming is a 16MHz clock with a /64 prescaler.
var DefaultTiming = Timing{Tick: 4 * time.Microsecond}

func (t Timing) Ticks(d time.Duration) uint16 {
	n := (d + t.Tick/2) / t.Tick
	if n > 0xffff {
		return 0xffff
	}
	return uint16(n)
}

func (t Timing) Duration(ticks uint16) time.Duration {
	return time.Duration(ticks) * t.Tick
}

// Window is an inclusive range of ticks.
type Window struct {
	Min, Max uint16
}

func (w Window) Contains(ticks uint16) bool {
	return ticks >= w.Min && ticks <= w.Max
}

// Around returns the window nominal ±25%.
func (t Timing) Around(nominal time.Duration) Window {
	n := uint32(t.Ticks(nominal))
	return Window{Min: uint16(n * 3 / 4), Max: uint16(min(n*5/4, 0xffff))}
}

const recordSize = 3

// Capture is the FIFO between the capture goroutine (producer) and the
// decoding loop (consumer). When full, new pulses are dropped and counted.
type Capture struct {
	ring      *buffer.Ring
	overflows atomic.Uint32
}

// NewCapture holds up to n pulses; n*3 must not exceed buffer.MaxCapacity.
func NewCapture(n int) *Capture {
	return &Capture{ring: buffer.NewRing(n * recordSize)}
}

// Push queues p. Producer side only.
func (c *Capture) Push(p Pulse) bool {
	var lvl byte
	if p.High {
		lvl = 1
	}
	rec := [recordSize]byte{lvl, byte(p.Duration), byte(p.Duration >> 8)}
	if !c.ring.WriteBytes(rec[:]) {
		c.overflows.Add(1)
		return false
	}
	return true
}

// OnMax hands at most n queued pulses to fn and returns how many it did.
// Consumer side only.
func (c *Capture) OnMax(n int, fn func(Pulse)) int {
	i := 0
	for ; i < n && c.ring.Available() >= recordSize; i++ {
		c.ring.ReadStart()
		lvl := c.ring.UncheckedRead()
		lo := c.ring.UncheckedRead()
		hi := c.ring.UncheckedRead()
		c.ring.ReadEnd()
		fn(Pulse{High: lvl != 0, Duration: uint16(lo) | uint16(hi)<<8})
	}
	return i
}

func (c *Capture) Len() int { return c.ring.Available() / recordSize }

func (c *Capture) HasContent() bool { return c.Len() > 0 }

// Overflows returns the number of pulses dropped because the FIFO was full.
func (c *Capture) Overflows() uint32 { return c.overflows.Load() }
