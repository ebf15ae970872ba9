// Package buffer implements the bounded byte FIFOs everything else is built
// on: Ring, a circular queue with nested read and write transactions, and
// Framed, which groups committed write transactions into chunks.
package buffer

import (
	"fmt"
	"sync/atomic"
)

// MaxCapacity is the largest Ring: sizes are accounted in a single byte.
const MaxCapacity = 255

// maxDepth bounds transaction nesting; marks live in a fixed array.
const maxDepth = 8

// Ring is a bounded circular byte queue.
//
// Writes and reads are either unmarked (visible, resp. freed, immediately)
// or happen inside a transaction opened with WriteStart/ReadStart. Nested
// starts only deepen the transaction; the outermost End commits and an
// Abort at any depth reverts to the matching Start.
//
// A Ring may be shared by exactly one producer and one consumer goroutine
// without locking: the producer owns the write index, the consumer owns
// the read index, and each side only publishes its own index. Queries
// follow the same split: Space, IsFull and HasSpace belong to the
// producer, Available, IsEmpty, HasContent and the Peek family to the
// consumer. Capacity and Size are safe from either side.
type Ring struct {
	data []byte
	size uint32 // capacity
	wrap uint32 // 2*size, indices run in [0, wrap)

	w atomic.Uint32 // committed write index
	r atomic.Uint32 // committed read index

	// producer side
	wPending uint32
	wDepth   int
	wMarks   [maxDepth]uint32

	// consumer side
	rPending uint32
	rDepth   int
	rMarks   [maxDepth]uint32
}

// NewRing returns an empty Ring holding up to capacity bytes.
// It panics if capacity is not in [1, MaxCapacity].
func NewRing(capacity int) *Ring {
	if capacity < 1 || capacity > MaxCapacity {
		panic(fmt.Sprintf("buffer: invalid ring capacity %d", capacity))
	}
	return &Ring{
		data: make([]byte, capacity),
		size: uint32(capacity),
		wrap: 2 * uint32(capacity),
	}
}

func (b *Ring) used() uint32 {
	return (b.w.Load() + b.wrap - b.r.Load()) % b.wrap
}

// Capacity returns the fixed number of bytes the ring can hold.
func (b *Ring) Capacity() int { return int(b.size) }

// Size returns the number of committed bytes.
func (b *Ring) Size() int { return int(b.used()) }

// Space returns how many more bytes the producer can write, taking its
// open transaction into account. Producer side only.
func (b *Ring) Space() int { return int(b.size - b.used() - b.wPending) }

// Available returns how many bytes the consumer can still read, taking its
// open transaction into account. Consumer side only.
func (b *Ring) Available() int { return int(b.used() - b.rPending) }

// IsEmpty reports whether the consumer has nothing left to read.
// Consumer side only.
func (b *Ring) IsEmpty() bool { return b.Available() == 0 }

// IsFull reports whether the producer cannot write another byte.
// Producer side only: it includes the producer's uncommitted bytes.
func (b *Ring) IsFull() bool { return b.Space() == 0 }

// HasSpace is !IsFull. Producer side only.
func (b *Ring) HasSpace() bool { return b.Space() > 0 }

// HasContent is !IsEmpty. Consumer side only.
func (b *Ring) HasContent() bool { return b.Available() > 0 }

// Write appends c. It returns false, doing nothing, when the ring is full.
func (b *Ring) Write(c byte) bool {
	if b.Space() == 0 {
		return false
	}
	b.UncheckedWrite(c)
	return true
}

// UncheckedWrite appends c without checking for space. The caller must
// have verified Space beforehand.
func (b *Ring) UncheckedWrite(c byte) {
	b.data[(b.w.Load()+b.wPending)%b.size] = c
	b.wPending++
	if b.wDepth == 0 {
		b.commitWrite()
	}
}

// WriteBytes appends all of p or nothing.
func (b *Ring) WriteBytes(p []byte) bool {
	if len(p) > b.Space() {
		return false
	}
	b.WriteStart()
	for _, c := range p {
		b.UncheckedWrite(c)
	}
	b.WriteEnd()
	return true
}

// Read removes and returns the next byte. ok is false when nothing is
// available.
func (b *Ring) Read() (c byte, ok bool) {
	if b.Available() == 0 {
		return 0, false
	}
	return b.UncheckedRead(), true
}

// UncheckedRead removes the next byte without checking availability.
func (b *Ring) UncheckedRead() byte {
	c := b.data[(b.r.Load()+b.rPending)%b.size]
	b.rPending++
	if b.rDepth == 0 {
		b.commitRead()
	}
	return c
}

// Peek returns the next byte without consuming it, or 0 if the ring is
// empty.
func (b *Ring) Peek() byte {
	c, _ := b.PeekAt(0)
	return c
}

// PeekAt returns the byte i positions after the read cursor.
func (b *Ring) PeekAt(i int) (byte, bool) {
	if i < 0 || i >= b.Available() {
		return 0, false
	}
	return b.data[(b.r.Load()+b.rPending+uint32(i))%b.size], true
}

// Clear drops every available byte. Consumer side only.
func (b *Ring) Clear() {
	b.skip(b.Available())
	if b.rDepth == 0 {
		b.commitRead()
	}
}

func (b *Ring) skip(n int) {
	b.rPending += uint32(n)
}

// poke overwrites an uncommitted byte at offset off from the committed
// write index.
func (b *Ring) poke(off uint32, c byte) {
	b.data[(b.w.Load()+off)%b.size] = c
}

func (b *Ring) WriteStart() {
	if b.wDepth == maxDepth {
		panic("buffer: write transactions nested too deep")
	}
	b.wMarks[b.wDepth] = b.wPending
	b.wDepth++
}

// WriteEnd closes the innermost write transaction. Only closing the
// outermost one makes the written bytes visible to the consumer.
func (b *Ring) WriteEnd() {
	if b.wDepth == 0 {
		return
	}
	b.wDepth--
	if b.wDepth == 0 {
		b.commitWrite()
	}
}

// WriteAbort discards everything written since the matching WriteStart.
func (b *Ring) WriteAbort() {
	if b.wDepth == 0 {
		return
	}
	b.wDepth--
	b.wPending = b.wMarks[b.wDepth]
}

func (b *Ring) ReadStart() {
	if b.rDepth == maxDepth {
		panic("buffer: read transactions nested too deep")
	}
	b.rMarks[b.rDepth] = b.rPending
	b.rDepth++
}

// ReadEnd closes the innermost read transaction. Only closing the
// outermost one frees the read bytes for the producer.
func (b *Ring) ReadEnd() {
	if b.rDepth == 0 {
		return
	}
	b.rDepth--
	if b.rDepth == 0 {
		b.commitRead()
	}
}

// ReadAbort puts back everything read since the matching ReadStart.
func (b *Ring) ReadAbort() {
	if b.rDepth == 0 {
		return
	}
	b.rDepth--
	b.rPending = b.rMarks[b.rDepth]
}

func (b *Ring) commitWrite() {
	b.w.Store((b.w.Load() + b.wPending) % b.wrap)
	b.wPending = 0
}

func (b *Ring) commitRead() {
	b.r.Store((b.r.Load() + b.rPending) % b.wrap)
	b.rPending = 0
}
