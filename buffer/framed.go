package buffer

import "sync/atomic"

// MaxChunk is the largest chunk payload a Framed buffer can carry.
const MaxChunk = MaxCapacity - 1

// Framed queues whole chunks (messages) on top of a Ring. Every chunk is
// written inside one write transaction and stored behind a length byte
// that is filled in when the transaction commits, so a reader never sees a
// partial chunk and never reads across a chunk boundary.
//
// Like Ring, a Framed buffer supports one producer and one consumer.
type Framed struct {
	ring    *Ring
	w       Writer
	r       Reader
	dropped atomic.Uint32
}

// NewFramed returns a Framed buffer backed by a Ring of the given capacity
// (length bytes included).
func NewFramed(capacity int) *Framed {
	f := &Framed{ring: NewRing(capacity)}
	f.w.f = f
	f.r.f = f
	return f
}

func (f *Framed) Capacity() int { return f.ring.Capacity() }

// Size returns the committed bytes, length prefixes included.
func (f *Framed) Size() int { return f.ring.Size() }

// HasContent reports whether at least one complete chunk is queued.
func (f *Framed) HasContent() bool { return f.ring.Available() > 0 }

// Dropped returns how many chunks were discarded as malformed.
func (f *Framed) Dropped() uint32 { return f.dropped.Load() }

// PeekHeader returns the first payload byte of the head chunk without
// consuming anything.
func (f *Framed) PeekHeader() (byte, bool) {
	n, ok := f.ring.PeekAt(0)
	if !ok || n == 0 {
		return 0, false
	}
	return f.ring.PeekAt(1)
}

// Skip drops the head chunk. It reports whether there was one.
func (f *Framed) Skip() bool {
	if !f.HasContent() {
		return false
	}
	f.In().Close()
	return true
}

// Write queues p as one chunk, or nothing.
func (f *Framed) Write(p []byte) bool {
	if len(p) > MaxChunk {
		return false
	}
	w := f.Out()
	for _, c := range p {
		if !w.Write(c) {
			break
		}
	}
	return w.Close()
}

// ReadChunk copies the head chunk into p and consumes it. If p is too
// small the chunk stays queued and n is the size it needs.
func (f *Framed) ReadChunk(p []byte) (n int, ok bool) {
	r := f.In()
	n = r.Available()
	if r.empty || n > len(p) {
		r.Release()
		r.Close()
		return n, false
	}
	for i := 0; i < n; i++ {
		p[i] = r.UncheckedRead()
	}
	r.Close()
	return n, true
}

// Out opens the chunk writer. Only one writer can be open at a time.
func (f *Framed) Out() *Writer {
	w := &f.w
	w.open = true
	w.failed = false
	f.ring.WriteStart()
	w.start = f.ring.wPending
	if !f.ring.Write(0) {
		w.failed = true
	}
	return w
}

// In opens a reader on the head chunk. Only one reader can be open at a
// time.
func (f *Framed) In() *Reader {
	r := &f.r
	r.open = true
	r.failed = false
	r.release = false
	f.ring.ReadStart()
	r.start = f.ring.rPending
	n, ok := f.ring.Read()
	r.empty = !ok
	r.length = uint32(n)
	return r
}

// Writer fills one chunk. Close commits it unless a write failed.
type Writer struct {
	f      *Framed
	open   bool
	failed bool
	start  uint32
}

// Len returns the payload bytes written so far.
func (w *Writer) Len() int {
	return int(w.f.ring.wPending - w.start - 1)
}

func (w *Writer) Failed() bool { return w.failed }

// Fail marks the chunk as failed; Close will discard it.
func (w *Writer) Fail() { w.failed = true }

func (w *Writer) Space() int {
	if !w.open || w.failed {
		return 0
	}
	return min(w.f.ring.Space(), MaxChunk-w.Len())
}

func (w *Writer) Write(c byte) bool {
	if w.Space() == 0 {
		w.failed = true
		return false
	}
	w.f.ring.UncheckedWrite(c)
	return true
}

func (w *Writer) UncheckedWrite(c byte) { w.f.ring.UncheckedWrite(c) }

func (w *Writer) WriteStart() { w.f.ring.WriteStart() }
func (w *Writer) WriteEnd()   { w.f.ring.WriteEnd() }
func (w *Writer) WriteAbort() { w.f.ring.WriteAbort() }

// Close commits the chunk, or discards it if any write failed. It reports
// whether the chunk was queued.
func (w *Writer) Close() bool {
	if !w.open {
		return false
	}
	w.open = false
	if w.failed {
		w.f.ring.WriteAbort()
		return false
	}
	w.f.ring.poke(w.start, byte(w.Len()))
	w.f.ring.WriteEnd()
	return true
}

// Reader reads one chunk. Close consumes the chunk whatever was read from
// it, unless Release was called.
type Reader struct {
	f       *Framed
	open    bool
	empty   bool
	failed  bool
	release bool
	start   uint32
	length  uint32
}

// Available returns the bytes left in the current chunk.
func (r *Reader) Available() int {
	if !r.open || r.empty {
		return 0
	}
	consumed := r.f.ring.rPending - r.start - 1
	if consumed >= r.length {
		return 0
	}
	return int(r.length - consumed)
}

func (r *Reader) Len() int {
	if r.empty {
		return 0
	}
	return int(r.length)
}

func (r *Reader) Read() (byte, bool) {
	if r.Available() == 0 {
		return 0, false
	}
	return r.f.ring.UncheckedRead(), true
}

func (r *Reader) UncheckedRead() byte { return r.f.ring.UncheckedRead() }

func (r *Reader) Peek() byte {
	if r.Available() == 0 {
		return 0
	}
	return r.f.ring.Peek()
}

func (r *Reader) ReadStart() { r.f.ring.ReadStart() }
func (r *Reader) ReadEnd()   { r.f.ring.ReadEnd() }
func (r *Reader) ReadAbort() { r.f.ring.ReadAbort() }

// Fail marks the chunk as malformed. It is still consumed by Close and
// counted in Dropped.
func (r *Reader) Fail() { r.failed = true }

// Release leaves the chunk queued for another consumer.
func (r *Reader) Release() { r.release = true }

// Close ends the read. A released or empty read puts everything back;
// otherwise the rest of the chunk is skipped and the chunk is consumed.
func (r *Reader) Close() {
	if !r.open {
		return
	}
	rest := r.Available()
	r.open = false
	if r.empty || r.release {
		r.f.ring.ReadAbort()
		return
	}
	r.f.ring.skip(rest)
	r.f.ring.ReadEnd()
	if r.failed {
		r.f.dropped.Add(1)
	}
}
