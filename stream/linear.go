package stream

import "github.com/solar3s/rfnode/buffer"

// Buffer is a linear Source and Sink over a byte slice, for encoding into
// plain memory and decoding frames received as a whole. It is not safe for
// concurrent use.
type Buffer struct {
	data   []byte
	r, w   int
	rMarks []int
	wMarks []int
}

// NewReader returns a Buffer holding p as readable content.
func NewReader(p []byte) *Buffer {
	return &Buffer{data: p, w: len(p)}
}

// NewWriter returns an empty Buffer that accepts up to len(p) bytes.
func NewWriter(p []byte) *Buffer {
	return &Buffer{data: p}
}

// Bytes returns the unread content.
func (b *Buffer) Bytes() []byte { return b.data[b.r:b.w] }

func (b *Buffer) Available() int { return b.w - b.r }
func (b *Buffer) Space() int     { return len(b.data) - b.w }

func (b *Buffer) Read() (byte, bool) {
	if b.r == b.w {
		return 0, false
	}
	return b.UncheckedRead(), true
}

func (b *Buffer) UncheckedRead() byte {
	c := b.data[b.r]
	b.r++
	return c
}

func (b *Buffer) Write(c byte) bool {
	if b.w == len(b.data) {
		return false
	}
	b.UncheckedWrite(c)
	return true
}

func (b *Buffer) UncheckedWrite(c byte) {
	b.data[b.w] = c
	b.w++
}

func (b *Buffer) ReadStart() { b.rMarks = append(b.rMarks, b.r) }
func (b *Buffer) ReadEnd()   { b.rMarks = b.rMarks[:len(b.rMarks)-1] }

func (b *Buffer) ReadAbort() {
	b.r = b.rMarks[len(b.rMarks)-1]
	b.rMarks = b.rMarks[:len(b.rMarks)-1]
}

func (b *Buffer) WriteStart() { b.wMarks = append(b.wMarks, b.w) }
func (b *Buffer) WriteEnd()   { b.wMarks = b.wMarks[:len(b.wMarks)-1] }

func (b *Buffer) WriteAbort() {
	b.w = b.wMarks[len(b.wMarks)-1]
	b.wMarks = b.wMarks[:len(b.wMarks)-1]
}

// Marshal encodes v into scratch and returns the encoded prefix.
func Marshal[T any](c Codec[T], v *T, scratch []byte) ([]byte, bool) {
	b := NewWriter(scratch)
	if !c.Write(b, v) {
		return nil, false
	}
	return b.Bytes(), true
}

// Unmarshal decodes v from p.
func Unmarshal[T any](c Codec[T], p []byte, v *T) Status {
	return c.Read(NewReader(p), v)
}

// ReadChunk decodes the head chunk of f into v. The chunk is consumed
// unless it is Incomplete because f is empty; a chunk that does not parse
// is dropped and counted.
func ReadChunk[T any](f *buffer.Framed, c Codec[T], v *T) Status {
	if !f.HasContent() {
		return Incomplete
	}
	r := f.In()
	defer r.Close()
	st := c.Read(r, v)
	if st != Valid {
		r.Fail()
	}
	return st
}

// WriteChunk encodes v as one chunk of f.
func WriteChunk[T any](f *buffer.Framed, c Codec[T], v *T) bool {
	w := f.Out()
	if !c.Write(w, v) {
		w.Fail()
	}
	return w.Close()
}
