package stream

import (
	"fmt"
	"unsafe"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFieldIndex is the highest protobuf field number a Message accepts.
const MaxFieldIndex = 31

// Unsigned and Signed are the integer kinds a Message field can carry.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32
}

type Signed interface {
	~int8 | ~int16 | ~int32
}

// MessageField is one numbered field of a Message.
type MessageField[T any] interface {
	index() int
	wireType() protowire.Type
	read(src Source, v *T) Status
	appendTo(b []byte, v *T) []byte
}

// Message is a protobuf-compatible codec for a subset of the wire format:
// varint scalars (zigzag for signed), bools and nested messages, with field
// numbers 1 to MaxFieldIndex.
//
// Every declared field is required. Fields may come in any order, the last
// occurrence wins and unknown fields are skipped.
type Message[T any] struct {
	fields []MessageField[T]
	byNum  [MaxFieldIndex + 1]int8
	all    uint32
}

// NewMessage builds a Message. It panics on an out-of-range or duplicate
// field number.
func NewMessage[T any](fields ...MessageField[T]) *Message[T] {
	m := &Message[T]{fields: fields}
	for i := range m.byNum {
		m.byNum[i] = -1
	}
	for i, f := range fields {
		n := f.index()
		if n < 1 || n > MaxFieldIndex {
			panic(fmt.Sprintf("stream: field number %d out of range", n))
		}
		if m.byNum[n] >= 0 {
			panic(fmt.Sprintf("stream: duplicate field number %d", n))
		}
		m.byNum[n] = int8(i)
		m.all |= 1 << n
	}
	return m
}

// Read decodes fields until src is exhausted, so src must hold exactly one
// message (a Framed chunk, or the rest of one after a header).
func (m *Message[T]) Read(src Source, v *T) Status {
	src.ReadStart()
	tmp := *v
	if st := m.readInto(src, &tmp); st != Valid {
		src.ReadAbort()
		return st
	}
	src.ReadEnd()
	*v = tmp
	return Valid
}

func (m *Message[T]) readInto(src Source, v *T) Status {
	var seen uint32
	for src.Available() > 0 {
		tag, st := ReadVarint(src)
		if st != Valid {
			return st
		}
		num, wt := tag>>3, protowire.Type(tag&7)
		if num == 0 {
			return Invalid
		}
		if num > MaxFieldIndex || m.byNum[num] < 0 {
			if st := skipValue(src, wt); st != Valid {
				return st
			}
			continue
		}
		f := m.fields[m.byNum[num]]
		if f.wireType() != wt {
			return Invalid
		}
		if st := f.read(src, v); st != Valid {
			return st
		}
		seen |= 1 << num
	}
	if seen != m.all {
		return Incomplete
	}
	return Valid
}

// Write encodes v in field order, all or nothing.
func (m *Message[T]) Write(dst Sink, v *T) bool {
	var tmp [256]byte
	b := m.Append(tmp[:0], v)
	if dst.Space() < len(b) {
		return false
	}
	dst.WriteStart()
	for _, c := range b {
		dst.UncheckedWrite(c)
	}
	dst.WriteEnd()
	return true
}

// Append appends the encoding of v to b.
func (m *Message[T]) Append(b []byte, v *T) []byte {
	for _, f := range m.fields {
		b = f.appendTo(b, v)
	}
	return b
}

func skipValue(src Source, wt protowire.Type) Status {
	n := 0
	switch wt {
	case protowire.VarintType:
		_, st := ReadVarint(src)
		return st
	case protowire.BytesType:
		l, st := ReadVarint(src)
		if st != Valid {
			return st
		}
		n = int(l)
	case protowire.Fixed32Type:
		n = 4
	case protowire.Fixed64Type:
		n = 8
	default:
		return Invalid
	}
	if src.Available() < n {
		return Incomplete
	}
	for i := 0; i < n; i++ {
		src.UncheckedRead()
	}
	return Valid
}

func bitsOf[V Unsigned | Signed]() uint {
	var zero V
	return uint(unsafe.Sizeof(zero)) * 8
}

type uintField[T any, V Unsigned] struct {
	num int
	get func(*T) *V
	max uint32
}

// Uint is an unsigned varint field. Values that do not fit V are Invalid.
func Uint[T any, V Unsigned](num int, get func(*T) *V) MessageField[T] {
	return &uintField[T, V]{num: num, get: get, max: uint32(1<<bitsOf[V]() - 1)}
}

func (f *uintField[T, V]) index() int               { return f.num }
func (f *uintField[T, V]) wireType() protowire.Type { return protowire.VarintType }

func (f *uintField[T, V]) read(src Source, v *T) Status {
	x, st := ReadVarint(src)
	if st != Valid {
		return st
	}
	if x > f.max {
		return Invalid
	}
	*f.get(v) = V(x)
	return Valid
}

func (f *uintField[T, V]) appendTo(b []byte, v *T) []byte {
	b = protowire.AppendTag(b, protowire.Number(f.num), protowire.VarintType)
	return protowire.AppendVarint(b, uint64(*f.get(v)))
}

type intField[T any, V Signed] struct {
	num      int
	get      func(*T) *V
	min, max int32
}

// Int is a zigzag-encoded signed varint field.
func Int[T any, V Signed](num int, get func(*T) *V) MessageField[T] {
	bits := bitsOf[V]()
	return &intField[T, V]{
		num: num,
		get: get,
		min: int32(-1 << (bits - 1)),
		max: int32(1<<(bits-1) - 1),
	}
}

func (f *intField[T, V]) index() int               { return f.num }
func (f *intField[T, V]) wireType() protowire.Type { return protowire.VarintType }

func (f *intField[T, V]) read(src Source, v *T) Status {
	x, st := ReadVarint(src)
	if st != Valid {
		return st
	}
	i := UnZigZag(x)
	if i < f.min || i > f.max {
		return Invalid
	}
	*f.get(v) = V(i)
	return Valid
}

func (f *intField[T, V]) appendTo(b []byte, v *T) []byte {
	b = protowire.AppendTag(b, protowire.Number(f.num), protowire.VarintType)
	return protowire.AppendVarint(b, uint64(ZigZag(int32(*f.get(v)))))
}

type boolField[T any] struct {
	num int
	get func(*T) *bool
}

// Bool is a varint field restricted to 0 and 1.
func Bool[T any](num int, get func(*T) *bool) MessageField[T] {
	return &boolField[T]{num: num, get: get}
}

func (f *boolField[T]) index() int               { return f.num }
func (f *boolField[T]) wireType() protowire.Type { return protowire.VarintType }

func (f *boolField[T]) read(src Source, v *T) Status {
	x, st := ReadVarint(src)
	if st != Valid {
		return st
	}
	if x > 1 {
		return Invalid
	}
	*f.get(v) = x == 1
	return Valid
}

func (f *boolField[T]) appendTo(b []byte, v *T) []byte {
	b = protowire.AppendTag(b, protowire.Number(f.num), protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(*f.get(v)))
}

type nestedField[T, S any] struct {
	num int
	msg *Message[S]
	get func(*T) *S
}

// Nested is a length-delimited sub-message field.
func Nested[T, S any](num int, msg *Message[S], get func(*T) *S) MessageField[T] {
	return &nestedField[T, S]{num: num, msg: msg, get: get}
}

func (f *nestedField[T, S]) index() int { return f.num }

// Nested bodies are length-delimited, the one field kind that is not a
// varint. Standard protobuf decoders read them as embedded messages.
func (f *nestedField[T, S]) wireType() protowire.Type { return protowire.BytesType }

func (f *nestedField[T, S]) read(src Source, v *T) Status {
	n, st := ReadVarint(src)
	if st != Valid {
		return st
	}
	if src.Available() < int(n) {
		return Incomplete
	}
	return f.msg.readInto(&limited{Source: src, n: int(n)}, f.get(v))
}

func (f *nestedField[T, S]) appendTo(b []byte, v *T) []byte {
	var tmp [256]byte
	body := f.msg.Append(tmp[:0], f.get(v))
	b = protowire.AppendTag(b, protowire.Number(f.num), protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

// limited exposes the next n bytes of a Source.
type limited struct {
	Source
	n     int
	marks [8]int
	depth int
}

func (l *limited) Available() int { return min(l.n, l.Source.Available()) }

func (l *limited) Read() (byte, bool) {
	if l.n == 0 {
		return 0, false
	}
	c, ok := l.Source.Read()
	if ok {
		l.n--
	}
	return c, ok
}

func (l *limited) UncheckedRead() byte {
	l.n--
	return l.Source.UncheckedRead()
}

func (l *limited) ReadStart() {
	l.marks[l.depth] = l.n
	l.depth++
	l.Source.ReadStart()
}

func (l *limited) ReadEnd() {
	l.depth--
	l.Source.ReadEnd()
}

func (l *limited) ReadAbort() {
	l.depth--
	l.n = l.marks[l.depth]
	l.Source.ReadAbort()
}
