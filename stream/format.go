package stream

import (
	"unsafe"

	"github.com/solar3s/rfnode/buffer"
)

// Integer is the set of fixed-width integer types a Scalar can carry.
type Integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Field describes one element of a Format over values of type T.
type Field[T any] interface {
	// size returns the encoded size of a fixed-size field, or -1.
	size() int
	read(src Source, v *T) Status
	write(dst Sink, v *T) bool
}

// segment is either a run of fixed-size fields sharing one bounds check,
// or a single variable-size field (fixed < 0).
type segment[T any] struct {
	fixed  int
	fields []Field[T]
}

// Format is an ordered list of fields. Runs of adjacent fixed-size fields
// are checked for availability once and then read or written unchecked.
type Format[T any] struct {
	segs   []segment[T]
	prefix int
}

// NewFormat builds a Format from fields. A Chunk field commits into its
// target buffer while reading, so it must come last; NewFormat panics
// otherwise.
func NewFormat[T any](fields ...Field[T]) *Format[T] {
	f := &Format[T]{}
	for i, fl := range fields {
		if _, ok := fl.(*chunkField[T]); ok && i != len(fields)-1 {
			panic("stream: a Chunk field must be the last field of its format")
		}
		n := fl.size()
		last := len(f.segs) - 1
		switch {
		case n < 0:
			f.segs = append(f.segs, segment[T]{fixed: -1, fields: []Field[T]{fl}})
		case last >= 0 && f.segs[last].fixed >= 0:
			f.segs[last].fixed += n
			f.segs[last].fields = append(f.segs[last].fields, fl)
		default:
			f.segs = append(f.segs, segment[T]{fixed: n, fields: []Field[T]{fl}})
		}
	}
	if len(f.segs) > 0 && f.segs[0].fixed > 0 {
		f.prefix = f.segs[0].fixed
	}
	return f
}

// Size returns the encoded size when every field is fixed-size, or -1.
func (f *Format[T]) Size() int {
	n := 0
	for _, s := range f.segs {
		if s.fixed < 0 {
			return -1
		}
		n += s.fixed
	}
	return n
}

// Read decodes v from src. On anything but Valid the read is rolled back
// and v is left untouched.
func (f *Format[T]) Read(src Source, v *T) Status {
	src.ReadStart()
	tmp := *v
	if st := f.readInto(src, &tmp); st != Valid {
		src.ReadAbort()
		return st
	}
	src.ReadEnd()
	*v = tmp
	return Valid
}

func (f *Format[T]) readInto(src Source, v *T) Status {
	for _, s := range f.segs {
		if s.fixed < 0 {
			if st := s.fields[0].read(src, v); st != Valid {
				return st
			}
			continue
		}
		if src.Available() < s.fixed {
			return Incomplete
		}
		for _, fl := range s.fields {
			fl.read(src, v)
		}
	}
	return Valid
}

// Write encodes v into dst, or writes nothing and returns false.
func (f *Format[T]) Write(dst Sink, v *T) bool {
	if dst.Space() < f.prefix {
		return false
	}
	dst.WriteStart()
	if !f.writeFrom(dst, v) {
		dst.WriteAbort()
		return false
	}
	dst.WriteEnd()
	return true
}

func (f *Format[T]) writeFrom(dst Sink, v *T) bool {
	for _, s := range f.segs {
		if s.fixed < 0 {
			if !s.fields[0].write(dst, v) {
				return false
			}
			continue
		}
		if dst.Space() < s.fixed {
			return false
		}
		for _, fl := range s.fields {
			fl.write(dst, v)
		}
	}
	return true
}

func sizeOf[V Integer]() int {
	var zero V
	return int(unsafe.Sizeof(zero))
}

type scalarField[T any, V Integer] struct {
	get func(*T) *V
	n   int
}

// Scalar is a little-endian integer field.
func Scalar[T any, V Integer](get func(*T) *V) Field[T] {
	return &scalarField[T, V]{get: get, n: sizeOf[V]()}
}

func (f *scalarField[T, V]) size() int { return f.n }

func (f *scalarField[T, V]) read(src Source, v *T) Status {
	*f.get(v) = readInt[V](src, f.n)
	return Valid
}

func (f *scalarField[T, V]) write(dst Sink, v *T) bool {
	writeInt(dst, *f.get(v), f.n)
	return true
}

func readInt[V Integer](src Source, n int) V {
	var u uint64
	for i := 0; i < n; i++ {
		u |= uint64(src.UncheckedRead()) << (8 * i)
	}
	return V(u)
}

func writeInt[V Integer](dst Sink, x V, n int) {
	u := uint64(x)
	for i := 0; i < n; i++ {
		dst.UncheckedWrite(byte(u >> (8 * i)))
	}
}

type arrayField[T any, V Integer] struct {
	get   func(*T) []V
	count int
	n     int
}

// Array is a fixed count of little-endian integers. get must return a
// slice of at least count elements, typically an array field sliced.
func Array[T any, V Integer](count int, get func(*T) []V) Field[T] {
	return &arrayField[T, V]{get: get, count: count, n: sizeOf[V]()}
}

func (f *arrayField[T, V]) size() int { return f.count * f.n }

func (f *arrayField[T, V]) read(src Source, v *T) Status {
	s := f.get(v)
	for i := 0; i < f.count; i++ {
		s[i] = readInt[V](src, f.n)
	}
	return Valid
}

func (f *arrayField[T, V]) write(dst Sink, v *T) bool {
	s := f.get(v)
	for i := 0; i < f.count; i++ {
		writeInt(dst, s[i], f.n)
	}
	return true
}

type conditionalField[T any] struct {
	pred func(*T) bool
	sub  *Format[T]
}

// Conditional includes fields only when pred holds. While reading, pred
// sees the value decoded so far, so it may depend on earlier fields.
func Conditional[T any](pred func(*T) bool, fields ...Field[T]) Field[T] {
	return &conditionalField[T]{pred: pred, sub: NewFormat(fields...)}
}

func (f *conditionalField[T]) size() int { return -1 }

func (f *conditionalField[T]) read(src Source, v *T) Status {
	if !f.pred(v) {
		return Valid
	}
	return f.sub.readInto(src, v)
}

func (f *conditionalField[T]) write(dst Sink, v *T) bool {
	if !f.pred(v) {
		return true
	}
	return f.sub.writeFrom(dst, v)
}

type tokenField[T any] struct {
	lit string
}

// Token matches (and emits) a literal byte sequence.
func Token[T any](lit string) Field[T] {
	return &tokenField[T]{lit: lit}
}

// Byte is a one-byte Token, typically a message header.
func Byte[T any](c byte) Field[T] {
	return &tokenField[T]{lit: string([]byte{c})}
}

func (f *tokenField[T]) size() int { return -1 }

func (f *tokenField[T]) read(src Source, _ *T) Status {
	return matchLiteral(src, f.lit)
}

func (f *tokenField[T]) write(dst Sink, _ *T) bool {
	return writeLiteral(dst, f.lit)
}

func matchLiteral(src Source, lit string) Status {
	for i := 0; i < len(lit); i++ {
		c, ok := src.Read()
		if !ok {
			if i > 0 {
				return Partial
			}
			return Incomplete
		}
		if c != lit[i] {
			return Invalid
		}
	}
	return Valid
}

func writeLiteral(dst Sink, lit string) bool {
	if dst.Space() < len(lit) {
		return false
	}
	for i := 0; i < len(lit); i++ {
		dst.UncheckedWrite(lit[i])
	}
	return true
}

type subField[T, S any] struct {
	get   func(*T) *S
	codec Codec[S]
}

// Sub embeds another codec, for instance a protobuf Message after a header
// Token.
func Sub[T, S any](get func(*T) *S, codec Codec[S]) Field[T] {
	return &subField[T, S]{get: get, codec: codec}
}

func (f *subField[T, S]) size() int { return -1 }

func (f *subField[T, S]) read(src Source, v *T) Status {
	return f.codec.Read(src, f.get(v))
}

func (f *subField[T, S]) write(dst Sink, v *T) bool {
	return f.codec.Write(dst, f.get(v))
}

type chunkField[T any] struct {
	sep *Format[T]
	get func(*T) *buffer.Framed
}

// Chunk is a length-prefixed blob: 1 to 3 ASCII decimal digits, the
// separator fields, then that many bytes. Reading copies the bytes as one
// chunk into the target buffer; writing moves the head chunk of the target
// buffer into dst.
func Chunk[T any](get func(*T) *buffer.Framed, sep ...Field[T]) Field[T] {
	return &chunkField[T]{sep: NewFormat(sep...), get: get}
}

func (f *chunkField[T]) size() int { return -1 }

func (f *chunkField[T]) read(src Source, v *T) Status {
	n, st := readDecimal(src)
	if st != Valid {
		return st
	}
	if st := f.sep.readInto(src, v); st != Valid {
		return st
	}
	if n > buffer.MaxChunk {
		return Invalid
	}
	if src.Available() < n {
		return Incomplete
	}
	w := f.get(v).Out()
	for i := 0; i < n; i++ {
		w.Write(src.UncheckedRead())
	}
	if !w.Close() {
		return Invalid
	}
	return Valid
}

func (f *chunkField[T]) write(dst Sink, v *T) bool {
	r := f.get(v).In()
	defer r.Close()
	n := r.Available()

	var digits [3]byte
	d := len(digits)
	for x := n; ; x /= 10 {
		d--
		digits[d] = '0' + byte(x%10)
		if x < 10 {
			break
		}
	}
	if dst.Space() < len(digits)-d {
		r.Release()
		return false
	}
	for _, c := range digits[d:] {
		dst.UncheckedWrite(c)
	}
	if !f.sep.writeFrom(dst, v) || dst.Space() < n {
		r.Release()
		return false
	}
	for i := 0; i < n; i++ {
		dst.UncheckedWrite(r.UncheckedRead())
	}
	return true
}

// readDecimal reads 1 to 3 ASCII digits.
func readDecimal(src Source) (int, Status) {
	c, ok := src.Read()
	if !ok {
		return 0, Incomplete
	}
	if c < '0' || c > '9' {
		return 0, Invalid
	}
	n := int(c - '0')
	for i := 1; i < 3; i++ {
		src.ReadStart()
		c, ok := src.Read()
		if !ok {
			src.ReadAbort()
			return 0, Incomplete
		}
		if c < '0' || c > '9' {
			src.ReadAbort()
			break
		}
		src.ReadEnd()
		n = n*10 + int(c-'0')
	}
	return n, Valid
}
