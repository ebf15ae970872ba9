package stream

import (
	"bytes"
	"math"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestVarint_MatchesProtowire(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 300, 16383, 16384, 1 << 21, 1 << 28, math.MaxUint32}
	for _, x := range values {
		b := NewWriter(make([]byte, 8))
		if !WriteVarint(b, x) {
			t.Fatalf("WriteVarint(%d) failed", x)
		}
		if want := protowire.AppendVarint(nil, uint64(x)); !bytes.Equal(b.Bytes(), want) {
			t.Errorf("WriteVarint(%d) = % x, want % x", x, b.Bytes(), want)
		}
		got, st := ReadVarint(b)
		if st != Valid || got != x {
			t.Errorf("ReadVarint = %d %v, want %d", got, st, x)
		}
	}
}

func TestReadVarint_Errors(t *testing.T) {
	cases := []struct {
		in   []byte
		want Status
	}{
		{nil, Incomplete},
		{[]byte{0x80}, Incomplete},
		{[]byte{0xff, 0xff, 0xff, 0xff}, Incomplete},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x1f}, Invalid},
		{[]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, Invalid},
	}
	for _, c := range cases {
		src := NewReader(c.in)
		if _, st := ReadVarint(src); st != c.want {
			t.Errorf("ReadVarint(% x) = %v, want %v", c.in, st, c.want)
		}
		if src.Available() != len(c.in) {
			t.Errorf("ReadVarint(% x) consumed input", c.in)
		}
	}
}

func TestWriteVarint_NoSpace(t *testing.T) {
	b := NewWriter(make([]byte, 1))
	if WriteVarint(b, 300) || b.Available() != 0 {
		t.Error("WriteVarint wrote a partial varint")
	}
}

func TestZigZag(t *testing.T) {
	cases := []struct {
		v int32
		u uint32
	}{
		{0, 0}, {-1, 1}, {1, 2}, {-2, 3}, {2, 4},
		{math.MaxInt32, math.MaxUint32 - 1}, {math.MinInt32, math.MaxUint32},
	}
	for _, c := range cases {
		if got := ZigZag(c.v); got != c.u {
			t.Errorf("ZigZag(%d) = %d, want %d", c.v, got, c.u)
		}
		if got := UnZigZag(c.u); got != c.v {
			t.Errorf("UnZigZag(%d) = %d, want %d", c.u, got, c.v)
		}
		if got := protowire.EncodeZigZag(int64(c.v)); uint32(got) != c.u {
			t.Errorf("protowire.EncodeZigZag(%d) = %d", c.v, got)
		}
	}
}

type position struct {
	X uint8
}

type report struct {
	Node uint16
	Temp int16
	On   bool
	Pos  position
}

var positionMsg = NewMessage(
	Uint(1, func(p *position) *uint8 { return &p.X }),
)

var reportMsg = NewMessage(
	Uint(1, func(r *report) *uint16 { return &r.Node }),
	Int(2, func(r *report) *int16 { return &r.Temp }),
	Bool(3, func(r *report) *bool { return &r.On }),
	Nested(4, positionMsg, func(r *report) *position { return &r.Pos }),
)

func TestMessage_RoundTrip(t *testing.T) {
	want := report{Node: 1234, Temp: -273, On: true, Pos: position{X: 200}}
	enc, ok := Marshal[report](reportMsg, &want, make([]byte, 64))
	if !ok {
		t.Fatal("Marshal failed")
	}
	var got report
	if st := Unmarshal[report](reportMsg, enc, &got); st != Valid {
		t.Fatalf("Unmarshal = %v", st)
	}
	if got != want {
		t.Errorf("Unmarshal = %+v, want %+v", got, want)
	}
}

func TestMessage_WireCompatible(t *testing.T) {
	v := report{Node: 300, Temp: -2, On: true, Pos: position{X: 5}}
	enc, _ := Marshal[report](reportMsg, &v, make([]byte, 64))

	var want []byte
	want = protowire.AppendTag(want, 1, protowire.VarintType)
	want = protowire.AppendVarint(want, 300)
	want = protowire.AppendTag(want, 2, protowire.VarintType)
	want = protowire.AppendVarint(want, protowire.EncodeZigZag(-2))
	want = protowire.AppendTag(want, 3, protowire.VarintType)
	want = protowire.AppendVarint(want, 1)
	want = protowire.AppendTag(want, 4, protowire.BytesType)
	want = protowire.AppendBytes(want, []byte{0x08, 0x05})
	if !bytes.Equal(enc, want) {
		t.Errorf("Marshal = % x, want % x", enc, want)
	}
}

func TestMessage_OrderUnknownAndLastWins(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte{0x08, 0x01})
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 0)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 999)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("skip me"))
	b = protowire.AppendTag(b, 11, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, 1)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(7))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, 2)

	var got report
	if st := Unmarshal[report](reportMsg, b, &got); st != Valid {
		t.Fatalf("Unmarshal = %v", st)
	}
	want := report{Node: 2, Temp: 7, On: false, Pos: position{X: 1}}
	if got != want {
		t.Errorf("Unmarshal = %+v, want %+v", got, want)
	}
}

func TestMessage_TruncatedNeverValid(t *testing.T) {
	v := report{Node: 60000, Temp: -300, On: true, Pos: position{X: 255}}
	enc, _ := Marshal[report](reportMsg, &v, make([]byte, 64))
	for n := 0; n < len(enc); n++ {
		got := report{Node: 1}
		src := NewReader(enc[:n])
		if st := reportMsg.Read(src, &got); st != Incomplete {
			t.Errorf("Read(%d of %d bytes) = %v, want Incomplete", n, len(enc), st)
		}
		if got.Node != 1 || src.Available() != n {
			t.Errorf("Read(%d bytes) was not rolled back", n)
		}
	}
}

func TestMessage_Invalid(t *testing.T) {
	tag := func(b []byte, n protowire.Number, typ protowire.Type) []byte {
		return protowire.AppendTag(b, n, typ)
	}
	valid := func() []byte {
		var b []byte
		b = tag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
		b = tag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, 0)
		b = tag(b, 4, protowire.BytesType)
		return protowire.AppendBytes(b, []byte{0x08, 0x00})
	}
	cases := map[string][]byte{
		"uint16 overflow": protowire.AppendVarint(tag(valid(), 1, protowire.VarintType), 70000),
		"bool out of range": protowire.AppendVarint(tag(
			protowire.AppendVarint(tag(valid(), 1, protowire.VarintType), 1), 3, protowire.VarintType), 2),
		"wrong wire type": protowire.AppendBytes(tag(valid(), 1, protowire.BytesType), []byte{1}),
		"field zero":      protowire.AppendVarint(tag(valid(), 0, protowire.VarintType), 1),
		"group":           tag(valid(), 12, protowire.StartGroupType),
	}
	for name, b := range cases {
		var got report
		if st := Unmarshal[report](reportMsg, b, &got); st != Invalid {
			t.Errorf("%s: Unmarshal = %v, want Invalid", name, st)
		}
	}

	var got report
	if st := Unmarshal[report](reportMsg, valid(), &got); st != Incomplete {
		t.Errorf("missing field: Unmarshal = %v, want Incomplete", st)
	}
}

func TestMessage_Int8Range(t *testing.T) {
	type small struct{ V int8 }
	m := NewMessage(Int(1, func(s *small) *int8 { return &s.V }))
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(-129))
	var s small
	if st := Unmarshal[small](m, b, &s); st != Invalid {
		t.Errorf("Unmarshal(-129) = %v, want Invalid", st)
	}
	for _, v := range []int8{-128, 0, 127} {
		s := small{V: v}
		enc, _ := Marshal[small](m, &s, make([]byte, 8))
		var got small
		if st := Unmarshal[small](m, enc, &got); st != Valid || got.V != v {
			t.Errorf("round trip %d = %d %v", v, got.V, st)
		}
	}
}

func TestNewMessage_BadFieldNumber(t *testing.T) {
	for _, n := range []int{0, 32} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewMessage accepted field %d", n)
				}
			}()
			NewMessage(Uint(n, func(p *position) *uint8 { return &p.X }))
		}()
	}
}
