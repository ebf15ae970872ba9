package rfstate

import (
	"bytes"
	"testing"
	"time"

	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

type level struct {
	V uint8
}

var levelMsg = stream.NewMessage(stream.Uint(1, func(l *level) *uint8 { return &l.V }))

func encode[T any](t *testing.T, msg *stream.Message[T], v T) []byte {
	t.Helper()
	b, ok := stream.Marshal[T](msg, &v, make([]byte, radio.MaxPayload))
	if !ok {
		t.Fatalf("Marshal(%+v) failed", v)
	}
	return b
}

func injectState(t *testing.T, r *radio.Stub, p Packet[level]) {
	t.Helper()
	r.InjectRx(DefaultHeaders.State, encode(t, PacketMessage(levelMsg), p))
}

func injectAck(t *testing.T, r *radio.Stub, a Ack) {
	t.Helper()
	r.InjectRx(DefaultHeaders.Ack, encode(t, AckMessage, a))
}

func decodeState(t *testing.T, f radio.Frame) Packet[level] {
	t.Helper()
	if f.Header != DefaultHeaders.State {
		t.Fatalf("header = %d, want %d", f.Header, DefaultHeaders.State)
	}
	var p Packet[level]
	if st := stream.Unmarshal[Packet[level]](PacketMessage(levelMsg), f.Payload, &p); st != stream.Valid {
		t.Fatalf("state payload % x: %v", f.Payload, st)
	}
	return p
}

func decodeAcks(t *testing.T, frames []radio.Frame) []Ack {
	t.Helper()
	var out []Ack
	for _, f := range frames {
		if f.Header != DefaultHeaders.Ack {
			continue
		}
		var a Ack
		if st := stream.Unmarshal[Ack](AckMessage, f.Payload, &a); st != stream.Valid {
			t.Fatalf("ack payload % x: %v", f.Payload, st)
		}
		out = append(out, a)
	}
	return out
}

func TestResendOffset(t *testing.T) {
	cases := map[uint16]uint8{0: 0, 123: 12, 0x1111: 0, 0x000f: 15, 0xf000: 15, 0x1234: 4}
	for id, want := range cases {
		if got := ResendOffset(id); got != want {
			t.Errorf("ResendOffset(%#x) = %d, want %d", id, got, want)
		}
	}
}

func TestResendDelay(t *testing.T) {
	want := []time.Duration{130, 140, 150, 170, 200, 250, 330, 460, 670, 1010, 1560, 1560, 1560}
	for i, w := range want {
		if got := ResendDelay(i, 12); got != w*time.Millisecond {
			t.Errorf("ResendDelay(%d) = %s, want %dms", i, got, w)
		}
	}
}

func TestTxState_ResendUntilAcked(t *testing.T) {
	r := radio.NewStub()
	clock := &task.FakeClock{}
	s := NewTxState(r, clock, levelMsg, 123, level{42})

	sent := r.TakeSent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames on construction, want 1", len(sent))
	}
	first := decodeState(t, sent[0])
	if first != (Packet[level]{NodeID: 123, Seq: 0, Body: level{42}}) {
		t.Errorf("first packet = %+v", first)
	}

	clock.Advance(129 * time.Millisecond)
	if st := s.Poll(); st != task.Until(task.Idle, 130*time.Millisecond) {
		t.Errorf("Poll() = %v", st)
	}
	if n := len(r.TakeSent()); n != 0 {
		t.Fatalf("resent after 129ms")
	}

	clock.Advance(time.Millisecond)
	s.Poll()
	sent = r.TakeSent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames after 130ms, want 1", len(sent))
	}
	if !bytes.Equal(sent[0].Payload, encode(t, PacketMessage(levelMsg), first)) {
		t.Errorf("resend payload differs from the first send")
	}

	clock.Advance(139 * time.Millisecond)
	s.Poll()
	if n := len(r.TakeSent()); n != 0 {
		t.Errorf("second resend came early")
	}
	clock.Advance(time.Millisecond)
	s.Poll()
	if n := len(r.TakeSent()); n != 1 {
		t.Errorf("second resend missing")
	}

	injectAck(t, r, Ack{NodeID: 123, Seq: 0})
	if st := s.Poll(); st.Mode != task.Busy {
		t.Errorf("Poll() consuming the ack = %v, want Busy", st)
	}
	if st := s.Poll(); st != task.Sleep(task.PowerDown) {
		t.Errorf("Poll() after ack = %v", st)
	}
	if s.Pending() {
		t.Error("still pending after ack")
	}
	clock.Advance(time.Hour)
	s.Poll()
	if n := len(r.TakeSent()); n != 0 {
		t.Errorf("sent %d frames after ack", n)
	}
}

func TestTxState_IgnoresForeignAcks(t *testing.T) {
	r := radio.NewStub()
	s := NewTxState(r, &task.FakeClock{}, levelMsg, 7, level{1})
	injectAck(t, r, Ack{NodeID: 8, Seq: 0})
	s.Poll()
	if !s.Pending() {
		t.Fatal("ack for another node cancelled the resend")
	}
	if !r.In().HasContent() {
		t.Error("foreign ack was consumed")
	}
	r.In().Skip()

	injectAck(t, r, Ack{NodeID: 7, Seq: 3})
	s.Poll()
	if !s.Pending() {
		t.Error("ack for another seq cancelled the resend")
	}
}

func TestTxState_Set(t *testing.T) {
	r := radio.NewStub()
	clock := &task.FakeClock{}
	s := NewTxState(r, clock, levelMsg, 1, level{1})
	injectAck(t, r, Ack{NodeID: 1, Seq: 0})
	s.Poll()
	r.TakeSent()

	s.Set(level{1})
	if len(r.TakeSent()) != 0 || s.Pending() {
		t.Error("Set() with the same value sent a packet")
	}

	clock.Advance(time.Second)
	s.Set(level{2})
	sent := r.TakeSent()
	if len(sent) != 1 {
		t.Fatalf("Set() sent %d frames", len(sent))
	}
	if p := decodeState(t, sent[0]); p.Seq != 1 || p.Body.V != 2 {
		t.Errorf("Set() sent %+v", p)
	}
	if s.Retries() != 0 || !s.Pending() {
		t.Errorf("Retries() = %d, Pending() = %v", s.Retries(), s.Pending())
	}
}

func TestTxState_NeverGivesUp(t *testing.T) {
	r := radio.NewStub()
	clock := &task.FakeClock{}
	s := NewTxState(r, clock, levelMsg, 0, level{9})
	r.TakeSent()
	for i := 0; i < 30; i++ {
		clock.Advance(2 * time.Second)
		s.Poll()
	}
	if n := len(r.TakeSent()); n != 30 {
		t.Errorf("resent %d times, want 30", n)
	}
	if s.Retries() != len(delays)-1 {
		t.Errorf("Retries() = %d, want saturation at %d", s.Retries(), len(delays)-1)
	}
}

func TestRxState(t *testing.T) {
	r := radio.NewStub()
	s := NewRxState(r, &task.FakeClock{}, levelMsg, 5)

	var changes []level
	s.OnChange(func(v level) { changes = append(changes, v) })

	injectState(t, r, Packet[level]{NodeID: 5, Seq: 3, Body: level{0}})
	if st := s.Poll(); st != task.Working() {
		t.Errorf("Poll() = %v, want Busy", st)
	}
	if len(changes) != 1 || s.Get() != (level{0}) {
		t.Errorf("first packet not applied: %v", changes)
	}
	acks := decodeAcks(t, r.TakeSent())
	if len(acks) != 2 || acks[0] != (Ack{5, 3}) || acks[1] != (Ack{5, 3}) {
		t.Errorf("acks = %v, want two ack(5/3)", acks)
	}

	injectState(t, r, Packet[level]{NodeID: 5, Seq: 3, Body: level{0}})
	if s.IsStateChanged() {
		t.Error("duplicate reported as a change")
	}
	if n := len(decodeAcks(t, r.TakeSent())); n != 2 {
		t.Errorf("duplicate acked %d times, want 2", n)
	}

	s.Reset()
	injectState(t, r, Packet[level]{NodeID: 5, Seq: 3, Body: level{0}})
	if !s.IsStateChanged() {
		t.Error("Reset() did not force a change")
	}

	injectState(t, r, Packet[level]{NodeID: 6, Seq: 1, Body: level{7}})
	if s.IsStateChanged() || s.Get().V != 0 {
		t.Error("applied a packet for another node")
	}
	if !r.In().HasContent() {
		t.Error("packet for another node was consumed")
	}
	if st := s.Poll(); st != task.Sleep(task.Idle) {
		t.Errorf("Poll() = %v, want Idle", st)
	}
}

func TestRxState_DropsMalformed(t *testing.T) {
	r := radio.NewStub()
	s := NewRxState(r, &task.FakeClock{}, levelMsg, 5)
	r.InjectRx(DefaultHeaders.State, []byte{0x08})
	if s.IsStateChanged() {
		t.Error("malformed packet applied")
	}
	if r.In().HasContent() || r.In().Dropped() != 1 {
		t.Error("malformed packet not dropped")
	}
	if len(r.TakeSent()) != 0 {
		t.Error("malformed packet acked")
	}
}

func TestRxTxState_Sequence(t *testing.T) {
	r := radio.NewStub()
	s := NewRxTxState(r, &task.FakeClock{}, levelMsg, 9, level{0})
	if len(r.TakeSent()) != 0 {
		t.Fatal("RxTxState sent on construction")
	}

	injectState(t, r, Packet[level]{NodeID: 9, Seq: 1, Body: level{5}})
	if !s.IsStateChanged() || s.Get().V != 5 || s.Seq() != 1 {
		t.Fatalf("next sequence not applied: %+v seq %d", s.Get(), s.Seq())
	}
	if acks := decodeAcks(t, r.TakeSent()); len(acks) != 1 || acks[0] != (Ack{9, 1}) {
		t.Errorf("acks = %v", acks)
	}

	injectState(t, r, Packet[level]{NodeID: 9, Seq: 3, Body: level{8}})
	if s.IsStateChanged() || s.Get().V != 5 {
		t.Error("gap applied")
	}
	if n := len(r.TakeSent()); n != 0 {
		t.Errorf("gap acked (%d frames)", n)
	}

	injectState(t, r, Packet[level]{NodeID: 9, Seq: 1, Body: level{5}})
	if s.IsStateChanged() {
		t.Error("duplicate reported as a change")
	}
	if acks := decodeAcks(t, r.TakeSent()); len(acks) != 1 || acks[0] != (Ack{9, 1}) {
		t.Errorf("duplicate acks = %v", acks)
	}

	injectState(t, r, Packet[level]{NodeID: 9, Seq: 1, Body: level{6}})
	if s.IsStateChanged() || s.Get().V != 5 {
		t.Error("conflicting duplicate applied")
	}
	if n := len(r.TakeSent()); n != 0 {
		t.Error("conflicting duplicate acked")
	}
}

func TestRxTxState_SequenceWraps(t *testing.T) {
	r := radio.NewStub()
	s := NewRxTxState(r, &task.FakeClock{}, levelMsg, 9, level{0})
	for i := 1; i <= 256; i++ {
		injectState(t, r, Packet[level]{NodeID: 9, Seq: uint8(i), Body: level{uint8(i % 7)}})
		s.IsStateChanged()
	}
	if s.Seq() != 0 || s.Get().V != 256%7 {
		t.Errorf("Seq() = %d, Get() = %+v", s.Seq(), s.Get())
	}
}

func TestRxTxState_SetAndRequests(t *testing.T) {
	r := radio.NewStub()
	clock := &task.FakeClock{}
	s := NewRxTxState(r, clock, levelMsg, 9, level{0})

	s.Set(level{3})
	if p := decodeState(t, r.TakeSent()[0]); p.Seq != 1 || p.Body.V != 3 {
		t.Errorf("Set() sent %+v", p)
	}
	injectAck(t, r, Ack{NodeID: 9, Seq: 1})
	s.Poll()
	if s.Pending() {
		t.Error("ack did not cancel the resend")
	}

	r.InjectRx(DefaultHeaders.Request, encode(t, RequestMessage, Request{NodeID: 9}))
	s.Poll()
	sent := r.TakeSent()
	if len(sent) != 1 || decodeState(t, sent[0]) != (Packet[level]{NodeID: 9, Seq: 1, Body: level{3}}) {
		t.Fatalf("request answered with %v", sent)
	}
	if !s.Pending() {
		t.Error("answer to a request is not resent")
	}

	r.InjectRx(DefaultHeaders.Request, encode(t, RequestMessage, Request{NodeID: 10}))
	s.Poll()
	if !r.In().HasContent() {
		t.Error("request for another node consumed")
	}
}

func TestRxTxState_RequestLatest(t *testing.T) {
	r := radio.NewStub()
	clock := &task.FakeClock{}
	s := NewRxTxState(r, clock, levelMsg, 0x42, level{0})

	s.RequestLatest()
	sent := r.TakeSent()
	if len(sent) != 1 || sent[0].Header != DefaultHeaders.Request {
		t.Fatalf("RequestLatest sent %v", sent)
	}
	clock.Advance(time.Second)
	s.Poll()
	if sent := r.TakeSent(); len(sent) != 1 || sent[0].Header != DefaultHeaders.Request {
		t.Errorf("request not resent: %v", sent)
	}

	injectState(t, r, Packet[level]{NodeID: 0x42, Seq: 200, Body: level{4}})
	if !s.IsStateChanged() {
		t.Fatal("reply to a request not applied")
	}
	if s.Requesting() || s.Pending() || s.Seq() != 200 {
		t.Errorf("Requesting() = %v, Pending() = %v, Seq() = %d", s.Requesting(), s.Pending(), s.Seq())
	}
	if acks := decodeAcks(t, r.TakeSent()); len(acks) != 1 || acks[0] != (Ack{0x42, 200}) {
		t.Errorf("acks = %v", acks)
	}
}

func TestRxTxState_AckSatisfiesRequest(t *testing.T) {
	r := radio.NewStub()
	s := NewRxTxState(r, &task.FakeClock{}, levelMsg, 3, level{0})
	s.RequestLatest()
	injectAck(t, r, Ack{NodeID: 3, Seq: 0})
	s.Poll()
	if s.Requesting() || s.Pending() {
		t.Error("matching ack did not satisfy the request")
	}
}

// pump polls both ends and delivers their frames until the air is quiet.
// A head packet that a poll left untouched is dropped, as the gateway
// does.
func pump(a, b *radio.Stub, pa, pb task.Task) {
	for i := 0; i < 50; i++ {
		busy := false
		if pa.Poll().Mode == task.Busy {
			busy = true
		} else {
			a.In().Skip()
		}
		if pb.Poll().Mode == task.Busy {
			busy = true
		} else {
			b.In().Skip()
		}
		n := a.Flush() + b.Flush()
		if n == 0 && !busy && !a.In().HasContent() && !b.In().HasContent() {
			return
		}
	}
}

func TestTxRx_OverLossyLink(t *testing.T) {
	a, b := radio.NewStub(), radio.NewStub()
	radio.Connect(a, b)
	clock := &task.FakeClock{}

	tx := NewTxState(a, clock, levelMsg, 77, level{1})
	rx := NewRxState(b, clock, levelMsg, 77)

	a.Drop()
	pump(a, b, tx, rx)
	if !tx.Pending() {
		t.Fatal("lost packet was acked")
	}

	clock.Advance(time.Second)
	pump(a, b, tx, rx)
	if tx.Pending() || rx.Get().V != 1 {
		t.Errorf("Pending() = %v, rx = %+v", tx.Pending(), rx.Get())
	}

	tx.Set(level{2})
	pump(a, b, tx, rx)
	if tx.Pending() || rx.Get().V != 2 {
		t.Errorf("Pending() = %v, rx = %+v", tx.Pending(), rx.Get())
	}
}

func TestRxTx_BothDirections(t *testing.T) {
	a, b := radio.NewStub(), radio.NewStub()
	radio.Connect(a, b)
	clock := &task.FakeClock{}

	sa := NewRxTxState(a, clock, levelMsg, 12, level{0})
	sb := NewRxTxState(b, clock, levelMsg, 12, level{0})

	sa.Set(level{1})
	pump(a, b, sa, sb)
	if sb.Get().V != 1 || sa.Pending() {
		t.Fatalf("a→b: b = %+v, a pending %v", sb.Get(), sa.Pending())
	}

	sb.Set(level{2})
	pump(a, b, sa, sb)
	if sa.Get().V != 2 || sb.Pending() {
		t.Fatalf("b→a: a = %+v, b pending %v", sa.Get(), sb.Pending())
	}
	if sa.Seq() != 2 || sb.Seq() != 2 {
		t.Errorf("Seq() = %d and %d, want 2", sa.Seq(), sb.Seq())
	}
}

func TestWithHeader(t *testing.T) {
	f := WithHeader(DefaultHeaders.Ack, AckMessage)
	in := append([]byte{DefaultHeaders.Ack}, encode(t, AckMessage, Ack{1, 2})...)
	var a Ack
	if st := stream.Unmarshal[Ack](f, in, &a); st != stream.Valid || a != (Ack{1, 2}) {
		t.Errorf("Unmarshal = %v %v", st, a)
	}
	in[0] = DefaultHeaders.State
	if st := stream.Unmarshal[Ack](f, in, &a); st != stream.Invalid {
		t.Errorf("wrong header: %v", st)
	}
}
