package rfstate

import (
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

// TxState owns a value and pushes it to its peers. It only ever receives
// acks.
type TxState[T comparable] struct {
	session
	msg   *stream.Message[Packet[T]]
	value T
	seq   uint8
}

// NewTxState sends initial right away.
func NewTxState[T comparable](r radio.Radio, clock task.Clock, body *stream.Message[T], nodeID uint16, initial T, opts ...Option) *TxState[T] {
	s := &TxState[T]{
		session: newSession(r, clock, nodeID, opts),
		msg:     PacketMessage(body),
		value:   initial,
	}
	s.sendState()
	s.resend.start()
	return s
}

func (s *TxState[T]) Get() T { return s.value }

func (s *TxState[T]) Seq() uint8 { return s.seq }

// Set publishes v if it differs from the current value.
func (s *TxState[T]) Set(v T) {
	if v == s.value {
		return
	}
	s.value = v
	s.seq++
	s.sendState()
	s.resend.start()
}

func (s *TxState[T]) sendState() {
	send(&s.session, s.headers.State, s.msg, &Packet[T]{NodeID: s.nodeID, Seq: s.seq, Body: s.value})
}

// Poll consumes an ack for the current send, or resends when the timer
// fired.
func (s *TxState[T]) Poll() task.State {
	handled := false
	if h, ok := s.head(); ok && h == s.headers.Ack && s.resend.armed {
		if _, ok := take(&s.session, s.ackIn, s.matches); ok {
			handled = true
			s.resend.cancel()
			s.log.Debug("acked", zap.Uint8("seq", s.seq))
		}
	}
	if s.resend.due() {
		s.resend.next()
		s.log.Debug("resend", zap.Uint8("seq", s.seq), zap.Int("retry", s.resend.retries))
		s.sendState()
	}
	if handled {
		return task.Working()
	}
	return s.resend.state()
}

func (s *TxState[T]) matches(a *Ack) bool {
	return a.NodeID == s.nodeID && a.Seq == s.seq
}
