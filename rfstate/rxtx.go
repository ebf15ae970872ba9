package rfstate

import (
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

// RxTxState is a value both ends may change. Local changes are sent like
// TxState does; remote ones are applied only in sequence: seq+1 is a new
// value, seq with the same body is a duplicate that is acked again, and
// anything else is dropped unacked until the sender resends or
// RequestLatest resynchronizes.
type RxTxState[T comparable] struct {
	session
	out        *stream.Message[Packet[T]]
	in         *stream.Format[Packet[T]]
	value      T
	seq        uint8
	sending    bool // a local value awaits its ack
	requesting bool // a Request awaits any state
	onChange   func(T)
}

// NewRxTxState starts from initial without sending it.
func NewRxTxState[T comparable](r radio.Radio, clock task.Clock, body *stream.Message[T], nodeID uint16, initial T, opts ...Option) *RxTxState[T] {
	s := &RxTxState[T]{
		session: newSession(r, clock, nodeID, opts),
		value:   initial,
	}
	s.out = PacketMessage(body)
	s.in = WithHeader(s.headers.State, s.out)
	return s
}

func (s *RxTxState[T]) Get() T { return s.value }

func (s *RxTxState[T]) Seq() uint8 { return s.seq }

// Requesting reports whether a RequestLatest is still unanswered.
func (s *RxTxState[T]) Requesting() bool { return s.requesting }

func (s *RxTxState[T]) OnChange(fn func(T)) { s.onChange = fn }

// Set publishes v if it differs from the current value.
func (s *RxTxState[T]) Set(v T) {
	if v == s.value {
		return
	}
	s.value = v
	s.seq++
	s.sending = true
	s.sendState()
	s.resend.start()
}

// RequestLatest asks the peer for its value. Any well-formed state reply
// is accepted whatever its sequence number.
func (s *RxTxState[T]) RequestLatest() {
	s.requesting = true
	s.sendRequest()
	s.resend.start()
}

func (s *RxTxState[T]) sendState() {
	send(&s.session, s.headers.State, s.out, &Packet[T]{NodeID: s.nodeID, Seq: s.seq, Body: s.value})
}

// IsStateChanged handles the next inbound packet for this session and
// reports whether a remote change was applied.
func (s *RxTxState[T]) IsStateChanged() bool {
	_, changed := s.receive()
	return changed
}

func (s *RxTxState[T]) receive() (handled, changed bool) {
	h, ok := s.head()
	if !ok {
		return false, false
	}
	switch h {
	case s.headers.State:
		p, ok := take(&s.session, stream.Codec[Packet[T]](s.in), func(p *Packet[T]) bool {
			return p.NodeID == s.nodeID
		})
		if !ok {
			return false, false
		}
		return true, s.apply(&p)

	case s.headers.Ack:
		if !s.sending && !s.requesting {
			return false, false
		}
		if _, ok := take(&s.session, s.ackIn, s.matches); !ok {
			return false, false
		}
		s.sending = false
		s.requesting = false
		s.resend.cancel()
		return true, false

	case s.headers.Request:
		if _, ok := take(&s.session, s.reqIn, func(r *Request) bool {
			return r.NodeID == s.nodeID
		}); !ok {
			return false, false
		}
		s.log.Debug("answering request", zap.Uint8("seq", s.seq))
		s.sending = true
		s.sendState()
		s.resend.start()
		return true, false
	}
	return false, false
}

func (s *RxTxState[T]) apply(p *Packet[T]) bool {
	switch {
	case s.requesting:
		s.requesting = false
		s.sending = false
		s.resend.cancel()
	case p.Seq == s.seq+1:
	case p.Seq == s.seq && p.Body == s.value:
		s.sendAck(p.Seq)
		return false
	default:
		s.log.Info("dropped out of sequence state",
			zap.Uint8("seq", p.Seq), zap.Uint8("expected", s.seq+1))
		return false
	}

	s.sendAck(p.Seq)
	s.seq = p.Seq
	if p.Body == s.value {
		return false
	}
	s.value = p.Body
	s.log.Debug("state changed", zap.Uint8("seq", p.Seq))
	return true
}

func (s *RxTxState[T]) matches(a *Ack) bool {
	return a.NodeID == s.nodeID && a.Seq == s.seq
}

// Poll handles one inbound packet and any resend that is due.
func (s *RxTxState[T]) Poll() task.State {
	handled, changed := s.receive()
	if changed && s.onChange != nil {
		s.onChange(s.value)
	}
	if s.resend.due() {
		s.resend.next()
		if s.requesting {
			s.sendRequest()
		}
		if s.sending {
			s.sendState()
		}
	}
	if handled {
		return task.Working()
	}
	return s.resend.state().Merge(task.Sleep(task.Idle))
}
