package rfstate

import (
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

// RxState mirrors a value owned by another node. Every state packet is
// acked twice; there is no dedup, the second ack covers a lost first one.
type RxState[T comparable] struct {
	session
	in       *stream.Format[Packet[T]]
	value    T
	seq      uint8
	cleared  bool
	onChange func(T)
}

func NewRxState[T comparable](r radio.Radio, clock task.Clock, body *stream.Message[T], nodeID uint16, opts ...Option) *RxState[T] {
	s := &RxState[T]{
		session: newSession(r, clock, nodeID, opts),
		cleared: true,
	}
	s.in = WithHeader(s.headers.State, PacketMessage(body))
	return s
}

func (s *RxState[T]) Get() T { return s.value }

func (s *RxState[T]) Seq() uint8 { return s.seq }

// Reset makes the next packet count as a change even if its value is the
// one already held.
func (s *RxState[T]) Reset() { s.cleared = true }

// OnChange registers fn, called from Poll with each new value.
func (s *RxState[T]) OnChange(fn func(T)) { s.onChange = fn }

// IsStateChanged handles the next inbound state packet for this node and
// reports whether it changed the value.
func (s *RxState[T]) IsStateChanged() bool {
	_, changed := s.receive()
	return changed
}

func (s *RxState[T]) receive() (handled, changed bool) {
	if h, ok := s.head(); !ok || h != s.headers.State {
		return false, false
	}
	p, ok := take(&s.session, stream.Codec[Packet[T]](s.in), func(p *Packet[T]) bool {
		return p.NodeID == s.nodeID
	})
	if !ok {
		return false, false
	}
	s.sendAck(p.Seq)
	s.sendAck(p.Seq)
	if !s.cleared && p.Body == s.value {
		return true, false
	}
	s.cleared = false
	s.value = p.Body
	s.seq = p.Seq
	s.log.Debug("state changed", zap.Uint8("seq", p.Seq))
	return true, true
}

// Poll handles one packet. It stays Busy after a packet so queued ones
// are handled on the next pass.
func (s *RxState[T]) Poll() task.State {
	handled, changed := s.receive()
	if changed && s.onChange != nil {
		s.onChange(s.value)
	}
	if handled {
		return task.Working()
	}
	return task.Sleep(task.Idle)
}
