package rfstate

import (
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

type config struct {
	headers Headers
	log     *zap.Logger
}

// Option configures a state session.
type Option func(*config)

// WithHeaders overrides DefaultHeaders.
func WithHeaders(h Headers) Option {
	return func(c *config) {
		c.headers = h
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		c.log = l
	}
}

// session is what every state kind shares: the link, the node id the
// value belongs to and the resend timer.
type session struct {
	radio   radio.Radio
	headers Headers
	log     *zap.Logger
	nodeID  uint16
	resend  resender

	ackIn *stream.Format[Ack]
	reqIn *stream.Format[Request]
}

func newSession(r radio.Radio, clock task.Clock, nodeID uint16, opts []Option) session {
	c := config{headers: DefaultHeaders, log: zap.NewNop()}
	for _, o := range opts {
		o(&c)
	}
	return session{
		radio:   r,
		headers: c.headers,
		log:     c.log.With(zap.Uint16("node", nodeID)),
		nodeID:  nodeID,
		resend:  resender{clock: clock, offset: ResendOffset(nodeID)},
		ackIn:   WithHeader(c.headers.Ack, AckMessage),
		reqIn:   WithHeader(c.headers.Request, RequestMessage),
	}
}

func (s *session) NodeID() uint16 { return s.nodeID }

// Pending reports whether a send is waiting for its ack.
func (s *session) Pending() bool { return s.resend.armed }

// Retries returns how many resends happened since the last fresh send.
func (s *session) Retries() int { return s.resend.retries }

func send[T any](s *session, header byte, msg *stream.Message[T], v *T) {
	var scratch [radio.MaxPayload]byte
	p, ok := stream.Marshal[T](msg, v, scratch[:])
	if !ok {
		s.log.Error("message does not fit in a packet", zap.Uint8("header", header))
		return
	}
	if err := s.radio.WriteFSK(header, p); err != nil {
		s.log.Warn("send failed", zap.Uint8("header", header), zap.Error(err))
	}
}

func (s *session) sendAck(seq uint8) {
	send(s, s.headers.Ack, AckMessage, &Ack{NodeID: s.nodeID, Seq: seq})
}

func (s *session) sendRequest() {
	send(s, s.headers.Request, RequestMessage, &Request{NodeID: s.nodeID})
}

// head returns the header of the next inbound packet.
func (s *session) head() (byte, bool) {
	return s.radio.In().PeekHeader()
}

// take parses the head chunk with codec. A malformed chunk is dropped;
// a well-formed one is consumed only if keep accepts it, and otherwise
// left for another session.
func take[T any](s *session, codec stream.Codec[T], keep func(*T) bool) (T, bool) {
	var v T
	r := s.radio.In().In()
	defer r.Close()
	if st := codec.Read(r, &v); st != stream.Valid {
		r.Fail()
		s.log.Debug("dropped malformed packet", zap.Stringer("status", st))
		return v, false
	}
	if !keep(&v) {
		r.Release()
		return v, false
	}
	return v, true
}
