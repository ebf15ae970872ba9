// Package radio abstracts the FSK transceiver: inbound packets are queued
// as chunks of a buffer.Framed (header byte first), outbound packets are
// handed over with their header.
package radio

import (
	"errors"
	"sync"

	"github.com/solar3s/rfnode/buffer"
)

// MaxPayload is the largest packet body, header excluded.
const MaxPayload = 64

var ErrPayloadTooLarge = errors.New("payload too large")

type Radio interface {
	// In holds received packets, already CRC-checked, one per chunk.
	In() *buffer.Framed
	// WriteFSK transmits one packet.
	WriteFSK(header byte, payload []byte) error
}

// Frame is one transmitted packet.
type Frame struct {
	Header  byte
	Payload []byte
}

// Stub is an in-memory Radio. Transmitted frames are logged and, once
// Flush is called, delivered to the connected peers.
type Stub struct {
	mu     sync.Mutex
	in     *buffer.Framed
	sent   []Frame
	outbox []Frame
	peers  []*Stub

	// Err, when set, is returned by WriteFSK and nothing is sent.
	Err error
}

func NewStub() *Stub {
	return &Stub{in: buffer.NewFramed(buffer.MaxCapacity)}
}

// Connect makes a and b hear each other.
func Connect(a, b *Stub) {
	a.mu.Lock()
	a.peers = append(a.peers, b)
	a.mu.Unlock()
	b.mu.Lock()
	b.peers = append(b.peers, a)
	b.mu.Unlock()
}

func (s *Stub) In() *buffer.Framed { return s.in }

func (s *Stub) WriteFSK(header byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	f := Frame{Header: header, Payload: append([]byte(nil), payload...)}
	s.sent = append(s.sent, f)
	s.outbox = append(s.outbox, f)
	return nil
}

// InjectRx queues a received packet.
func (s *Stub) InjectRx(header byte, payload []byte) bool {
	return s.in.Write(append([]byte{header}, payload...))
}

// Sent returns the transmit log.
func (s *Stub) Sent() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.sent...)
}

// TakeSent returns the transmit log and clears it.
func (s *Stub) TakeSent() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.sent
	s.sent = nil
	return out
}

// Flush delivers pending frames to every peer and returns how many frames
// were sent.
func (s *Stub) Flush() int {
	s.mu.Lock()
	out, peers := s.outbox, s.peers
	s.outbox = nil
	s.mu.Unlock()
	for _, f := range out {
		for _, p := range peers {
			p.InjectRx(f.Header, f.Payload)
		}
	}
	return len(out)
}

// Drop loses the pending frames, as a noisy channel would.
func (s *Stub) Drop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.outbox)
	s.outbox = nil
	return n
}
