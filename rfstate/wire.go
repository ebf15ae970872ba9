// Package rfstate keeps a value in sync between radio nodes over a lossy
// channel. Every change carries a sequence number, is acknowledged by the
// receiver and resent with a growing delay until it is.
package rfstate

import (
	"fmt"

	"github.com/solar3s/rfnode/stream"
)

// Headers are the packet type bytes sent ahead of each message. Both ends
// must agree on them.
type Headers struct {
	State   byte `toml:"state" yaml:"state" json:"state"`
	Ack     byte `toml:"ack" yaml:"ack" json:"ack"`
	Request byte `toml:"request" yaml:"request" json:"request"`
}

var DefaultHeaders = Headers{State: 3, Ack: 4, Request: 5}

// Packet carries one version of a value.
type Packet[T any] struct {
	NodeID uint16
	Seq    uint8
	Body   T
}

type Ack struct {
	NodeID uint16
	Seq    uint8
}

func (a Ack) String() string { return fmt.Sprintf("ack(%d/%d)", a.NodeID, a.Seq) }

// Request asks the owner of a value to send it again.
type Request struct {
	NodeID uint16
}

// PacketMessage is the wire layout of Packet[T]: node id, sequence number
// and the body as a nested message.
func PacketMessage[T any](body *stream.Message[T]) *stream.Message[Packet[T]] {
	return stream.NewMessage(
		stream.Uint(1, func(p *Packet[T]) *uint16 { return &p.NodeID }),
		stream.Uint(2, func(p *Packet[T]) *uint8 { return &p.Seq }),
		stream.Nested(3, body, func(p *Packet[T]) *T { return &p.Body }),
	)
}

var AckMessage = stream.NewMessage(
	stream.Uint(1, func(a *Ack) *uint16 { return &a.NodeID }),
	stream.Uint(2, func(a *Ack) *uint8 { return &a.Seq }),
)

var RequestMessage = stream.NewMessage(
	stream.Uint(1, func(r *Request) *uint16 { return &r.NodeID }),
)

// WithHeader prefixes a message codec with its header byte, giving the
// layout of a received radio chunk.
func WithHeader[T any](header byte, msg *stream.Message[T]) *stream.Format[T] {
	return stream.NewFormat(
		stream.Byte[T](header),
		stream.Sub(func(v *T) *T { return v }, stream.Codec[T](msg)),
	)
}
