// Package gateway runs the host side of the radio network: it drives the
// bridge, decodes remote-control pulses and keeps relay and sensor state in
// sync with the nodes.
package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solar3s/rfnode/buffer"
	"github.com/solar3s/rfnode/pulse"
	"github.com/solar3s/rfnode/radio"
	"github.com/solar3s/rfnode/rfstate"
	"github.com/solar3s/rfnode/task"
)

var ErrUnknownNode = errors.New("unknown node")

// Link is the transceiver the gateway runs on, radio.Bridge in production.
type Link interface {
	radio.Radio
	Poll() task.State
	Pulses() *pulse.Capture
	Ping() (string, time.Duration, error)
	Version() string
	Path() string
	Close() error
}

// Sink stores events, see store.Store.
type Sink interface {
	InsertEvent(ctx context.Context, e Event) error
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithClock(c task.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

func WithSink(s Sink) Option {
	return func(g *Gateway) { g.sink = s }
}

type Gateway struct {
	sync.Mutex
	cfg   Config
	log   *zap.Logger
	clock task.Clock
	loop  *task.Loop
	sink  Sink

	link  Link
	state LinkState
	idle  *buffer.Framed // In() while no link is up

	relays  map[uint16]*rfstate.RxTxState[RelayState]
	sensors map[uint16]*rfstate.RxState[Reading]
	fs20    *pulse.FS20Decoder
	nec     *pulse.NECDecoder

	unclaimed uint64
	recent    []Event

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

// New builds a gateway on link, which may be nil until a Watcher connects
// one.
func New(cfg Config, link Link, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		log:     zap.NewNop(),
		clock:   task.NewSystemClock(),
		idle:    buffer.NewFramed(1),
		relays:  make(map[uint16]*rfstate.RxTxState[RelayState]),
		sensors: make(map[uint16]*rfstate.RxState[Reading]),
		subs:    make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	if link != nil {
		g.link = link
		g.state = Connected
	}

	timing := pulse.Timing{Tick: time.Duration(cfg.Tick)}
	g.fs20 = pulse.NewFS20Decoder(timing, pulse.WithLogger(g.log.Named("fs20")))
	g.nec = pulse.NewNECDecoder(timing, pulse.WithLogger(g.log.Named("nec")))

	r := linkRadio{g}
	sopts := []rfstate.Option{rfstate.WithHeaders(cfg.Headers), rfstate.WithLogger(g.log.Named("rfstate"))}
	for _, id := range cfg.Relays {
		id := id
		s := rfstate.NewRxTxState(r, g.clock, RelayMessage, id, RelayState{}, sopts...)
		s.OnChange(func(v RelayState) { g.publish(relayChanged(id, v)) })
		g.relays[id] = s
	}
	for _, id := range cfg.Sensors {
		id := id
		s := rfstate.NewRxState(r, g.clock, ReadingMessage, id, sopts...)
		s.OnChange(func(v Reading) { g.publish(readingChanged(id, v)) })
		g.sensors[id] = s
	}

	g.loop = task.NewLoop(g.clock, g.log, task.TaskFunc(g.poll))
	if cfg.MaxSleep > 0 {
		g.loop.MaxSleep = time.Duration(cfg.MaxSleep)
	}
	return g
}

// Run drives the gateway until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	g.log.Info("gateway running",
		zap.Uint16s("relays", g.cfg.Relays), zap.Uint16s("sensors", g.cfg.Sensors))
	return g.loop.Run(ctx)
}

// Step polls everything once. Run calls it in a loop.
func (g *Gateway) Step() task.State { return g.loop.Step() }

// Wake cuts the loop's sleep short; the bridge calls it on received bytes.
func (g *Gateway) Wake() { g.loop.Wake() }

func (g *Gateway) poll() task.State {
	g.Lock()
	defer g.Unlock()
	if g.link == nil {
		return task.Sleep(task.Idle)
	}

	st := g.link.Poll().Merge(g.decodePulses())

	claimed := false
	for _, id := range g.cfg.Relays {
		s := g.relays[id].Poll()
		claimed = claimed || s.Mode == task.Busy
		st = st.Merge(s)
	}
	for _, id := range g.cfg.Sensors {
		s := g.sensors[id].Poll()
		claimed = claimed || s.Mode == task.Busy
		st = st.Merge(s)
	}

	// a packet no session took would block the queue
	if in := g.link.In(); !claimed && in.HasContent() {
		h, _ := in.PeekHeader()
		in.Skip()
		g.unclaimed++
		g.log.Debug("dropped unclaimed packet", zap.Uint8("header", h))
		st = st.Merge(task.Working())
	}
	return st
}

func (g *Gateway) decodePulses() task.State {
	c := g.link.Pulses()
	c.OnMax(g.cfg.PulsesPerPoll, func(p pulse.Pulse) {
		g.fs20.Feed(p)
		g.nec.Feed(p)
	})
	var fp pulse.FS20Packet
	for g.fs20.Read(&fp) {
		g.publish(fs20Received(fp))
	}
	var np pulse.NECPacket
	for g.nec.Read(&np) {
		g.publish(necReceived(np))
	}
	if c.HasContent() {
		return task.Working()
	}
	return task.Sleep(task.PowerDown)
}

// SetRelay switches relay node and pushes the change to it.
func (g *Gateway) SetRelay(node uint16, on bool) error {
	g.Lock()
	s, ok := g.relays[node]
	if ok {
		s.Set(RelayState{On: on})
	}
	g.Unlock()
	if !ok {
		return ErrUnknownNode
	}
	g.loop.Wake()
	return nil
}

// RequestLatest asks relay node for its current state.
func (g *Gateway) RequestLatest(node uint16) error {
	g.Lock()
	s, ok := g.relays[node]
	if ok {
		s.RequestLatest()
	}
	g.Unlock()
	if !ok {
		return ErrUnknownNode
	}
	g.loop.Wake()
	return nil
}

// Relay returns the last known state of relay node.
func (g *Gateway) Relay(node uint16) (RelayState, error) {
	g.Lock()
	defer g.Unlock()
	s, ok := g.relays[node]
	if !ok {
		return RelayState{}, ErrUnknownNode
	}
	return s.Get(), nil
}

// Link returns the current link, nil when disconnected.
func (g *Gateway) Link() Link {
	g.Lock()
	defer g.Unlock()
	return g.link
}

func (g *Gateway) State() LinkState {
	g.Lock()
	defer g.Unlock()
	return g.state
}

// Connect switches to link l, then resynchronizes every session since
// the nodes may have changed while the link was down.
func (g *Gateway) Connect(l Link) {
	g.Lock()
	if g.link != nil && g.link != l {
		g.closeLink()
	}
	g.link = l
	g.setState(Connected, nil)
	for _, id := range g.cfg.Relays {
		g.relays[id].RequestLatest()
	}
	for _, id := range g.cfg.Sensors {
		g.sensors[id].Reset()
	}
	g.Unlock()
	g.loop.Wake()
}

// Disconnect closes the link and records why.
func (g *Gateway) Disconnect(st LinkState, err error) {
	g.Lock()
	defer g.Unlock()
	if g.link != nil {
		g.setState(st, err)
		g.closeLink()
	}
}

// Close closes the link. The gateway stays usable by a later Connect.
func (g *Gateway) Close() error {
	g.Lock()
	defer g.Unlock()
	if g.link == nil {
		return nil
	}
	err := g.link.Close()
	g.link = nil
	g.state = Disconnected
	return err
}

func (g *Gateway) closeLink() {
	g.log.Info("closing link", zap.String("device", g.link.Path()))
	if err := g.link.Close(); err != nil {
		g.log.Warn("closing link", zap.Error(err))
	}
	g.link = nil
}

// setState records a link state change. Caller holds the lock.
func (g *Gateway) setState(st LinkState, err error) {
	if st == g.state && err == nil {
		return
	}
	g.state = st
	dev := ""
	if g.link != nil {
		dev = g.link.Path()
	}
	g.publish(linkChanged(st, dev, err))
}

// Subscribe returns a feed of events and a func to cancel it. A slow
// subscriber misses events rather than stalling the gateway.
func (g *Gateway) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	g.subMu.Lock()
	g.subs[ch] = struct{}{}
	g.subMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.subMu.Lock()
			delete(g.subs, ch)
			g.subMu.Unlock()
			close(ch)
		})
	}
}

// publish records e. Caller holds the lock.
func (g *Gateway) publish(e Event) {
	g.log.Info("event",
		zap.Stringer("kind", e.Kind), zap.Uint16("node", e.Node), zap.String("status", e.Status))

	if n := g.cfg.HistorySize; n > 0 {
		if len(g.recent) >= n {
			g.recent = append(g.recent[:0], g.recent[len(g.recent)-n+1:]...)
		}
		g.recent = append(g.recent, e)
	}
	if g.sink != nil {
		if err := g.sink.InsertEvent(context.Background(), e); err != nil {
			g.log.Warn("storing event", zap.Error(err))
		}
	}

	g.subMu.Lock()
	for ch := range g.subs {
		select {
		case ch <- e:
		default:
		}
	}
	g.subMu.Unlock()
}

// linkRadio is the Radio the sessions use: whatever link is current.
// Sessions only run with the gateway lock held.
type linkRadio struct {
	g *Gateway
}

func (r linkRadio) In() *buffer.Framed {
	if r.g.link == nil {
		return r.g.idle
	}
	return r.g.link.In()
}

func (r linkRadio) WriteFSK(header byte, payload []byte) error {
	g := r.g
	if g.link == nil {
		return radio.ErrClosedPort
	}
	err := g.link.WriteFSK(header, payload)
	if err != nil && !errors.Is(err, radio.ErrPayloadTooLarge) && g.state != WriteError {
		g.setState(WriteError, err)
	}
	return err
}
