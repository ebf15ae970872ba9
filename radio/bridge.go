package radio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial.v1"
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/buffer"
	"github.com/solar3s/rfnode/pulse"
	"github.com/solar3s/rfnode/stream"
	"github.com/solar3s/rfnode/task"
)

var (
	ErrNoBridgeFound = errors.New("didn't find any bridge on serial ports")
	ErrClosedPort    = errors.New("serial port is closed")
	ErrTimeout       = errors.New("timeout")
)

var DefaultSerialMode = &serial.Mode{
	BaudRate: 57600,
	Parity:   serial.NoParity,
	DataBits: 8,
	StopBits: serial.OneStopBit,
}

var DefaultTimeout = time.Second

// Frame opcodes exchanged with the bridge firmware.
const (
	OpReceived byte = 'R'
	OpPulses   byte = 'P'
	OpVersion  byte = 'V'
	OpTransmit byte = 'T'
	OpPing     byte = '?'
)

// maxFramesPerPoll bounds the work done by one Poll.
const maxFramesPerPoll = 16

// overridden by tests
var (
	openPort  = func(name string, mode *serial.Mode) (io.ReadWriteCloser, error) { return serial.Open(name, mode) }
	listPorts = serial.GetPortsList
)

// bridgeFrames is the decode target of the serial scanner: every frame
// kind moves its payload as one chunk into its own buffer.
type bridgeFrames struct {
	rx      *buffer.Framed
	pulses  *buffer.Framed
	version *buffer.Framed
}

var (
	rxFrame = stream.NewFormat(stream.Byte[bridgeFrames](OpReceived),
		stream.Chunk(func(f *bridgeFrames) *buffer.Framed { return f.rx }, stream.Byte[bridgeFrames](':')))
	pulseFrame = stream.NewFormat(stream.Byte[bridgeFrames](OpPulses),
		stream.Chunk(func(f *bridgeFrames) *buffer.Framed { return f.pulses }, stream.Byte[bridgeFrames](':')))
	versionFrame = stream.NewFormat(stream.Byte[bridgeFrames](OpVersion),
		stream.Chunk(func(f *bridgeFrames) *buffer.Framed { return f.version }, stream.Byte[bridgeFrames](':')))

	txFrame = stream.NewFormat(stream.Byte[bridgeFrames](OpTransmit),
		stream.Chunk(func(f *bridgeFrames) *buffer.Framed { return f.rx }, stream.Byte[bridgeFrames](':')))
)

// Bridge is a Radio reached through an AVR bridge on a serial port. A
// reader goroutine copies serial bytes into a ring that Poll decodes;
// received packets land in In() and raw pulses in Pulses().
type Bridge struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	port io.ReadWriteCloser
	path string
	log  *zap.Logger
	wake func()

	raw    *buffer.Ring
	in     *buffer.Framed
	pulses *pulse.Capture
	frames bridgeFrames

	pollMu sync.Mutex // serializes the consumer side of raw

	txMu sync.Mutex
	tx   *buffer.Framed

	versions  chan string
	wrChan    chan []byte
	errChan   chan error
	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	version string
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

func WithBridgeLogger(l *zap.Logger) BridgeOption {
	return func(b *Bridge) { b.log = l }
}

// OnReceive registers fn, called by the reader goroutine after each read.
// The gateway passes its loop's Wake.
func OnReceive(fn func()) BridgeOption {
	return func(b *Bridge) { b.wake = fn }
}

// WithPulseCapacity sizes the raw pulse FIFO.
func WithPulseCapacity(n int) BridgeOption {
	return func(b *Bridge) { b.pulses = pulse.NewCapture(n) }
}

func NewBridge(port io.ReadWriteCloser, name string, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		ReadTimeout:  DefaultTimeout,
		WriteTimeout: DefaultTimeout,

		port:   port,
		path:   name,
		log:    zap.NewNop(),
		wake:   func() {},
		raw:    buffer.NewRing(buffer.MaxCapacity),
		in:     buffer.NewFramed(buffer.MaxCapacity),
		pulses: pulse.NewCapture(buffer.MaxCapacity / 3),
		frames: bridgeFrames{
			pulses:  buffer.NewFramed(buffer.MaxCapacity),
			version: buffer.NewFramed(buffer.MaxCapacity),
		},
		tx:        buffer.NewFramed(buffer.MaxCapacity),
		versions:  make(chan string, 1),
		wrChan:    make(chan []byte),
		errChan:   make(chan error, 1),
		closeChan: make(chan struct{}),
	}
	b.frames.rx = b.in
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.With(zap.String("port", name))
	return b
}

// OpenBridge opens the serial port name and starts the bridge routines.
// A nil mode means DefaultSerialMode.
func OpenBridge(name string, mode *serial.Mode, opts ...BridgeOption) (*Bridge, error) {
	if mode == nil {
		mode = DefaultSerialMode
	}
	port, err := openPort(name, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	b := NewBridge(port, name, opts...)
	b.Start()
	return b, nil
}

// FindBridge tries every serial port and returns the first one answering
// a ping.
func FindBridge(mode *serial.Mode, opts ...BridgeOption) (*Bridge, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, err
	}
	for _, name := range ports {
		b, err := OpenBridge(name, mode, opts...)
		if err != nil {
			continue
		}
		b.ReadTimeout = 250 * time.Millisecond
		b.WriteTimeout = 250 * time.Millisecond
		v, t, err := b.Ping()
		if err == nil {
			b.log.Info("bridge found", zap.String("version", v), zap.Duration("rtt", t))
			b.ReadTimeout, b.WriteTimeout = DefaultTimeout, DefaultTimeout
			return b, nil
		}
		b.log.Debug("no bridge", zap.Error(err))
		_ = b.Close()
	}
	return nil, ErrNoBridgeFound
}

// Start begins the two routines reading and writing on the serial port.
func (b *Bridge) Start() {
	b.wg.Add(2)
	go func() {
		b.readRoutine()
		b.wg.Done()
	}()
	go func() {
		b.writeRoutine()
		b.wg.Done()
	}()
}

// Close stops the routines and closes the port.
func (b *Bridge) Close() (err error) {
	err = ErrClosedPort
	b.closeOnce.Do(func() {
		close(b.closeChan)
		err = b.port.Close()
		b.wg.Wait()
	})
	return err
}

// Path returns the device name of the serial port.
func (b *Bridge) Path() string { return b.path }

func (b *Bridge) In() *buffer.Framed { return b.in }

// Pulses holds raw pulses forwarded by the bridge.
func (b *Bridge) Pulses() *pulse.Capture { return b.pulses }

// Errors delivers serial read errors, the most recent one only.
func (b *Bridge) Errors() <-chan error { return b.errChan }

// Version returns the firmware version of the last ping reply.
func (b *Bridge) Version() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

func (b *Bridge) WriteFSK(header byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}
	b.txMu.Lock()
	for b.tx.Skip() {
	}
	w := b.tx.Out()
	w.Write(header)
	for _, c := range payload {
		w.Write(c)
	}
	w.Close()
	var scratch [MaxPayload + 8]byte
	p, ok := stream.Marshal[bridgeFrames](txFrame, &bridgeFrames{rx: b.tx}, scratch[:])
	b.txMu.Unlock()
	if !ok {
		return ErrPayloadTooLarge
	}
	return b.write(append([]byte(nil), p...))
}

// Ping asks the bridge for its firmware version and measures the round
// trip.
func (b *Bridge) Ping() (string, time.Duration, error) {
	select {
	case <-b.versions:
	default:
	}
	t0 := time.Now()
	if err := b.write([]byte{OpPing}); err != nil {
		return "", 0, err
	}
	timeout := time.After(b.ReadTimeout)
	for {
		b.Poll()
		select {
		case v := <-b.versions:
			return v, time.Since(t0), nil
		case <-b.closeChan:
			return "", 0, ErrClosedPort
		case <-timeout:
			return "", 0, fmt.Errorf("ping: %w (%s)", ErrTimeout, b.ReadTimeout)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Poll decodes the frames received so far. It is the loop task of the
// bridge.
func (b *Bridge) Poll() task.State {
	b.pollMu.Lock()
	defer b.pollMu.Unlock()

	n := 0
	for ; n < maxFramesPerPoll; n++ {
		// leave room for a full packet, the sessions drain In()
		if b.in.Capacity()-b.in.Size() < MaxPayload+2 {
			break
		}
		i, st := stream.Scan(b.raw,
			stream.Into(rxFrame, &b.frames),
			stream.Into(pulseFrame, &b.frames),
			stream.Into(versionFrame, &b.frames),
		)
		if st != stream.Valid {
			if b.raw.Available() == b.raw.Capacity() {
				// a frame larger than the ring never completes
				b.raw.Read()
				b.log.Debug("serial ring full, resyncing")
			}
			break
		}
		switch i {
		case 1:
			b.takePulses()
		case 2:
			b.takeVersion()
		}
	}
	if n > 0 {
		return task.Working()
	}
	return task.Sleep(task.Idle)
}

func (b *Bridge) takePulses() {
	var p [buffer.MaxChunk]byte
	n, _ := b.frames.pulses.ReadChunk(p[:])
	if n%3 != 0 {
		b.log.Debug("truncated pulse record", zap.Int("len", n))
	}
	for i := 0; i+3 <= n; i += 3 {
		b.pulses.Push(pulse.Pulse{High: p[i] != 0, Duration: uint16(p[i+1]) | uint16(p[i+2])<<8})
	}
}

func (b *Bridge) takeVersion() {
	var p [buffer.MaxChunk]byte
	n, _ := b.frames.version.ReadChunk(p[:])
	v := string(p[:n])
	b.mu.Lock()
	b.version = v
	b.mu.Unlock()
	select {
	case b.versions <- v:
	default:
	}
}

// write pushes p to the write routine, or fails after WriteTimeout or if
// the bridge is closed.
func (b *Bridge) write(p []byte) error {
	select {
	case b.wrChan <- p:
		return nil
	case <-b.closeChan:
		return ErrClosedPort
	case <-time.After(b.WriteTimeout):
		return fmt.Errorf("write: %w (%s)", ErrTimeout, b.WriteTimeout)
	}
}

func (b *Bridge) readRoutine() {
	var p [64]byte
	for {
		n, err := b.port.Read(p[:])
		select {
		case <-b.closeChan:
			return
		default:
		}
		if err != nil {
			b.log.Debug("serial read", zap.Error(err))
			select {
			case b.errChan <- err:
			default:
			}
			select {
			case <-b.closeChan:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		for _, c := range p[:n] {
			for !b.raw.Write(c) {
				b.wake()
				select {
				case <-b.closeChan:
					return
				case <-time.After(time.Millisecond):
				}
			}
		}
		if n > 0 {
			b.wake()
		}
	}
}

func (b *Bridge) writeRoutine() {
	for {
		var p []byte
		select {
		case p = <-b.wrChan:
		case <-b.closeChan:
			return
		}
		if _, err := b.port.Write(p); err != nil {
			b.log.Warn("serial write", zap.Error(err))
		}
	}
}
