package gateway

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solar3s/rfnode/radio"
)

// Watcher pings the bridge periodically. When the ping fails the link is
// closed, then the watcher looks for a bridge until one answers.
type Watcher struct {
	g      *Gateway
	cfg    *WatcherConfig
	find   func() (Link, error)
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher uses find to reconnect, typically wrapping radio.FindBridge.
func NewWatcher(g *Gateway, cfg *WatcherConfig, find func() (Link, error)) *Watcher {
	if cfg == nil {
		cfg = &DefaultWatcherConfig
	}
	return &Watcher{
		g:    g,
		cfg:  cfg,
		find: find,
	}
}

func (w *Watcher) Stop() {
	if w.stopCh == nil {
		return
	}
	w.g.log.Info("stopping conn watcher")
	close(w.stopCh)
	w.wg.Wait()
	w.stopCh = nil
}

func (w *Watcher) WatchConn() {
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go func(stop chan struct{}) {
		defer w.wg.Done()
		for {
			select {
			case <-time.After(time.Duration(w.cfg.ConnPollRate)):
			case <-stop:
				return
			}
			w.Check()
		}
	}(w.stopCh)
}

// Check runs one round: ping the current link, or look for a new one.
func (w *Watcher) Check() LinkState {
	if link := w.g.Link(); link != nil {
		_, rtt, err := link.Ping()
		if err == nil {
			w.g.log.Debug("ping", zap.Duration("rtt", rtt))
			w.g.Lock()
			w.g.setState(Connected, nil)
			w.g.Unlock()
			return Connected
		}
		w.g.log.Warn("lost bridge", zap.String("device", link.Path()), zap.Error(err))
		w.g.Disconnect(classify(err), err)
	}

	link, err := w.find()
	if err != nil {
		w.g.log.Debug("no bridge found", zap.Error(err))
		return w.g.State()
	}
	w.g.log.Info("connected", zap.String("device", link.Path()), zap.String("version", link.Version()))
	w.g.Connect(link)
	return Connected
}

func classify(err error) LinkState {
	switch {
	case errors.Is(err, radio.ErrClosedPort):
		return Disconnected
	case errors.Is(err, radio.ErrTimeout):
		return ReadError
	default:
		return UnexpectedError
	}
}
