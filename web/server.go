package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rkjdid/util"
	"go.uber.org/zap"

	"github.com/solar3s/rfnode/gateway"
	"github.com/solar3s/rfnode/store"

	_ "net/http/pprof"
)

type ServerConfig struct {
	ListenAddr        string
	Verbose           bool
	WebsocketInterval util.Duration
	LogDir            string // archived event logs, relative to the root directory
	HistorySize       int    // default number of events served by /events
}

var DefaultServerConfig = ServerConfig{
	ListenAddr:        "localhost:3636",
	WebsocketInterval: util.Duration(time.Second),
	LogDir:            "logs",
	HistorySize:       100,
}

type Server struct {
	Config  *Config
	Gateway *gateway.Gateway
	Store   *store.DB // optional

	version    string
	log        *zap.Logger
	router     *mux.Router
	wsUpgrader *websocket.Upgrader
	logDir     string
}

// NewServer registers every endpoint. db may be nil, /events then serves
// the gateway's in-memory history. logDir is where archived event logs
// go.
func NewServer(version string, gw *gateway.Gateway, db *store.DB, cfg *Config, logDir string, log *zap.Logger) *Server {
	if cfg == nil {
		c := DefaultConfig
		cfg = &c
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		Config:  cfg,
		Gateway: gw,
		Store:   db,
		version: version,
		log:     log,
		logDir:  logDir,
		wsUpgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	verbose := cfg.Web.Verbose
	s.router = mux.NewRouter()
	handle := func(path, name string, h http.HandlerFunc, methods ...string) {
		s.router.Handle(path, Logger(h, name, log, verbose)).Methods(methods...)
	}

	// pprof handlers
	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	// shh
	s.router.Handle("/favicon.ico", http.HandlerFunc(NilHandler))

	handle("/websocket", "ws-snapshot", s.Websocket, "GET")
	handle("/snapshot", "snapshot", s.Snapshot, "GET", "HEAD")
	handle("/events", "events", s.Events, "GET", "HEAD")
	handle("/config", "config", s.ConfigHandler, "GET", "HEAD")
	handle("/version", "version", s.Version, "GET", "HEAD")
	handle("/relay/{node:[0-9]+}", "relay", s.Relay, "GET", "POST")
	handle("/relay/{node:[0-9]+}/request", "relay-request", s.RelayRequest, "POST")
	handle("/logs", "logs", s.Logs, "GET", "POST")
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts the server down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpServer := &http.Server{
		Handler:      s,
		Addr:         s.Config.Web.ListenAddr,
		WriteTimeout: 4 * time.Second,
		ReadTimeout:  4 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- httpServer.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdown)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("encoding response", zap.Error(err))
	}
}

// Snapshot encodes the gateway snapshot as json to w.
func (s *Server) Snapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Gateway.Snapshot())
}

// Events serves the history, from the store when there is one. Query
// parameters: n (count), node (only that node).
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	n := s.Config.Web.HistorySize
	if v := r.URL.Query().Get("n"); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil || i <= 0 {
			http.Error(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = i
	}
	node := -1
	if v := r.URL.Query().Get("node"); v != "" {
		i, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			http.Error(w, "invalid node", http.StatusBadRequest)
			return
		}
		node = int(i)
	}

	var (
		events []gateway.Event
		err    error
	)
	switch {
	case s.Store != nil && node >= 0:
		events, err = s.Store.ListNodeEvents(r.Context(), uint16(node), n)
	case s.Store != nil:
		events, err = s.Store.ListEvents(r.Context(), n)
	default:
		for _, e := range s.Gateway.Events() {
			if node < 0 || int(e.Node) == node {
				events = append(events, e)
			}
		}
		if len(events) > n {
			events = events[len(events)-n:]
		}
	}
	if err != nil {
		s.log.Error("listing events", zap.Error(err))
		http.Error(w, "error listing events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []gateway.Event{}
	}
	s.writeJSON(w, http.StatusOK, events)
}

// ConfigHandler serves the running configuration.
func (s *Server) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Config)
}

func (s *Server) Version(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func nodeParam(r *http.Request) (uint16, error) {
	i, err := strconv.ParseUint(mux.Vars(r)["node"], 10, 16)
	return uint16(i), err
}

// Relay GET: current state of the relay
//
//	POST: switches it, body {"on": bool}
func (s *Server) Relay(w http.ResponseWriter, r *http.Request) {
	node, err := nodeParam(r)
	if err != nil {
		http.Error(w, "invalid node", http.StatusBadRequest)
		return
	}
	if r.Method == http.MethodPost {
		var v gateway.RelayState
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
			s.log.Debug("error decoding json", zap.Error(err))
			http.Error(w, "couldn't decode provided json", http.StatusUnprocessableEntity)
			return
		}
		if err := s.Gateway.SetRelay(node, v.On); err != nil {
			s.relayError(w, node, err)
			return
		}
	}
	v, err := s.Gateway.Relay(node)
	if err != nil {
		s.relayError(w, node, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

// RelayRequest asks the relay for its state, the answer shows up in the
// snapshot and the event feed.
func (s *Server) RelayRequest(w http.ResponseWriter, r *http.Request) {
	node, err := nodeParam(r)
	if err != nil {
		http.Error(w, "invalid node", http.StatusBadRequest)
		return
	}
	if err := s.Gateway.RequestLatest(node); err != nil {
		s.relayError(w, node, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte("request sent"))
}

func (s *Server) relayError(w http.ResponseWriter, node uint16, err error) {
	if errors.Is(err, gateway.ErrUnknownNode) {
		http.Error(w, fmt.Sprintf("no relay %d", node), http.StatusNotFound)
		return
	}
	s.log.Error("relay", zap.Uint16("node", node), zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// Logs GET: lists archived event logs
//
//	POST: archives the current history, optional ?note=
func (s *Server) Logs(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		snap := s.Gateway.Snapshot()
		l := NewEventLog(snap.Device, r.URL.Query().Get("note"), snap.Recent)
		name, err := SaveEventLog(s.logDir, l)
		if err != nil {
			s.log.Error("saving event log", zap.Error(err))
			http.Error(w, "error saving event log", http.StatusInternalServerError)
			return
		}
		info := l.Info()
		info.Path = name
		s.writeJSON(w, http.StatusCreated, info)
		return
	}
	infos, err := ListEventLogs(s.logDir, s.log)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Error("listing event logs", zap.Error(err))
		http.Error(w, "error listing event logs", http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []EventLogInfo{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// wsMessage is what the websocket pushes: periodic snapshots and live
// events.
type wsMessage struct {
	Type     string            `json:"type"`
	Snapshot *gateway.Snapshot `json:"snapshot,omitempty"`
	Event    *gateway.Event    `json:"event,omitempty"`
}

// Websocket pushes a snapshot every WebsocketInterval (or ?poll=) and
// every event as it happens.
func (s *Server) Websocket(w http.ResponseWriter, r *http.Request) {
	var interval = time.Duration(s.Config.Web.WebsocketInterval)
	if v, ok := r.URL.Query()["poll"]; ok {
		if d, err := time.ParseDuration(v[0]); err == nil && d > 0 {
			interval = d
		}
	}
	if interval <= 0 {
		interval = time.Second
	}
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("error subscribing to websocket", zap.Error(err))
		return
	}
	// drop the deadlines the http server set for the handshake
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	s.log.Debug("websocket subscription",
		zap.Stringer("remote", conn.RemoteAddr()), zap.Duration("pollrate", interval))

	events, cancel := s.Gateway.Subscribe()
	closed := make(chan struct{})
	// the reader only notices the peer going away
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			cancel()
			conn.Close()
			s.log.Debug("websocket lost", zap.Stringer("remote", conn.RemoteAddr()))
		}()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		snap := s.Gateway.Snapshot()
		if conn.WriteJSON(wsMessage{Type: "snapshot", Snapshot: &snap}) != nil {
			return
		}
		for {
			var msg wsMessage
			select {
			case <-closed:
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				msg = wsMessage{Type: "event", Event: &e}
			case <-ticker.C:
				snap := s.Gateway.Snapshot()
				msg = wsMessage{Type: "snapshot", Snapshot: &snap}
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()
}
