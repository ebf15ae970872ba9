package web

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// CustomResponseWriter allows to store current status code of ResponseWriter.
type CustomResponseWriter struct {
	http.ResponseWriter
	Status int
}

func (w *CustomResponseWriter) WriteHeader(statusCode int) {
	w.Status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Hijack is needed by the websocket upgrade.
func (w *CustomResponseWriter) Hijack() (c net.Conn, rw *bufio.ReadWriter, err error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func NilHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte{})
}

func WrapCustomRW(wr http.ResponseWriter) *CustomResponseWriter {
	if w, ok := wr.(*CustomResponseWriter); ok {
		return w
	}
	return &CustomResponseWriter{
		ResponseWriter: wr,
		Status:         http.StatusOK, // some handlers never call WriteHeader
	}
}

// Logger logs every request to handler at debug level, or info when
// verbose.
func Logger(handler http.Handler, name string, log *zap.Logger, verbose bool) http.Handler {
	lvl := zap.DebugLevel
	if verbose {
		lvl = zap.InfoLevel
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t0 := time.Now()
		cw := WrapCustomRW(w)
		handler.ServeHTTP(cw, r)
		if ce := log.Check(lvl, name); ce != nil {
			ce.Write(
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Int("status", cw.Status),
				zap.String("forwarded-for", r.Header.Get("X-FORWARDED-FOR")),
				zap.String("agent", r.Header.Get("USER-AGENT")),
				zap.Duration("took", time.Since(t0)),
			)
		}
	})
}
