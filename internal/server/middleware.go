package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

const (
	maxBodyBytes   = 1 << 20
	maxWriteMargin = 5 * time.Second
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID returns the ID attached to ctx by the server, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func (s *Server) log(r *http.Request) *slog.Logger {
	return s.logger.With("request_id", RequestID(r.Context()), "path", r.URL.Path)
}

// route registers h under pattern and counts responses by pattern and status. The
// request context ends before the server's write timeout so a slow AI failure still
// gets its error body written.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	s.handle(mux, pattern, s.withDeadline(h))
}

// routeStream is route without the deadline, for long-lived connections.
func (s *Server) routeStream(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	s.handle(mux, pattern, h)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveHTTP(pattern, rec.status)
		}
	})
}

// statusRecorder remembers the status code and still lets WebSocket upgrades hijack
// the connection.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// handlerBudget leaves a quarter of the write timeout, at most maxWriteMargin, for
// writing the response. Zero means no limit.
func handlerBudget(writeTimeout time.Duration) time.Duration {
	if writeTimeout <= 0 {
		return 0
	}
	return writeTimeout - min(writeTimeout/4, maxWriteMargin)
}

func (s *Server) withDeadline(h http.HandlerFunc) http.HandlerFunc {
	budget := handlerBudget(s.cfg.WriteTimeout)
	if budget == 0 {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), budget)
		defer cancel()
		h(w, r.WithContext(ctx))
	}
}
