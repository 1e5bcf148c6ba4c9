// Package server is the HTTP backend of the celebration app. It exposes the AI
// features as JSON endpoints, streams the countdown over WebSocket and serves health
// and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/JohnPlummer/jp-go-newyear/internal/countdown"
	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
	"github.com/JohnPlummer/jp-go-newyear/internal/metrics"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

// AI is the subset of the generative-AI client the server needs.
type AI interface {
	GenerateGreeting(ctx context.Context, recipient string, tone gemini.Tone) (string, error)
	GenerateFestiveImage(ctx context.Context, prompt string) (string, bool, error)
	SpeakGreeting(ctx context.Context, text, voice string) ([]byte, bool, error)
	FindLocalEvents(ctx context.Context, lat, lng float64) (gemini.EventsResult, error)
	Health() resilience.HealthStatus
}

var _ AI = (*gemini.Client)(nil)

// Config holds listener and presentation settings.
type Config struct {
	Addr              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	Host              string
	DefaultRecipient  string
	CountdownInterval time.Duration
	Location          *time.Location
	MetricsPath       string
}

// Server wires the handlers to the AI client, the countdown timer and metrics.
type Server struct {
	cfg         Config
	ai          AI
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	broadcaster *countdown.Broadcaster
	timer       *countdown.Timer
	upgrader    websocket.Upgrader

	mu      sync.Mutex
	closed  bool
	closing chan struct{}
	streams sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics enables instrumentation and the metrics endpoint.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for the countdown.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Server. The countdown timer is created stopped.
func New(ai AI, cfg Config, opts ...Option) *Server {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		cfg:         cfg,
		ai:          ai,
		logger:      slog.Default(),
		now:         time.Now,
		broadcaster: countdown.NewBroadcaster(),
		closing:     make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	loc := cfg.Location
	clock := s.now
	s.timer = countdown.NewTimer(s.broadcaster.Publish,
		countdown.WithInterval(cfg.CountdownInterval),
		countdown.WithClock(func() time.Time { return clock().In(loc) }),
		countdown.WithLogger(s.logger),
	)
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /api/greeting", s.handleGreeting)
	s.route(mux, "POST /api/poster", s.handlePoster)
	s.route(mux, "POST /api/speech", s.handleSpeech)
	s.route(mux, "POST /api/events", s.handleEvents)
	s.route(mux, "GET /api/countdown", s.handleCountdown)
	s.route(mux, "GET /api/calendar", s.handleCalendar)
	s.routeStream(mux, "GET /ws/countdown", s.handleCountdownStream)
	s.route(mux, "GET /healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.MetricsPath, s.metrics.Handler())
	}

	return s.withRequestID(mux)
}

// StartCountdown starts the countdown timer feeding the stream.
func (s *Server) StartCountdown(ctx context.Context) error {
	return s.timer.Start(ctx)
}

// Close stops the countdown timer and ends every open countdown stream.
func (s *Server) Close() {
	s.endStreams()
	s.timer.Stop()
	s.streams.Wait()
}

func (s *Server) endStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closing)
	}
}

// trackStream registers an open stream unless the server is closing.
func (s *Server) trackStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.streams.Add(1)
	return true
}

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.StartCountdown(ctx); err != nil {
		return err
	}
	defer s.Close()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	s.endStreams()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
