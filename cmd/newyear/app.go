package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JohnPlummer/jp-go-newyear/internal/config"
	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
	"github.com/JohnPlummer/jp-go-newyear/internal/metrics"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
	"github.com/JohnPlummer/jp-go-newyear/internal/server"
)

// app is the fully wired server.
type app struct {
	client  *gemini.Client
	metrics *metrics.Metrics
	server  *server.Server
}

func newLogger(cfg config.LoggingConfig, out io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	var logger *slog.Logger
	if cfg.Format == "json" {
		logger = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(out, opts))
	}
	slog.SetDefault(logger)
	return logger, nil
}

func newClient(cfg *config.Config, logger *slog.Logger, obs gemini.Observer) (*gemini.Client, error) {
	opts := []gemini.Option{
		gemini.WithLogger(logger),
		gemini.WithRetryOptions(cfg.RetryOptions()...),
	}
	if obs != nil {
		opts = append(opts, gemini.WithObserver(obs))
	}
	if cbOpts := cfg.BreakerOptions(); cbOpts != nil {
		cbOpts = append(cbOpts, resilience.WithStateChangeHandler(func(name string, from, to resilience.CircuitBreakerState) {
			logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		}))
		opts = append(opts, gemini.WithCircuitBreaker(cbOpts...))
	}

	client, err := gemini.New(cfg.GeminiConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create generative AI client: %w", err)
	}
	return client, nil
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
	}

	var obs gemini.Observer
	if m != nil {
		obs = m
	}
	client, err := newClient(cfg, logger, obs)
	if err != nil {
		return nil, err
	}

	loc, err := cfg.Countdown.Zone()
	if err != nil {
		return nil, fmt.Errorf("countdown location: %w", err)
	}

	opts := []server.Option{server.WithLogger(logger)}
	if m != nil {
		opts = append(opts, server.WithMetrics(m))
	}
	srv := server.New(client, server.Config{
		Addr:              cfg.Server.Addr,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Host:              cfg.Server.Host,
		DefaultRecipient:  cfg.Server.DefaultRecipient,
		CountdownInterval: cfg.Countdown.Interval,
		Location:          loc,
		MetricsPath:       cfg.Metrics.Path,
	}, opts...)

	return &app{client: client, metrics: m, server: srv}, nil
}
