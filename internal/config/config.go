// Package config loads the celebration server configuration from a YAML file, an
// optional .env file and the process environment, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JohnPlummer/jp-go-newyear/internal/gemini"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

// Environment variables read by Load.
const (
	EnvAPIKey       = "API_KEY"
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvAddr         = "NEWYEAR_ADDR"
	EnvLogLevel     = "NEWYEAR_LOG_LEVEL"
	EnvBaseURL      = "GEMINI_BASE_URL"
)

const redacted = "[REDACTED]"

// ErrMissingAPIKey is reported by Validate when no credential was found.
var ErrMissingAPIKey = errors.New("API_KEY is required")

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Countdown CountdownConfig `yaml:"countdown"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Host is credited in greetings and calendar entries.
	Host string `yaml:"host"`
	// DefaultRecipient pre-fills the greeting form.
	DefaultRecipient string `yaml:"default_recipient"`
}

// GeminiConfig selects the generative-AI endpoint and models. The API key never
// comes from the file.
type GeminiConfig struct {
	APIKey      string        `yaml:"-"`
	BaseURL     string        `yaml:"base_url"`
	TextModel   string        `yaml:"text_model"`
	ImageModel  string        `yaml:"image_model"`
	SpeechModel string        `yaml:"speech_model"`
	EventsModel string        `yaml:"events_model"`
	Voice       string        `yaml:"voice"`
	Timeout     time.Duration `yaml:"timeout"`
}

// RetryConfig mirrors resilience.RetryConfig.
type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	// Classifier is "all" (retry every failure) or "http" (status-code based).
	Classifier string `yaml:"classifier"`
}

// BreakerConfig enables an optional circuit breaker shared by all AI calls.
type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// CountdownConfig configures the countdown timer.
type CountdownConfig struct {
	Interval time.Duration `yaml:"interval"`
	// Location is an IANA zone name; empty means the server's local zone.
	Location string `yaml:"location"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config with every default filled in except the API key.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     2 * time.Minute,
			ShutdownTimeout:  10 * time.Second,
			Host:             "JAPS",
			DefaultRecipient: "JAPS",
		},
		Gemini: GeminiConfig{
			BaseURL:     gemini.DefaultBaseURL,
			TextModel:   gemini.DefaultTextModel,
			ImageModel:  gemini.DefaultImageModel,
			SpeechModel: gemini.DefaultSpeechModel,
			EventsModel: gemini.DefaultEventsModel,
			Voice:       gemini.DefaultVoice,
			Timeout:     gemini.DefaultTimeout,
		},
		Retry: RetryConfig{
			MaxRetries:   resilience.DefaultMaxRetries,
			InitialDelay: resilience.DefaultInitialDelay,
			Classifier:   resilience.ClassifierAll,
		},
		Breaker: BreakerConfig{
			MaxRequests:         1,
			Interval:            60 * time.Second,
			Timeout:             30 * time.Second,
			ConsecutiveFailures: 5,
		},
		Countdown: CountdownConfig{
			Interval: time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only defaults and
// the environment are used. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCountdown reads the same sources as Load but checks only the countdown
// section, so commands that never call the AI service work without an API key.
func LoadCountdown(path string) (CountdownConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return CountdownConfig{}, err
	}
	if err := cfg.Countdown.validate(); err != nil {
		return CountdownConfig{}, err
	}
	return cfg.Countdown, nil
}

func read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Gemini.APIKey = v
	} else if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Gemini.BaseURL = v
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Retry.InitialDelay <= 0 {
		return fmt.Errorf("retry.initial_delay must be positive")
	}
	if _, err := resilience.ClassifierByName(c.Retry.Classifier); err != nil {
		return fmt.Errorf("retry.classifier: %w", err)
	}
	if err := c.Countdown.validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c CountdownConfig) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("countdown.interval must be positive")
	}
	if _, err := c.Zone(); err != nil {
		return fmt.Errorf("countdown.location: %w", err)
	}
	return nil
}

// Zone resolves the configured countdown location.
func (c CountdownConfig) Zone() (*time.Location, error) {
	if c.Location == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Location)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// RetryOptions converts the retry section into resilience options.
func (c *Config) RetryOptions() []resilience.RetryOption {
	classifier, err := resilience.ClassifierByName(c.Retry.Classifier)
	if err != nil {
		classifier = resilience.DefaultErrorClassifier()
	}
	return []resilience.RetryOption{
		resilience.WithMaxRetries(c.Retry.MaxRetries),
		resilience.WithInitialDelay(c.Retry.InitialDelay),
		resilience.WithErrorClassifier(classifier),
	}
}

// BreakerOptions converts the breaker section into resilience options. It returns nil
// when the breaker is disabled.
func (c *Config) BreakerOptions() []resilience.CircuitBreakerOption {
	if !c.Breaker.Enabled {
		return nil
	}
	threshold := c.Breaker.ConsecutiveFailures
	return []resilience.CircuitBreakerOption{
		resilience.WithMaxRequests(c.Breaker.MaxRequests),
		resilience.WithInterval(c.Breaker.Interval),
		resilience.WithTimeout(c.Breaker.Timeout),
		resilience.WithReadyToTrip(func(counts resilience.CircuitBreakerCounts) bool {
			return counts.ConsecutiveFailures >= threshold
		}),
	}
}

// GeminiConfig converts the gemini section into a client config.
func (c *Config) GeminiConfig() gemini.Config {
	return gemini.Config{
		APIKey:      c.Gemini.APIKey,
		BaseURL:     c.Gemini.BaseURL,
		TextModel:   c.Gemini.TextModel,
		ImageModel:  c.Gemini.ImageModel,
		SpeechModel: c.Gemini.SpeechModel,
		EventsModel: c.Gemini.EventsModel,
		Voice:       c.Gemini.Voice,
		Timeout:     c.Gemini.Timeout,
	}
}

// String renders the configuration as YAML with the API key redacted.
func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// LogValue implements slog.LogValuer so the key never reaches a log line.
func (c *Config) LogValue() slog.Value {
	key := ""
	if c.Gemini.APIKey != "" {
		key = redacted
	}
	return slog.GroupValue(
		slog.String("addr", c.Server.Addr),
		slog.String("api_key", key),
		slog.String("base_url", c.Gemini.BaseURL),
		slog.Int("max_retries", c.Retry.MaxRetries),
		slog.Duration("initial_delay", c.Retry.InitialDelay),
		slog.Bool("breaker", c.Breaker.Enabled),
		slog.String("log_level", c.Logging.Level),
	)
}
