// Package gemini is the generative-AI client used by the celebration app. It asks a
// hosted model for greetings, posters, spoken greetings and grounded local events.
//
// Every call goes through the resilience retry policy. Soft failures (no image, no
// audio, empty text) are reported as values; hard failures are returned as errors
// once the retry budget is spent.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JohnPlummer/jp-go-newyear/internal/audio"
	"github.com/JohnPlummer/jp-go-newyear/internal/geo"
	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

// Defaults for Config.
const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultTextModel   = "gemini-3-flash-preview"
	DefaultImageModel  = "gemini-2.5-flash-image"
	DefaultSpeechModel = "gemini-2.5-flash-preview-tts"
	DefaultEventsModel = "gemini-2.5-flash"
	DefaultVoice       = "Kore"
	DefaultTimeout     = 60 * time.Second
)

const (
	posterAspectRatio = "16:9"
	defaultImageMIME  = "image/png"
)

// Outcome labels passed to Observer.ObserveResult.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Config selects the service endpoint, credential and models.
type Config struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	ImageModel  string
	SpeechModel string
	EventsModel string
	Voice       string
	Timeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.TextModel == "" {
		c.TextModel = DefaultTextModel
	}
	if c.ImageModel == "" {
		c.ImageModel = DefaultImageModel
	}
	if c.SpeechModel == "" {
		c.SpeechModel = DefaultSpeechModel
	}
	if c.EventsModel == "" {
		c.EventsModel = DefaultEventsModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Client talks to the generative-AI service. It is safe for concurrent use.
type Client struct {
	cfg      Config
	exec     *resilience.RetryWrapper[*Request, *Response]
	breaker  *resilience.CircuitBreakerWrapper[*Request, *Response]
	observer Observer
	logger   *slog.Logger
}

type options struct {
	httpClient *http.Client
	logger     *slog.Logger
	observer   Observer
	retryOpts  []resilience.RetryOption
	cbOpts     []resilience.CircuitBreakerOption
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient replaces the HTTP client. Its Timeout takes precedence over Config.Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger for the client and its retry policy.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers a metrics observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithRetryOptions adjusts the retry policy applied to every call.
func WithRetryOptions(opts ...resilience.RetryOption) Option {
	return func(o *options) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}

// WithCircuitBreaker places a circuit breaker under the retry policy so repeated
// service failures are shared across calls. Without it every call is independent.
func WithCircuitBreaker(opts ...resilience.CircuitBreakerOption) Option {
	return func(o *options) {
		o.cbOpts = append([]resilience.CircuitBreakerOption{}, opts...)
	}
}

// New creates a Client. The API key is required; everything else has defaults.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cfg = cfg.withDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	transport := NewTransport(o.httpClient, cfg.BaseURL, cfg.APIKey, o.observer, o.logger)

	retryOpts := append([]resilience.RetryOption{resilience.WithRetryLogger(o.logger)}, o.retryOpts...)
	var cbOpts []resilience.CircuitBreakerOption
	if o.cbOpts != nil {
		cbOpts = append([]resilience.CircuitBreakerOption{resilience.WithCircuitBreakerLogger(o.logger)}, o.cbOpts...)
	}
	exec, breaker := resilience.Combine[*Request, *Response](transport, retryOpts, cbOpts)

	return &Client{
		cfg:      cfg,
		exec:     exec,
		breaker:  breaker,
		observer: o.observer,
		logger:   o.logger,
	}, nil
}

// Health reports the circuit breaker state, or a healthy "disabled" status when the
// client runs without one.
func (c *Client) Health() resilience.HealthStatus {
	if c.breaker == nil {
		return resilience.DisabledHealth()
	}
	return c.breaker.GetHealth()
}

// RetryStats returns the cumulative retry statistics of the client.
func (c *Client) RetryStats() resilience.RetryStats {
	return c.exec.GetRetryStats()
}

func (c *Client) generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		c.observer.ObserveResult(req.Operation, OutcomeError, time.Since(start))
		c.logger.Warn("generative AI call failed",
			"operation", req.Operation,
			"model", req.Model,
			"error", err)
		return nil, err
	}
	return resp, nil
}

func (c *Client) finish(op string, start time.Time, empty bool) {
	outcome := OutcomeSuccess
	if empty {
		outcome = OutcomeEmpty
	}
	c.observer.ObserveResult(op, outcome, time.Since(start))
}

// GenerateGreeting writes a greeting for recipient in the given tone. An answer
// without text yields FallbackGreeting rather than an error.
func (c *Client) GenerateGreeting(ctx context.Context, recipient string, tone Tone) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	if !tone.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTone, tone)
	}

	temperature := greetingTemperature
	start := time.Now()
	resp, err := c.generate(ctx, &Request{
		Operation: OpGreeting,
		Model:     c.cfg.TextModel,
		Body: GenerateContentRequest{
			Contents:         userText(GreetingPrompt(recipient, tone)),
			GenerationConfig: &GenerationConfig{Temperature: &temperature},
		},
	})
	if err != nil {
		return "", err
	}

	text := resp.Text()
	c.finish(OpGreeting, start, text == "")
	if text == "" {
		c.logger.Info("greeting response had no text, using fallback", "recipient", recipient)
		return FallbackGreeting, nil
	}
	return text, nil
}

// GenerateFestiveImage renders a 16:9 poster for prompt and returns it as a data URI.
// ok is false when the answer carried no image.
func (c *Client) GenerateFestiveImage(ctx context.Context, prompt string) (dataURI string, ok bool, err error) {
	start := time.Now()
	resp, err := c.generate(ctx, &Request{
		Operation: OpImage,
		Model:     c.cfg.ImageModel,
		Body: GenerateContentRequest{
			Contents: userText(imagePrompt(prompt)),
			GenerationConfig: &GenerationConfig{
				ImageConfig: &ImageConfig{AspectRatio: posterAspectRatio},
			},
		},
	})
	if err != nil {
		return "", false, err
	}

	mimeType, data, found := resp.InlineData()
	c.finish(OpImage, start, !found)
	if !found {
		c.logger.Info("image response had no inline data")
		return "", false, nil
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = defaultImageMIME
	}
	return "data:" + mimeType + ";base64," + data, true, nil
}

// SpeakGreeting synthesises text with the named prebuilt voice and returns raw PCM
// (16-bit little-endian, 24 kHz, mono). An empty voice selects Config.Voice.
// ok is false when the answer carried no audio. Undecodable audio is an error
// wrapping audio.ErrDecode and is not retried.
func (c *Client) SpeakGreeting(ctx context.Context, text, voice string) (pcm []byte, ok bool, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, false, ErrEmptyText
	}
	if voice == "" {
		voice = c.cfg.Voice
	}

	start := time.Now()
	resp, err := c.generate(ctx, &Request{
		Operation: OpSpeech,
		Model:     c.cfg.SpeechModel,
		Body: GenerateContentRequest{
			Contents: userText(speechPrompt(text)),
			GenerationConfig: &GenerationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &SpeechConfig{
					VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: voice}},
				},
			},
		},
	})
	if err != nil {
		return nil, false, err
	}

	_, data, found := resp.InlineData()
	if !found {
		c.finish(OpSpeech, start, true)
		c.logger.Info("speech response had no audio", "voice", voice)
		return nil, false, nil
	}

	pcm, err = base64.StdEncoding.DecodeString(data)
	if err != nil {
		c.observer.ObserveResult(OpSpeech, OutcomeError, time.Since(start))
		return nil, false, fmt.Errorf("%w: speech payload: %v", audio.ErrDecode, err)
	}
	c.finish(OpSpeech, start, false)
	return pcm, true, nil
}

// FindLocalEvents asks for New Year's Eve events near the given coordinates with map
// and web grounding enabled. Text may be empty; links keep the service's order.
func (c *Client) FindLocalEvents(ctx context.Context, lat, lng float64) (EventsResult, error) {
	if err := (geo.Position{Latitude: lat, Longitude: lng}).Validate(); err != nil {
		return EventsResult{}, err
	}

	start := time.Now()
	resp, err := c.generate(ctx, &Request{
		Operation: OpEvents,
		Model:     c.cfg.EventsModel,
		Body: GenerateContentRequest{
			Contents: userText(EventsQuery),
			Tools:    []Tool{{GoogleMaps: &struct{}{}}, {GoogleSearch: &struct{}{}}},
			ToolConfig: &ToolConfig{
				RetrievalConfig: RetrievalConfig{LatLng: LatLng{Latitude: lat, Longitude: lng}},
			},
		},
	})
	if err != nil {
		return EventsResult{}, err
	}

	result := EventsResult{Text: resp.Text(), Links: resp.GroundingLinks()}
	c.finish(OpEvents, start, result.Text == "" && len(result.Links) == 0)
	return result, nil
}
