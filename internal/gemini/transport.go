package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
	"github.com/tidwall/gjson"

	"github.com/JohnPlummer/jp-go-newyear/internal/resilience"
)

const (
	apiKeyHeader     = "x-goog-api-key"
	maxResponseBytes = 32 << 20
)

// Observer receives per-attempt and per-call measurements.
type Observer interface {
	// ObserveAttempt is called once for every HTTP round trip, including retries.
	ObserveAttempt(operation string, err error, elapsed time.Duration)
	// ObserveResult is called once per client call with "success", "empty" or "error".
	ObserveResult(operation, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, error, time.Duration) {}
func (nopObserver) ObserveResult(string, string, time.Duration) {}

// Transport implements resilience.ResilientClient[*Request, *Response] over the
// generateContent REST endpoint. It performs exactly one round trip per Execute.
type Transport struct {
	http     *http.Client
	baseURL  string
	apiKey   string
	observer Observer
	logger   *slog.Logger
}

var _ resilience.ResilientClient[*Request, *Response] = (*Transport)(nil)

// NewTransport creates a transport for baseURL authenticated with apiKey.
// A nil httpClient gets a client with no timeout of its own.
func NewTransport(httpClient *http.Client, baseURL, apiKey string, observer Observer, logger *slog.Logger) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		http:     httpClient,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		observer: observer,
		logger:   logger,
	}
}

// Execute sends req and returns the parsed response. Non-2xx answers become
// *resilience.StatusCodeError; 429 additionally wraps jp-go-errors' ErrRateLimited.
func (t *Transport) Execute(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp, err := t.roundTrip(ctx, req)
	elapsed := time.Since(start)
	t.observer.ObserveAttempt(req.Operation, err, elapsed)

	if err != nil {
		t.logger.Debug("generateContent failed",
			"operation", req.Operation,
			"model", req.Model,
			"duration", elapsed,
			"error", err)
		return nil, err
	}

	t.logger.Debug("generateContent succeeded",
		"operation", req.Operation,
		"model", req.Model,
		"duration", elapsed)
	return resp, nil
}

func (t *Transport) endpoint(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", t.baseURL, url.PathEscape(model))
}

func (t *Transport) roundTrip(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Operation, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint(req.Model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.Operation, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(apiKeyHeader, t.apiKey)

	res, err := t.http.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if ctx.Err() == nil && errors.As(err, &netErr) && netErr.Timeout() {
			return nil, pkgerrors.NewTimeoutError("generative AI request timed out", req.Operation, t.http.Timeout)
		}
		return nil, fmt.Errorf("%s request: %w", req.Operation, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Operation, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, statusError(res.StatusCode, data)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: %s", ErrMalformedResponse, req.Operation)
	}
	return NewResponse(data), nil
}

func statusError(code int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = http.StatusText(code)
	}

	var cause error
	if code == http.StatusTooManyRequests {
		cause = fmt.Errorf("%w: %s", pkgerrors.ErrRateLimited, msg)
	} else {
		cause = errors.New(msg)
	}
	return resilience.NewStatusCodeError(code, cause)
}
