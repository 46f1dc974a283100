// Package provider implements the upstream generation client. It speaks a
// small JSON-over-HTTP protocol and translates transport and status-code
// failures into the session error taxonomy, so the state machine can
// surface a precise category instead of a bare error string.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/domstage/connectivity"
	"github.com/hazyhaar/domstage/session"
)

// Config configures the client.
type Config struct {
	// BaseURL of the generation endpoint, e.g. "https://api.example.com".
	// The client POSTs to BaseURL + "/v1/generate".
	BaseURL string
	// Model requested from the upstream. Empty lets the upstream choose.
	Model string
	// Timeout for a single HTTP attempt. Default: 60s.
	Timeout time.Duration
	// MaxRetries for transient failures (network, 429, 5xx). Default: 2.
	MaxRetries int
	// Backoff is the initial wait between retries, doubled each attempt.
	// Default: 500ms.
	Backoff time.Duration
	// MaxBodyBytes caps the response body read. Default: 4MB.
	MaxBodyBytes int64
	// UserAgent sent with requests.
	UserAgent string
	// Logger for retry and breaker events. Default: slog.Default().
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 4 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "domstage/1.0"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client calls the upstream generation endpoint. A circuit breaker guards
// the upstream: repeated failures short-circuit further attempts until the
// reset timeout elapses.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *connectivity.CircuitBreaker
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	cfg.defaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("provider: base URL is required")
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: connectivity.NewCircuitBreaker(),
	}, nil
}

// Generate implements session.Provider.
func (c *Client) Generate(ctx context.Context, req session.Request) (*session.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if !c.breaker.Allow() {
			return nil, session.NewFailure(session.ErrUpstream, "provider unavailable: circuit open")
		}

		resp, err := c.generateOnce(ctx, req)
		if err == nil {
			c.breaker.RecordSuccess()
			return resp, nil
		}
		lastErr = err

		if !transient(err) || ctx.Err() != nil {
			// Auth and malformed-response failures are not the upstream's
			// health; only transport-level failures trip the breaker.
			if isUpstreamHealth(err) {
				c.breaker.RecordFailure()
			}
			return nil, err
		}
		c.breaker.RecordFailure()

		if attempt < c.cfg.MaxRetries {
			wait := c.cfg.Backoff * (1 << uint(attempt))
			c.cfg.Logger.WarnContext(ctx, "provider: retrying",
				"attempt", attempt+1, "backoff_ms", wait.Milliseconds(), "error", err)
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(wait):
			}
		}
	}
	return nil, lastErr
}

type wireRequest struct {
	Model  string `json:"model,omitempty"`
	System string `json:"system,omitempty"`
	Input  string `json:"input"`
}

type wireResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Error string `json:"error,omitempty"`
}

func (c *Client) generateOnce(ctx context.Context, req session.Request) (*session.Response, error) {
	// The machine hands its per-attempt timeout on the request; it bounds
	// each attempt in addition to the client's own transport timeout.
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body, err := json.Marshal(wireRequest{
		Model:  c.cfg.Model,
		System: req.System,
		Input:  string(req.Payload),
	})
	if err != nil {
		return nil, session.NewFailure(session.ErrMalformed, "encode request: %v", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, session.NewFailure(session.ErrNetwork, "new request: %v", err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Authorization", "Bearer "+req.Credentials.APIKey)
	hreq.Header.Set("User-Agent", c.cfg.UserAgent)

	hresp, err := c.http.Do(hreq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, session.NewFailure(session.ErrTimeout, "provider request timed out")
		}
		return nil, session.NewFailure(session.ErrNetwork, "provider request: %v", err)
	}
	defer hresp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(hresp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return nil, session.NewFailure(session.ErrNetwork, "read response: %v", err)
	}

	if f := statusFailure(hresp.StatusCode, raw); f != nil {
		return nil, f
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, session.NewFailure(session.ErrMalformed, "decode response: %v", err)
	}
	if wire.Error != "" {
		return nil, session.NewFailure(session.ErrUpstream, "provider error: %s", wire.Error)
	}
	if wire.Text == "" {
		return nil, session.NewFailure(session.ErrMalformed, "provider returned an empty response")
	}
	return &session.Response{Text: wire.Text, Model: wire.Model}, nil
}

func statusFailure(code int, body []byte) *session.Failure {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return session.NewFailure(session.ErrAuth, "provider rejected credentials (http %d)", code)
	case code == http.StatusTooManyRequests:
		return session.NewFailure(session.ErrRateLimit, "provider rate limit exceeded")
	case code >= 500:
		return session.NewFailure(session.ErrUpstream, "provider unavailable (http %d)", code)
	default:
		return session.NewFailure(session.ErrUpstream, "unexpected provider status %d: %s", code, truncate(body, 200))
	}
}

func transient(err error) bool {
	var f *session.Failure
	if !errors.As(err, &f) {
		return false
	}
	switch f.Code {
	case session.ErrNetwork, session.ErrRateLimit, session.ErrUpstream:
		return true
	}
	return false
}

func isUpstreamHealth(err error) bool {
	var f *session.Failure
	if !errors.As(err, &f) {
		return false
	}
	switch f.Code {
	case session.ErrNetwork, session.ErrUpstream, session.ErrTimeout:
		return true
	}
	return false
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}

var _ session.Provider = (*Client)(nil).Generate
