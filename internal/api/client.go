package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docpipe/internal/lifecycle"
	"docpipe/internal/services"
	"docpipe/internal/store"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 500 * time.Millisecond
	defaultRetryMaxDelay  = 8 * time.Second
)

// Client posts worker callbacks to the daemon's HTTP API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBackoff overrides the retry count and backoff delays.
func WithRetryBackoff(attempts int, baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// NewClient builds a callback client for the API at baseURL, authenticating
// with a worker-role bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:          strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:            strings.TrimSpace(token),
		httpClient:       &http.Client{Timeout: defaultHTTPTimeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx reply from the API.
type StatusError struct {
	StatusCode int
	Body       ErrorResponse
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(e.Body.Error)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api: http %d: %s", e.StatusCode, msg)
}

// Unwrap maps the reply code back onto the service error markers so callers
// can use errors.Is across the wire.
func (e *StatusError) Unwrap() error {
	switch e.Body.Code {
	case "validation_error":
		return services.ErrValidation
	case "permission_denied":
		return services.ErrPermissionDenied
	case "not_found":
		return services.ErrNotFound
	case "invalid_state_transition":
		return services.ErrInvalidTransition
	case "conflict":
		return services.ErrConflict
	case "processing_failure":
		return services.ErrProcessing
	}
	if e.StatusCode >= http.StatusInternalServerError {
		return services.ErrTransient
	}
	return nil
}

// ReportOutcome sends PUT /processing/{sessionId}/status.
func (c *Client) ReportOutcome(ctx context.Context, sessionID string, outcome lifecycle.Outcome) error {
	path, err := url.JoinPath("/processing", sessionID, "status")
	if err != nil {
		return fmt.Errorf("api: build url: %w", err)
	}
	return c.do(ctx, http.MethodPut, path, OutcomeRequest{Outcome: outcome}, nil)
}

// LinkResults sends POST /documents/{id}/link-results.
func (c *Client) LinkResults(ctx context.Context, documentID, sessionID string, children []store.ChildRecord) error {
	path, err := url.JoinPath("/documents", documentID, "link-results")
	if err != nil {
		return fmt.Errorf("api: build url: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, LinkResultsRequest{SessionID: sessionID, Children: children}, nil)
}

// SessionStatus fetches GET /processing/{sessionId}/status.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (SessionView, error) {
	var view SessionView
	path, err := url.JoinPath("/processing", sessionID, "status")
	if err != nil {
		return view, fmt.Errorf("api: build url: %w", err)
	}
	err = c.do(ctx, http.MethodGet, path, nil, &view)
	return view, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		if encoded, err = json.Marshal(body); err != nil {
			return fmt.Errorf("api: encode body: %w", err)
		}
	}
	attempts := max(c.retryMaxAttempts, 1)
	delay := c.retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.doOnce(ctx, method, path, encoded, out)
		if lastErr == nil || !retryable(lastErr) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, c.retryMaxDelay)
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, encoded []byte, out any) error {
	var reader io.Reader
	if encoded != nil {
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: new request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", method+" "+path, "http error", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return services.Wrap(services.ErrTransient, "api", method+" "+path, "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(data, &statusErr.Body)
		return statusErr
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("api: decode response: %w", err)
		}
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, services.ErrTransient)
}
