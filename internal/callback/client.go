// Package callback delivers extraction results to client webhooks.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"docpipe/internal/logger"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Poster sends one JSON document to a webhook URL.
type Poster interface {
	Post(ctx context.Context, url string, payload any) (int, error)
}

// Client posts JSON payloads to callback URLs. A delivery is a single attempt;
// retrying is left to whatever re-drives the pipeline.
type Client struct {
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a callback client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return NewClientWithHTTP(&http.Client{Timeout: timeout})
}

// NewClientWithHTTP wraps an existing http.Client.
func NewClientWithHTTP(hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		http: hc,
		log:  logger.WithComponent("callback"),
	}
}

// Post sends payload as JSON and returns the endpoint's status code. Any
// status is a completed delivery; err is non-nil only when no response was
// received.
func (c *Client) Post(ctx context.Context, url string, payload any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("callback send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	c.log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Callback delivered")

	return resp.StatusCode, nil
}

// Success reports whether status is a 2xx code.
func Success(status int) bool {
	return status >= 200 && status < 300
}
