// Package transport submits processing requests over HTTP.
//
// It is the single outbound call used both by the dispatcher, to replay a
// request onto a provisioned machine, and by the client SDK, to reach the
// public service.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"videorelay/pkg/video"
)

// maxResponseSize bounds how much of a response body is decoded.
const maxResponseSize = 1 << 20 // 1 MB

// ErrTimeout is returned when a submission exceeds its deadline.
var ErrTimeout = errors.New("request timed out")

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string // value of the "error" field, if the body had one
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Target is where a request is submitted.
type Target struct {
	URL     string
	Headers map[string]string // extra headers, e.g. routing or authorization
}

// Client submits processing requests.
type Client struct {
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout is used as is.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// New creates a client whose calls are bounded by timeout.
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit POSTs req as JSON to target and decodes the result.
// Timeouts are reported as ErrTimeout, non-2xx responses as *APIError.
func (c *Client) Submit(ctx context.Context, target Target, req *video.Request) (*video.Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range target.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("POST %s: %w", target.URL, ErrTimeout)
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	reader := io.LimitReader(resp.Body, maxResponseSize)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var errResp video.ErrorResponse
		if json.NewDecoder(reader).Decode(&errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return nil, apiErr
	}

	var result video.Result
	if err := json.NewDecoder(reader).Decode(&result); err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("POST %s: %w", target.URL, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
