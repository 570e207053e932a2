// Package client is the Go SDK for the video processing service.
//
// Jobs are built fluently and submitted with Process:
//
//	c := client.NewClient(apiKey)
//	out, err := c.NewJob().
//		From("https://example.com/in.mp4").
//		To("clips/out.mp4").
//		Trim(10*time.Second, 15*time.Second).
//		Resize(1280, 720).
//		Process(ctx)
//
// Pipelines chain jobs so each stage reads the previous stage's output.
package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"videorelay/pkg/transport"
	"videorelay/pkg/video"
)

const (
	// DefaultBaseURL is the public service endpoint.
	DefaultBaseURL = "https://api.panache.video"
	defaultTimeout = 30 * time.Second
)

// Submitter sends one processing request and returns its result.
// *Client implements it; tests and embedders may supply their own.
type Submitter interface {
	Submit(ctx context.Context, req *video.Request) (*video.Result, error)
}

// Client talks to the public POST /process-video endpoint.
type Client struct {
	baseURL   string
	apiKey    string
	timeout   time.Duration
	http      *http.Client
	transport *transport.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another deployment.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. Its Timeout takes precedence.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithTimeout bounds each submission (default 30s).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a client authenticating with apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	var topts []transport.Option
	if c.http != nil {
		topts = append(topts, transport.WithHTTPClient(c.http))
	}
	c.transport = transport.New(c.timeout, topts...)
	return c
}

// BaseURL returns the configured endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Submit sends req to the service. Failures from the service come back as
// *transport.APIError, timeouts as transport.ErrTimeout.
func (c *Client) Submit(ctx context.Context, req *video.Request) (*video.Result, error) {
	target := transport.Target{URL: c.baseURL + "/process-video"}
	if c.apiKey != "" {
		target.Headers = map[string]string{"Authorization": "Bearer " + c.apiKey}
	}
	return c.transport.Submit(ctx, target, req)
}

// NewJob starts a job bound to this client.
func (c *Client) NewJob() *Job {
	return NewJob(c)
}

// NewPipeline starts an empty pipeline.
func (c *Client) NewPipeline() *Pipeline {
	return NewPipeline()
}

var _ Submitter = (*Client)(nil)
