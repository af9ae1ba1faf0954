// Package transport executes generic HTTP envelopes over net/http. The sync
// core never touches sockets directly; this is its single exit point.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	syncer "github.com/Diablofan/taiga/internal/sync"
)

const defaultTimeout = 30 * time.Second

// Client implements sync.Transport over net/http.
type Client struct {
	httpClient *http.Client
	log        *slog.Logger

	// baseURL overrides the scheme+host assembly for tests.
	baseURL string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL routes every request to a fixed base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLogger sets a logger for debug output.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		c.log = log.With("component", "transport")
	}
}

// New creates a transport client.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the envelope and returns the raw response. Network failures
// come back as plain errors; the dispatcher classifies them as retryable.
func (c *Client) Do(ctx context.Context, r *syncer.HTTPRequest) (*syncer.HTTPResponse, error) {
	target := r.URL()
	if c.baseURL != "" {
		u := c.baseURL + r.Path
		if q := r.Query.Encode(); q != "" {
			u += "?" + q
		}
		target = u
	}

	var body io.Reader
	if r.HasBody() {
		if b := r.EncodedBody(); b != nil {
			body = bytes.NewReader(b)
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	reader := io.Reader(resp.Body)
	// The envelope advertises gzip explicitly, so net/http does not
	// decompress for us.
	if strings.Contains(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	respBody, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if c.log != nil {
		c.log.Debug("round trip", "method", r.Method, "url", target, "status", resp.StatusCode)
	}

	return &syncer.HTTPResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}
