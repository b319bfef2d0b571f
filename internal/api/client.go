package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Client is a JSON REST client. One instance talks to one base URL: the
// service builds one for the exchange (tickers, klines) and one for the
// exchange-rate source.
type Client struct {
	name       string // Source name used in logs, e.g. "exchange" or "rates"
	baseURL    string // Without trailing slash
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration // Base delay, doubled per attempt with jitter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a client for baseURL. Defaults: 30s timeout, 3 retries
// starting at 1s.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		name:    "rest",
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("source", c.name)

	return c
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// WithName labels the client's log lines.
func WithName(name string) ClientOption {
	return func(c *Client) {
		if name != "" {
			c.name = name
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRetries sets how many attempts a retryable request gets and the base backoff.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger. nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client, for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
