package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"panorama/internal/model"
	"panorama/internal/table"
)

const (
	defaultTimeout   = 90 * time.Second
	defaultUserAgent = "panorama-collector/0.1"
	snippetLimit     = 500
)

// NetworkError covers connection, TLS and timeout failures.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// StatusError is returned for any non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request to %s failed (%s)", e.URL, e.Status)
	}
	return fmt.Sprintf("request to %s failed (%s): %s", e.URL, e.Status, e.Body)
}

// ParseError is returned when the body does not decode into the expected
// shape. Snippet holds the start of the body.
type ParseError struct {
	URL     string
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unable to parse response from %s: %v (body starts with %q)", e.URL, e.Err, e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

func URLOf(err error) string {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.URL
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.URL
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return parseErr.URL
	}
	return ""
}

type Options struct {
	Timeout         time.Duration
	UserAgent       string
	RateLimitPerSec int
	RateLimitBurst  int
	Logger          *zap.Logger
}

// Client issues single, unretried GET requests with a bounded timeout.
type Client struct {
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if opts.RateLimitPerSec > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitPerSec), burst)
	}
	return &Client{
		http:      &http.Client{Timeout: opts.Timeout},
		limiter:   limiter,
		userAgent: opts.UserAgent,
		logger:    opts.Logger,
	}
}

func (c *Client) Get(ctx context.Context, endpoint string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &NetworkError{URL: endpoint, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	started := time.Now()
	c.logger.Debug("http request", zap.String("url", endpoint))
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: endpoint, Err: err}
	}
	c.logger.Debug("http response",
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(started)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       snippet(body),
		}
	}
	return body, nil
}

func (c *Client) GetTable(ctx context.Context, endpoint string, shape model.ResponseShape) (model.Table, error) {
	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return model.Table{}, err
	}
	tbl, err := table.Decode(body, shape)
	if err != nil {
		return model.Table{}, &ParseError{URL: endpoint, Snippet: snippet(body), Err: err}
	}
	return tbl, nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > snippetLimit {
		text = text[:snippetLimit]
	}
	return text
}
