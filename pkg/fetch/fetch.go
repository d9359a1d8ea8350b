// Package fetch performs JSON GET requests against third party APIs,
// retrying throttled and failed responses with exponential backoff.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// StatusError is returned for non 2xx responses.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %s", e.URL, e.Code, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

type Client struct {
	http    *http.Client
	retries uint64
	base    time.Duration
	logger  *slog.Logger
}

type Option func(*Client)

// WithRetries sets how often a failed request is repeated and the first backoff.
func WithRetries(retries uint64, base time.Duration) Option {
	return func(client *Client) {
		client.retries = retries
		client.base = base
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(client *Client) {
		client.logger = l
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 10 * time.Second},
		retries: 3,
		base:    500 * time.Millisecond,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.base))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.get(ctx, url, header, out)
		if err == nil {
			return nil
		}

		if se, ok := err.(*StatusError); ok && !se.Retryable() {
			return err
		}
		c.logger.Debug(fmt.Sprintf("attempt %d: %v", attempt, err))
		return retry.RetryableError(err)
	})
}

func (c *Client) get(ctx context.Context, url string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("NewRequest(%s): %w", url, err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &StatusError{URL: url, Code: res.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", url, err)
	}
	return nil
}
