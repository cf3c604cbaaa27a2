// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package igdb is the upstream metadata client. It talks to the IGDB v4 API
// and never touches the record store.
//
// Every query goes through the same pipeline:
//
//	circuit breaker -> retryablehttp -> throttle -> attempt timeout -> network
//
// The throttle keeps outbound calls at least IGDBConfig.MinInterval apart.
// IGDBConfig.Timeout bounds each attempt from the moment the throttle admits
// it, so a long queue does not eat into it.
// A 401 from the query endpoint drops the cached token and retries once.
package igdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
)

const (
	// maxErrorBodySize caps how much of an error body is kept.
	maxErrorBodySize = 64 * 1024

	// maxResponseSize caps a successful response body.
	maxResponseSize = 8 << 20

	breakerName = "igdb-api"
)

// Client is the IGDB API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	tokens  *tokenManager
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	now     func() time.Time
	log     zerolog.Logger
}

type options struct {
	now       func() time.Time
	transport http.RoundTripper
}

// Option configures a Client.
type Option func(*options)

// WithClock overrides the clock used to build date-relative queries.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTransport replaces the base transport under the throttle.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// NewClient builds a client from configuration. Missing credentials are not
// an error here; every call then fails with an *UpstreamAuthError.
func NewClient(cfg *config.IGDBConfig, opts ...Option) *Client {
	o := options{now: time.Now, transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(&o)
	}
	log := logging.WithComponent("igdb")

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: newThrottledTransport(cfg.MinInterval, cfg.Timeout, o.transport)}
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.CheckRetry = checkRetry
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = retryLogger{log: log}

	tokenClient := &http.Client{Transport: o.transport, Timeout: cfg.Timeout}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  newTokenManager(cfg.ClientID, cfg.ClientSecret, cfg.TokenURL, cfg.TokenExpiryMargin, tokenClient),
		http:    rc.StandardClient(),
		breaker: newBreaker(cfg.BreakerFailures, cfg.BreakerTimeout),
		now:     o.now,
		log:     log,
	}
}

// ResetAuth clears a remembered credential rejection so the next call
// attempts a fresh token exchange.
func (c *Client) ResetAuth() {
	c.tokens.Reset()
}

// SetCredentials swaps the client credentials at runtime.
func (c *Client) SetCredentials(clientID, clientSecret, tokenURL string) {
	c.tokens.SetCredentials(clientID, clientSecret, tokenURL)
}

// Call POSTs an Apicalypse query to endpoint and returns the raw response body.
func (c *Client) Call(ctx context.Context, endpoint, query string) ([]byte, error) {
	body, err := c.callOnce(ctx, endpoint, query)

	var reqErr *UpstreamRequestError
	if errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized {
		c.log.Info().Str("endpoint", endpoint).Msg("IGDB rejected access token, re-authenticating")
		c.tokens.Invalidate()
		body, err = c.callOnce(ctx, endpoint, query)
	}
	return body, err
}

func (c *Client) callOnce(ctx context.Context, endpoint, query string) ([]byte, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}

	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, endpoint, query, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "rejected").Inc()
			return nil, &UpstreamRequestError{Endpoint: endpoint, Err: fmt.Errorf("%w: %w", ErrCircuitOpen, err)}
		}
		if isBreakerExcluded(err) {
			metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "excluded").Inc()
			return nil, err
		}
		metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "failure").Inc()
		metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(breakerName).Set(float64(c.breaker.Counts().ConsecutiveFailures))
		return nil, err
	}

	metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "success").Inc()
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(breakerName).Set(0)
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint, query, token string) ([]byte, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader([]byte(query)))
	if err != nil {
		return nil, &UpstreamRequestError{Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Client-ID", c.tokens.ClientID())
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.RecordUpstreamRequest(endpoint, 0, time.Since(start))
		return nil, &UpstreamRequestError{Endpoint: endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordUpstreamRequest(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamRequestError{
			Endpoint: endpoint,
			Status:   resp.StatusCode,
			Body:     readBodyForError(resp.Body),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &UpstreamRequestError{Endpoint: endpoint, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// checkRetry never retries a call that timed out in the throttle queue; the
// next attempt would only queue again.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if errors.Is(err, ErrThrottled) {
		return false, err
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func readBodyForError(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

func truncate(s string) string {
	if len(s) > maxErrorBodySize {
		return s[:maxErrorBodySize]
	}
	return s
}
