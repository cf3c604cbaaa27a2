// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// throttledTransport spaces outbound requests at least interval apart
// across every goroutine sharing it. Retries pass through it too.
//
// The attempt timeout starts once the limiter admits the request, so time
// spent queued behind other callers never counts against it.
type throttledTransport struct {
	limiter *rate.Limiter
	timeout time.Duration
	next    http.RoundTripper
}

func newThrottledTransport(interval, timeout time.Duration, next http.RoundTripper) *throttledTransport {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if next == nil {
		next = http.DefaultTransport
	}
	return &throttledTransport{limiter: rate.NewLimiter(limit, 1), timeout: timeout, next: next}
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrThrottled, err)
	}
	if t.timeout <= 0 {
		return t.next.RoundTrip(req)
	}

	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose keeps the attempt context alive until the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// retryLogger adapts zerolog to retryablehttp.LeveledLogger.
type retryLogger struct {
	log zerolog.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.event(l.log.Error(), msg, kv) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.event(l.log.Warn(), msg, kv) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.event(l.log.Debug(), msg, kv) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.event(l.log.Trace(), msg, kv) }

func (l retryLogger) event(e *zerolog.Event, msg string, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
