// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredentials means no client id/secret pair is configured.
	ErrMissingCredentials = errors.New("igdb: client credentials not configured")

	// ErrCircuitOpen means the circuit breaker rejected the call without
	// contacting the upstream.
	ErrCircuitOpen = errors.New("igdb: circuit breaker open")

	// ErrThrottled means the call gave up while queued behind the outbound
	// rate limit, before any request was sent.
	ErrThrottled = errors.New("igdb: gave up waiting for rate limit")
)

// UpstreamAuthError reports that the upstream refused to issue a token, or
// that no credentials exist. It stays in effect for every later call until
// the credentials change or ResetAuth is called.
type UpstreamAuthError struct {
	Status int // token endpoint status; 0 when credentials are missing
	Err    error
}

func (e *UpstreamAuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("igdb auth failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("igdb auth failed: %v", e.Err)
}

func (e *UpstreamAuthError) Unwrap() error { return e.Err }

// UpstreamRequestError is a failed call to the query endpoint. Status is 0
// when no response was received (network failure, timeout, open breaker).
type UpstreamRequestError struct {
	Endpoint string
	Status   int
	Body     string
	Err      error
}

func (e *UpstreamRequestError) Error() string {
	switch {
	case e.Status > 0 && e.Body != "":
		return fmt.Sprintf("igdb %s: status %d: %s", e.Endpoint, e.Status, e.Body)
	case e.Status > 0:
		return fmt.Sprintf("igdb %s: status %d", e.Endpoint, e.Status)
	default:
		return fmt.Sprintf("igdb %s: %v", e.Endpoint, e.Err)
	}
}

func (e *UpstreamRequestError) Unwrap() error { return e.Err }

// Temporary reports whether retrying later could succeed.
func (e *UpstreamRequestError) Temporary() bool {
	return e.Status == 0 || e.Status == 429 || e.Status >= 500
}

// MappingError is an upstream item that could not be turned into a record.
// Mapping errors are logged and the item is skipped.
type MappingError struct {
	Endpoint string
	Index    int
	Reason   string
	Err      error
}

func (e *MappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("igdb %s: item %d: %s: %v", e.Endpoint, e.Index, e.Reason, e.Err)
	}
	return fmt.Sprintf("igdb %s: item %d: %s", e.Endpoint, e.Index, e.Reason)
}

func (e *MappingError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is or wraps an *UpstreamAuthError.
func IsAuthError(err error) bool {
	var authErr *UpstreamAuthError
	return errors.As(err, &authErr)
}
