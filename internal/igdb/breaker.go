// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"context"
	"errors"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
)

// newBreaker opens after maxFailures consecutive upstream failures and probes
// again after timeout. Client errors (4xx other than 429) mean the upstream is
// healthy and do not count against it.
func newBreaker(maxFailures uint32, timeout time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	if maxFailures == 0 {
		maxFailures = 5
	}
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)
	metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= maxFailures
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening IGDB circuit")
			}
			return trip
		},
		IsSuccessful: isBreakerSuccess,
		IsExcluded:   isBreakerExcluded,
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr, toStr := stateToString(from), stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
			if to == gobreaker.StateClosed {
				metrics.CircuitBreakerConsecutiveFailures.WithLabelValues(name).Set(0)
			}
		},
	})
}

func isBreakerSuccess(err error) bool {
	if err == nil {
		return true
	}
	var reqErr *UpstreamRequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status >= 400 && reqErr.Status < 500 && reqErr.Status != http.StatusTooManyRequests
	}
	return false
}

// isBreakerExcluded drops calls that never reached the upstream, or that the
// caller abandoned, from the breaker counts.
func isBreakerExcluded(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, context.Canceled)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
