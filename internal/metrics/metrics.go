// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package metrics holds the Prometheus instrumentation for Cartridge.
//
// Everything is registered on the default registry through promauto and
// exposed by the HTTP server at /metrics. Callers should prefer the Record*
// helpers over touching the vectors directly so label values stay consistent.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes.
const (
	OutcomeHit           = "hit"
	OutcomeMiss          = "miss"
	OutcomeRefreshed     = "refreshed"
	OutcomeStaleFallback = "stale_fallback"
	OutcomeNotFound      = "not_found"
	OutcomeAuthFailure   = "auth_failure"
)

var (
	// Cache orchestrator

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_cache_lookups_total",
			Help: "Cache reads by staleness tier and outcome",
		},
		[]string{"tier", "outcome"},
	)

	CacheDedupShared = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartridge_cache_dedup_shared_total",
			Help: "By-id lookups that were served from another caller's in-flight fetch",
		},
	)

	DetachedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_detached_tasks_total",
			Help: "Fire-and-forget tasks by name and result",
		},
		[]string{"task", "result"}, // result: success, failure, panic
	)

	DetachedTasksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartridge_detached_tasks_in_flight",
			Help: "Detached tasks currently running",
		},
	)

	RefreshBatchRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_refresh_batch_records_total",
			Help: "Records processed by stale refresh batches",
		},
		[]string{"result"}, // refreshed, failed
	)

	RefreshBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartridge_refresh_batch_duration_seconds",
			Help:    "Wall time of one stale refresh batch",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	PurgedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cartridge_purged_records_total",
			Help: "Records deleted by age-based purge",
		},
	)

	WarmUpRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_warm_up_runs_total",
			Help: "Warm-up invocations by result",
		},
		[]string{"result"}, // completed, skipped
	)

	// Upstream

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_upstream_requests_total",
			Help: "Upstream API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartridge_upstream_request_duration_seconds",
			Help:    "Upstream API request duration including throttle delay",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	UpstreamTokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_upstream_token_refreshes_total",
			Help: "Client-credentials token exchanges by result",
		},
		[]string{"result"},
	)

	UpstreamMappingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_upstream_mapping_errors_total",
			Help: "Upstream items dropped because they could not be mapped",
		},
		[]string{"endpoint"},
	)

	// Store

	StoreOperations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartridge_store_operation_duration_seconds",
			Help:    "Durable store operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_store_errors_total",
			Help: "Durable store errors swallowed at the store boundary",
		},
		[]string{"backend", "operation"},
	)

	// Circuit breaker

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartridge_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected, excluded
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartridge_circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartridge_api_requests_total",
			Help: "HTTP API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartridge_api_request_duration_seconds",
			Help:    "HTTP API request duration",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordCacheLookup counts one cache read.
func RecordCacheLookup(tier, outcome string) {
	CacheLookups.WithLabelValues(tier, outcome).Inc()
}

// RecordDetachedTask counts one finished detached task.
func RecordDetachedTask(task string, err error, panicked bool) {
	result := "success"
	switch {
	case panicked:
		result = "panic"
	case err != nil:
		result = "failure"
	}
	DetachedTasks.WithLabelValues(task, result).Inc()
}

// RecordRefreshBatch records the outcome of one stale refresh batch.
func RecordRefreshBatch(refreshed, failed int, duration time.Duration) {
	RefreshBatchRecords.WithLabelValues("refreshed").Add(float64(refreshed))
	RefreshBatchRecords.WithLabelValues("failed").Add(float64(failed))
	RefreshBatchDuration.Observe(duration.Seconds())
}

// RecordPurge adds deleted rows to the purge counter.
func RecordPurge(rows int64) {
	if rows > 0 {
		PurgedRecords.Add(float64(rows))
	}
}

// RecordUpstreamRequest records one upstream call. status is the HTTP status,
// or 0 when the request never produced a response.
func RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(endpoint, label).Inc()
	UpstreamRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordTokenRefresh counts one token exchange.
func RecordTokenRefresh(err error) {
	if err != nil {
		UpstreamTokenRefreshes.WithLabelValues("failure").Inc()
		return
	}
	UpstreamTokenRefreshes.WithLabelValues("success").Inc()
}

// RecordStoreOperation observes a store call and counts it as an error when err is set.
func RecordStoreOperation(backend, operation string, duration time.Duration, err error) {
	StoreOperations.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		StoreErrors.WithLabelValues(backend, operation).Inc()
	}
}

// RecordAPIRequest records one HTTP API request.
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
