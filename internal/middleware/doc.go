// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package middleware holds the HTTP middleware shared by the API router.

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request count and latency by chi route pattern
  - AdminKey: constant-time bearer key check for maintenance routes

All of them have the func(http.Handler) http.Handler shape used by chi's
r.Use and r.With.
*/
package middleware
