// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cartridge/internal/middleware"
)

// RouterConfig configures NewRouter. A nil Middleware uses
// DefaultChiMiddlewareConfig.
type RouterConfig struct {
	// AdminKey protects /api/v1/cache. Empty makes those routes answer 404.
	AdminKey   string
	Middleware *ChiMiddlewareConfig
}

// NewRouter builds the chi router for all endpoints.
//
// Route layout:
//
//	GET    /api/v1/health                 no rate limit, no auth
//	GET    /metrics                       Prometheus exposition
//	GET    /api/v1/games/{id|search|popular|recent}   rate limited
//	*      /api/v1/cache/...              rate limited, admin key
//
// Every route shares the global stack: request id, real IP, panic recovery,
// CORS, JSON compression and per-route Prometheus metrics. Unknown routes and
// methods answer with the standard error envelope.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	mw := NewChiMiddleware(cfg.Middleware)
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.CORS())
	r.Use(chimiddleware.Compress(5, "application/json"))
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).NotFound("Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
	})

	r.Get("/api/v1/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/games", func(r chi.Router) {
		r.Use(mw.RateLimit())

		// Static segments before {id}.
		r.Get("/search", h.SearchGames)
		r.Get("/popular", h.PopularGames)
		r.Get("/recent", h.RecentGames)
		r.Get("/{id}", h.GetGame)
	})

	r.Route("/api/v1/cache", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(middleware.AdminKey(cfg.AdminKey, denyAdmin))

		r.Get("/stats", h.Stats)
		r.Post("/refresh-stale", h.RefreshStale)
		r.Post("/force-refresh", h.ForceRefresh)
		r.Post("/purge", h.Purge)
		r.Delete("/", h.Clear)
	})

	return r
}

func denyAdmin(w http.ResponseWriter, r *http.Request, status int) {
	rw := NewResponseWriter(w, r)
	if status == http.StatusNotFound {
		rw.NotFound("Route not found")
		return
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="cartridge"`)
	rw.Unauthorized("A valid admin key is required")
}
