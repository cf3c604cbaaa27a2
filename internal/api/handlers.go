// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/cartridge/internal/gamecache"
	"github.com/tomtom215/cartridge/internal/igdb"
	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/models"
)

// GameCache is the cache surface the handlers use.
//
// *gamecache.Cache implements it. Tests substitute a fake to force the error
// paths (auth failure, canceled flights, failing store writes) without an
// upstream.
type GameCache interface {
	GetByID(ctx context.Context, id string, force bool) (*models.ClientRecord, error)
	Search(ctx context.Context, text string, limit int) []*models.ClientRecord
	ListPopular(ctx context.Context, limit, offset int) []*models.ClientRecord
	ListRecent(ctx context.Context, limit, offset int) []*models.ClientRecord
	RefreshStaleBatch(ctx context.Context, batchSize int) gamecache.RefreshReport
	Purge(ctx context.Context, retention time.Duration) int64
	MarkForceRefresh(ctx context.Context, ids []string) bool
	Clear(ctx context.Context) bool
	Stats(ctx context.Context) models.CacheStats
	WarmedUp() bool
}

// Pinger reports store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the game and cache endpoints.
//
// Game endpoints never fail because the upstream is down: the cache degrades
// to stored copies, and an empty listing is an empty array rather than an
// error. The statuses a game lookup can produce are:
//   - 200 with the record
//   - 404 when neither the store nor the upstream knows the id
//   - 502 when the upstream rejected our credentials and nothing is stored
//   - 503 when the request was canceled or timed out while waiting
//
// Cache maintenance endpoints are mounted behind the admin key by NewRouter;
// Handler itself does no authentication.
type Handler struct {
	cache            GameCache
	store            Pinger
	refreshBatchSize int
	startTime        time.Time
}

// NewHandler creates a handler. store may be nil when the backend has no
// ping; refreshBatchSize is the default for refresh-stale without a
// batch_size parameter.
func NewHandler(cache GameCache, store Pinger, refreshBatchSize int) *Handler {
	if refreshBatchSize <= 0 {
		refreshBatchSize = gamecache.DefaultRefreshBatchSize
	}
	return &Handler{
		cache:            cache,
		store:            store,
		refreshBatchSize: refreshBatchSize,
		startTime:        time.Now(),
	}
}

// GetGame handles GET /api/v1/games/{id}?force=true.
//
// 404 when neither the store nor the upstream has the id. 502 only when the
// upstream rejected our credentials and nothing is cached.
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, parseLookup)
	if !ok {
		return
	}

	rec, err := h.cache.GetByID(r.Context(), req.ID, req.Force)
	switch {
	case igdb.IsAuthError(err):
		rw.UpstreamAuthError(err)
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		rw.ServiceUnavailable("Request canceled before the lookup completed")
		return
	case err != nil:
		logging.Ctx(r.Context()).Error().Err(err).Str("id", req.ID).Msg("Game lookup failed")
		rw.InternalError("Game lookup failed")
		return
	case rec == nil:
		rw.NotFound("Game not found")
		return
	}
	rw.Success(rec)
}

// SearchGames handles GET /api/v1/games/search?q=&limit=.
func (h *Handler) SearchGames(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, parseSearch)
	if !ok {
		return
	}

	results := h.cache.Search(r.Context(), req.Query, req.Limit)
	rw.SuccessWithPagination(results, &PaginationMeta{
		Count: len(results),
		Limit: effectiveLimit(req.Limit),
	})
}

// PopularGames handles GET /api/v1/games/popular?limit=&offset=.
func (h *Handler) PopularGames(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, h.cache.ListPopular)
}

// RecentGames handles GET /api/v1/games/recent?limit=&offset=.
func (h *Handler) RecentGames(w http.ResponseWriter, r *http.Request) {
	h.listing(w, r, h.cache.ListRecent)
}

func (h *Handler) listing(w http.ResponseWriter, r *http.Request, list func(context.Context, int, int) []*models.ClientRecord) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, parseListing)
	if !ok {
		return
	}

	results := list(r.Context(), req.Limit, req.Offset)
	rw.SuccessWithPagination(results, &PaginationMeta{
		Count:  len(results),
		Offset: req.Offset,
		Limit:  effectiveLimit(req.Limit),
	})
}

// RefreshStale handles POST /api/v1/cache/refresh-stale?batch_size=.
func (h *Handler) RefreshStale(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, parseRefreshStale)
	if !ok {
		return
	}
	size := req.BatchSize
	if size == 0 {
		size = h.refreshBatchSize
	}
	rw.Success(h.cache.RefreshStaleBatch(r.Context(), size))
}

// ForceRefresh handles POST /api/v1/cache/force-refresh with {"ids": [...]}.
func (h *Handler) ForceRefresh(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, decodeForceRefresh)
	if !ok {
		return
	}
	if !h.cache.MarkForceRefresh(r.Context(), req.IDs) {
		rw.InternalError("Failed to mark records for refresh")
		return
	}
	rw.Success(map[string]interface{}{"marked": len(req.IDs)})
}

// Purge handles POST /api/v1/cache/purge?older_than=7d.
func (h *Handler) Purge(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	req, ok := bind(rw, r, parsePurge)
	if !ok {
		return
	}
	rw.Success(map[string]int64{"purged": h.cache.Purge(r.Context(), req.OlderThan)})
}

// Clear handles DELETE /api/v1/cache.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if !h.cache.Clear(r.Context()) {
		rw.InternalError("Failed to clear the cache")
		return
	}
	logging.Ctx(r.Context()).Warn().Msg("Cache cleared via API")
	rw.Success(map[string]bool{"cleared": true})
}

// StatsResponse is the body of GET /api/v1/cache/stats.
type StatsResponse struct {
	models.CacheStats
	WarmedUp bool `json:"warmed_up"`
}

// Stats handles GET /api/v1/cache/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(StatsResponse{
		CacheStats: h.cache.Stats(r.Context()),
		WarmedUp:   h.cache.WarmedUp(),
	})
}

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status         string  `json:"status"`
	StoreConnected bool    `json:"store_connected"`
	WarmedUp       bool    `json:"warmed_up"`
	Uptime         float64 `json:"uptime_seconds"`
}

// Health handles GET /api/v1/health. A failing store ping answers 503 with
// status "degraded".
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	connected := true
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Store ping failed")
			connected = false
		}
	}

	health := HealthStatus{
		Status:         "healthy",
		StoreConnected: connected,
		WarmedUp:       h.cache.WarmedUp(),
		Uptime:         time.Since(h.startTime).Seconds(),
	}
	if !connected {
		health.Status = "degraded"
		rw.writeJSON(http.StatusServiceUnavailable, APIResponse{Success: false, Data: health, Meta: rw.meta(nil)})
		return
	}
	rw.Success(health)
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return gamecache.DefaultPageSize
	}
	return limit
}
