// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package services

import (
	"context"
	"time"

	"github.com/tomtom215/cartridge/internal/gamecache"
	"github.com/tomtom215/cartridge/internal/logging"
)

// WarmUpper is satisfied by *gamecache.Cache.
type WarmUpper interface {
	WarmUp(ctx context.Context) bool
}

// WarmUpService runs the cache warm-up once and then idles until shutdown.
//
// Warm-up purges expired rows, then pre-populates the popular and recent
// listings so the first portal page render is served from the store. It runs
// in the data layer, next to the maintenance sweep, while the API layer is
// already accepting requests; lookups made before it finishes simply read
// through to the upstream.
//
// The cache guards warm-up itself, so a restart by the supervisor after the
// first run is a no-op.
//
// Example usage:
//
//	if cfg.Cache.WarmUpOnStart {
//		tree.AddDataService(services.NewWarmUpService(cache))
//	}
type WarmUpService struct {
	cache WarmUpper
	name  string
}

// NewWarmUpService creates the warm-up service.
func NewWarmUpService(cache WarmUpper) *WarmUpService {
	return &WarmUpService{cache: cache, name: "cache-warm-up"}
}

// Serve implements suture.Service.
func (s *WarmUpService) Serve(ctx context.Context) error {
	s.cache.WarmUp(logging.ContextWithTask(ctx, s.name))
	<-ctx.Done()
	return ctx.Err()
}

// String implements fmt.Stringer for suture's logs.
func (s *WarmUpService) String() string {
	return s.name
}

// Maintainer is satisfied by *gamecache.Cache.
type Maintainer interface {
	Purge(ctx context.Context, retention time.Duration) int64
	RefreshStaleBatch(ctx context.Context, batchSize int) gamecache.RefreshReport
}

// MaintenanceConfig controls the maintenance sweep schedule. A zero interval
// disables that job.
type MaintenanceConfig struct {
	PurgeInterval    time.Duration
	PurgeRetention   time.Duration
	RefreshInterval  time.Duration
	RefreshBatchSize int
}

// MaintenanceService is the scheduled maintenance sweep.
//
// Two jobs run on independent tickers:
//   - purge: deletes records not refreshed within PurgeRetention
//   - refresh: re-fetches up to RefreshBatchSize stale or force-flagged records
//
// Both run on the same goroutine, so jobs never overlap and a slow job
// delays the next tick rather than stacking. A job that panics is restarted
// by the supervisor without affecting the API layer.
//
// Example usage:
//
//	tree.AddDataService(services.NewMaintenanceService(cache, services.MaintenanceConfig{
//		PurgeInterval:    6 * time.Hour,
//		PurgeRetention:   7 * 24 * time.Hour,
//		RefreshInterval:  time.Hour,
//		RefreshBatchSize: 25,
//	}))
type MaintenanceService struct {
	cache  Maintainer
	config MaintenanceConfig
	name   string
}

// NewMaintenanceService creates the maintenance sweep service.
func NewMaintenanceService(cache Maintainer, cfg MaintenanceConfig) *MaintenanceService {
	return &MaintenanceService{cache: cache, config: cfg, name: "cache-maintenance"}
}

// Serve implements suture.Service.
//
// Serve blocks until ctx is canceled. Each job gets a task-tagged context so
// its log lines can be told apart from request traffic.
func (s *MaintenanceService) Serve(ctx context.Context) error {
	purgeC, stopPurge := tickerChan(s.config.PurgeInterval)
	defer stopPurge()
	refreshC, stopRefresh := tickerChan(s.config.RefreshInterval)
	defer stopRefresh()

	log := logging.WithComponent(s.name)
	log.Info().
		Dur("purge_interval", s.config.PurgeInterval).
		Dur("refresh_interval", s.config.RefreshInterval).
		Msg("Maintenance sweep started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-purgeC:
			s.cache.Purge(logging.ContextWithTask(ctx, "scheduled-purge"), s.config.PurgeRetention)
		case <-refreshC:
			s.cache.RefreshStaleBatch(logging.ContextWithTask(ctx, "scheduled-refresh"), s.config.RefreshBatchSize)
		}
	}
}

// String implements fmt.Stringer for suture's logs.
func (s *MaintenanceService) String() string {
	return s.name
}

// tickerChan returns a ticker channel for d, or a nil channel that never fires
// when d is not positive.
func tickerChan(d time.Duration) (<-chan time.Time, func()) {
	if d <= 0 {
		return nil, func() {}
	}
	t := time.NewTicker(d)
	return t.C, t.Stop
}
