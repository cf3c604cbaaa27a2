// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"strings"
	"time"

	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

const (
	warmUpIdle int32 = iota
	warmUpRunning
	warmUpDone
)

// WarmUp purges expired rows and pre-populates the popular and recent tiers.
// It runs at most once per Cache; calls made while it is running or after it
// completed return false without doing anything.
func (c *Cache) WarmUp(ctx context.Context) bool {
	if !c.warmUpState.CompareAndSwap(warmUpIdle, warmUpRunning) {
		metrics.WarmUpRuns.WithLabelValues("skipped").Inc()
		return false
	}
	defer c.warmUpState.Store(warmUpDone)

	log := c.logger(ctx)
	start := c.now()

	purged := c.Purge(ctx, 0)
	popular := 0
	if c.warmUpPopularLimit > 0 {
		popular = len(c.ListPopular(ctx, c.warmUpPopularLimit, 0))
	}
	recent := 0
	if c.warmUpRecentLimit > 0 {
		recent = len(c.ListRecent(ctx, c.warmUpRecentLimit, 0))
	}

	metrics.WarmUpRuns.WithLabelValues("completed").Inc()
	log.Info().
		Int64("purged", purged).
		Int("popular", popular).
		Int("recent", recent).
		Dur("duration", c.now().Sub(start)).
		Msg("Cache warm-up complete")
	return true
}

// WarmedUp reports whether WarmUp has finished.
func (c *Cache) WarmedUp() bool {
	return c.warmUpState.Load() == warmUpDone
}

// Purge deletes records not refreshed within retention and returns how many
// were removed. A non-positive retention uses the configured default.
func (c *Cache) Purge(ctx context.Context, retention time.Duration) int64 {
	if retention <= 0 {
		retention = c.purgeRetention
	}
	n := c.store.PurgeOlderThan(ctx, retention)
	metrics.RecordPurge(n)
	c.logger(ctx).Info().Int64("deleted", n).Dur("retention", retention).Msg("Purged expired records")
	return n
}

// MarkForceRefresh flags ids so their next read goes to the upstream.
// Blank ids are ignored.
func (c *Cache) MarkForceRefresh(ctx context.Context, ids []string) bool {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return true
	}
	ok := c.store.MarkForceRefresh(ctx, clean)
	c.logger(ctx).Info().Strs("ids", clean).Bool("ok", ok).Msg("Flagged records for forced refresh")
	return ok
}

// Clear removes every record and severs dependent references.
func (c *Cache) Clear(ctx context.Context) bool {
	ok := c.store.ClearAll(ctx)
	if ok {
		c.logger(ctx).Info().Msg("Cache cleared")
	} else {
		c.logger(ctx).Error().Msg("Cache clear failed")
	}
	return ok
}

// Stats reports aggregate cache health.
func (c *Cache) Stats(ctx context.Context) models.CacheStats {
	var stats models.CacheStats
	if top := c.store.ListByPopularity(ctx, 1); len(top) > 0 && top[0].PopularityScore > 0 {
		stats.HasPopular = true
	}
	stats.HasRecent = len(c.store.ListByRecency(ctx, 1)) > 0
	stats.HasStale = len(c.store.ListStale(ctx, c.policy.TTL(models.ClassDetail), 1)) > 0
	return stats
}
