// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// Detached task names.
const (
	taskSearchUpsert  = "search-upsert"
	taskPopularUpsert = "popular-upsert"
	taskRecentUpsert  = "recent-upsert"
)

// detach runs fn on its own goroutine. The caller never waits for it and
// its failures, including panics, are logged and counted here. fn receives
// a context that keeps ctx's values but not its cancellation.
func (c *Cache) detach(ctx context.Context, name string, fn func(ctx context.Context) error) {
	taskCtx := logging.ContextWithTask(context.WithoutCancel(ctx), name)

	c.tasks.Add(1)
	metrics.DetachedTasksInFlight.Inc()
	go func() {
		defer c.tasks.Done()
		defer metrics.DetachedTasksInFlight.Dec()

		err, panicked := runRecovered(taskCtx, fn)
		metrics.RecordDetachedTask(name, err, panicked)
		if err != nil {
			c.logger(taskCtx).Warn().Err(err).Bool("panic", panicked).Msg("Detached task failed")
		}
	}()
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			panicked = true
		}
	}()
	return fn(ctx), false
}

// upsertDetached persists recs in the background. recs must not be shared
// with the caller.
func (c *Cache) upsertDetached(ctx context.Context, name string, recs []*models.MetadataRecord) {
	if len(recs) == 0 {
		return
	}
	c.detach(ctx, name, func(ctx context.Context) error {
		failed := 0
		for _, r := range recs {
			if !c.store.Upsert(ctx, r) {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d upserts failed", failed, len(recs))
		}
		return nil
	})
}

func cloneAll(recs []*models.MetadataRecord) []*models.MetadataRecord {
	out := make([]*models.MetadataRecord, 0, len(recs))
	for _, r := range recs {
		if r != nil {
			out = append(out, r.Clone())
		}
	}
	return out
}
