// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// RefreshReport summarizes one RefreshStaleBatch run.
type RefreshReport struct {
	Attempted int           `json:"attempted"`
	Refreshed int           `json:"refreshed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration_ns"`
}

// RefreshStaleBatch re-fetches up to batchSize stale or force-flagged records
// concurrently. Each record settles on its own; failures are logged and
// counted but never stop the rest of the batch. A record already being
// fetched by GetByID shares that fetch instead of starting another.
func (c *Cache) RefreshStaleBatch(ctx context.Context, batchSize int) RefreshReport {
	if batchSize < 1 {
		batchSize = DefaultRefreshBatchSize
	}
	start := c.now()
	log := c.logger(ctx)

	stale := c.store.ListStale(ctx, c.policy.TTL(models.ClassDetail), batchSize)
	report := RefreshReport{Attempted: len(stale)}
	if len(stale) == 0 {
		return report
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = multierror.Append(errs, err)
		report.Failed++
	}

	// Worker errors are collected rather than returned so one failure
	// never cancels the group.
	var g errgroup.Group
	g.SetLimit(c.refreshConcurrency)
	for _, rec := range stale {
		id := rec.ExternalID
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(fmt.Errorf("%s: %w", id, err))
				return nil
			}
			fetched, err := c.fetchAndStore(ctx, id)
			switch {
			case err != nil:
				fail(fmt.Errorf("%s: %w", id, err))
				return nil
			case fetched.rec == nil:
				fail(fmt.Errorf("%s: upstream returned no record", id))
				return nil
			case !fetched.persisted:
				fail(fmt.Errorf("%s: upsert failed", id))
				return nil
			}
			mu.Lock()
			report.Refreshed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = c.now().Sub(start)
	metrics.RecordRefreshBatch(report.Refreshed, report.Failed, report.Duration)

	event := log.Info()
	if err := errs.ErrorOrNil(); err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Int("attempted", report.Attempted).
		Int("refreshed", report.Refreshed).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("Stale refresh batch finished")
	return report
}
