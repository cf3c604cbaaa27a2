// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"strconv"
	"strings"

	"github.com/tomtom215/cartridge/internal/igdb"
	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// GetByID returns the record for id, reading through to the upstream when the
// stored copy is missing, stale, force-flagged or force is set.
//
// Concurrent calls with the same (id, force) share one upstream fetch. Upstream
// failures fall back to any stored copy; with nothing stored the result is
// (nil, nil), except for an *igdb.UpstreamAuthError, which is returned.
func (c *Cache) GetByID(ctx context.Context, id string, force bool) (*models.ClientRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}

	key := id + "|" + strconv.FormatBool(force)
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.getByID(flightCtx, id, force)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.CacheDedupShared.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		rec, _ := res.Val.(*models.MetadataRecord)
		return c.formatter.ToClientShape(rec), nil
	}
}

// getByID is the body of one deduplicated flight. The returned record is
// shared by every caller of the flight and must not be mutated afterwards.
func (c *Cache) getByID(ctx context.Context, id string, force bool) (*models.MetadataRecord, error) {
	tier := string(models.ClassDetail)
	log := c.logger(ctx).With().Str("external_id", id).Bool("force", force).Logger()

	if !force {
		if stored := c.store.Get(ctx, id); c.policy.IsFresh(stored, models.ClassDetail, c.now()) {
			metrics.RecordCacheLookup(tier, metrics.OutcomeHit)
			log.Debug().Msg("Fresh cache hit")
			return stored, nil
		}
	}

	fetched, err := c.fetchAndStore(ctx, id)
	if err == nil && fetched.rec != nil {
		if !fetched.persisted {
			log.Warn().Msg("Refreshed record could not be persisted")
		}
		metrics.RecordCacheLookup(tier, metrics.OutcomeRefreshed)
		return fetched.rec, nil
	}

	if stored := c.store.Get(ctx, id); stored != nil {
		metrics.RecordCacheLookup(tier, metrics.OutcomeStaleFallback)
		log.Warn().Err(err).Msg("Upstream unavailable, serving stored copy")
		return stored, nil
	}

	if igdb.IsAuthError(err) {
		metrics.RecordCacheLookup(tier, metrics.OutcomeAuthFailure)
		log.Error().Err(err).Msg("Upstream authentication failed and no stored copy exists")
		return nil, err
	}

	metrics.RecordCacheLookup(tier, metrics.OutcomeNotFound)
	if err != nil {
		log.Warn().Err(err).Msg("Upstream fetch failed and no stored copy exists")
	} else {
		log.Debug().Msg("Record not found")
	}
	return nil, nil
}

// fetchResult is the outcome of one upstream fetch for a single id.
type fetchResult struct {
	rec       *models.MetadataRecord
	persisted bool
}

// fetchAndStore fetches id from the upstream and persists the result. Every
// upstream fetch for one id joins a single flight, whether a lookup or a stale
// refresh asked for it, so at most one call per id is outstanding.
func (c *Cache) fetchAndStore(ctx context.Context, id string) (fetchResult, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.fetches.DoChan(id, func() (any, error) {
		return c.fetchOnce(flightCtx, id)
	})

	select {
	case <-ctx.Done():
		return fetchResult{}, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.CacheDedupShared.Inc()
		}
		r, _ := res.Val.(fetchResult)
		return r, res.Err
	}
}

func (c *Cache) fetchOnce(ctx context.Context, id string) (fetchResult, error) {
	fetched, err := c.upstream.FetchByID(ctx, id)
	if err != nil || fetched == nil {
		return fetchResult{}, err
	}
	c.stamp(fetched)
	if fetched.PopularityScore == 0 {
		if prev := c.store.Get(ctx, id); prev != nil {
			fetched.PopularityScore = prev.PopularityScore
		}
	}
	return fetchResult{rec: fetched, persisted: c.store.Upsert(ctx, fetched)}, nil
}

// Search returns records whose title or summary matches text. Enough fresh
// stored matches answer the query directly; otherwise the upstream is asked
// and its results are returned as-is while they are persisted in the
// background. Stored matches are the fallback when the upstream fails.
func (c *Cache) Search(ctx context.Context, text string, limit int) []*models.ClientRecord {
	text = strings.TrimSpace(text)
	if text == "" {
		return []*models.ClientRecord{}
	}
	limit = clampLimit(limit)
	tier := string(models.ClassSearch)
	log := c.logger(ctx).With().Str("query", text).Int("limit", limit).Logger()

	hits := c.store.SearchText(ctx, text, limit)
	now := c.now()
	fresh := 0
	for _, h := range hits {
		if c.policy.IsFresh(h, models.ClassSearch, now) {
			fresh++
		}
	}
	if fresh >= min(limit, c.searchMinHits) {
		metrics.RecordCacheLookup(tier, metrics.OutcomeHit)
		return c.formatter.ToClientShapes(hits)
	}

	results, err := c.upstream.SearchByTitle(ctx, text, limit)
	if err != nil || len(results) == 0 {
		outcome := metrics.OutcomeStaleFallback
		if len(hits) == 0 {
			outcome = metrics.OutcomeNotFound
		}
		metrics.RecordCacheLookup(tier, outcome)
		if err != nil {
			log.Warn().Err(err).Int("stored_hits", len(hits)).Msg("Upstream search failed, serving stored matches")
		}
		return c.formatter.ToClientShapes(hits)
	}

	c.stamp(results...)
	c.upsertDetached(ctx, taskSearchUpsert, cloneAll(results))
	metrics.RecordCacheLookup(tier, metrics.OutcomeRefreshed)
	return c.formatter.ToClientShapes(results)
}

// ListPopular returns one page of the popularity listing.
func (c *Cache) ListPopular(ctx context.Context, limit, offset int) []*models.ClientRecord {
	return c.listing(ctx, listingPopular, limit, offset)
}

// ListRecent returns one page of the recent-releases listing.
func (c *Cache) ListRecent(ctx context.Context, limit, offset int) []*models.ClientRecord {
	return c.listing(ctx, listingRecent, limit, offset)
}

type listingKind struct {
	class models.StalenessClass
	task  string
}

var (
	listingPopular = listingKind{class: models.ClassPopular, task: taskPopularUpsert}
	listingRecent  = listingKind{class: models.ClassRecent, task: taskRecentUpsert}
)

func (c *Cache) listing(ctx context.Context, kind listingKind, limit, offset int) []*models.ClientRecord {
	limit = clampLimit(limit)
	offset = max(offset, 0)
	tier := string(kind.class)
	log := c.logger(ctx).With().Str("listing", tier).Int("limit", limit).Int("offset", offset).Logger()

	stored := c.storedListing(ctx, kind, limit+offset)
	now := c.now()
	fresh := make([]*models.MetadataRecord, 0, len(stored))
	for _, r := range stored {
		if c.policy.IsFresh(r, kind.class, now) {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) >= min(limit+offset, c.listingMinFresh) {
		metrics.RecordCacheLookup(tier, metrics.OutcomeHit)
		return c.formatter.ToClientShapes(page(fresh, limit, offset))
	}

	results, err := c.upstreamListing(ctx, kind, limit, offset)
	if err != nil || len(results) == 0 {
		outcome := metrics.OutcomeStaleFallback
		if len(stored) <= offset {
			outcome = metrics.OutcomeNotFound
		}
		metrics.RecordCacheLookup(tier, outcome)
		if err != nil {
			log.Warn().Err(err).Int("stored", len(stored)).Msg("Upstream listing failed, serving stored listing")
		}
		return c.formatter.ToClientShapes(page(stored, limit, offset))
	}

	if kind.class == models.ClassPopular {
		assignRankScores(results, offset)
	}
	c.stamp(results...)
	c.upsertDetached(ctx, kind.task, cloneAll(results))
	metrics.RecordCacheLookup(tier, metrics.OutcomeRefreshed)
	return c.formatter.ToClientShapes(results)
}

func (c *Cache) storedListing(ctx context.Context, kind listingKind, n int) []*models.MetadataRecord {
	if kind.class == models.ClassPopular {
		return c.store.ListByPopularity(ctx, n)
	}
	return c.store.ListByRecency(ctx, n)
}

func (c *Cache) upstreamListing(ctx context.Context, kind listingKind, limit, offset int) ([]*models.MetadataRecord, error) {
	if kind.class == models.ClassPopular {
		return c.upstream.FetchPopular(ctx, limit, offset)
	}
	return c.upstream.FetchRecent(ctx, limit, offset)
}

// rankScoreBase is the synthetic popularity of the first-ranked record.
const rankScoreBase = 1000

// assignRankScores gives records without an upstream popularity a score that
// preserves their rank position across pages.
func assignRankScores(recs []*models.MetadataRecord, offset int) {
	for i, r := range recs {
		if r.PopularityScore == 0 {
			r.PopularityScore = float64(max(rankScoreBase-(offset+i), 1))
		}
	}
}

func page(recs []*models.MetadataRecord, limit, offset int) []*models.MetadataRecord {
	if offset >= len(recs) {
		return nil
	}
	end := min(offset+limit, len(recs))
	return recs[offset:end]
}
