// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/format"
	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/models"
)

// Store is the durable record store. Implementations never return errors:
// failures surface as nil, empty, false or 0 and are logged at the store.
type Store interface {
	Get(ctx context.Context, id string) *models.MetadataRecord
	Upsert(ctx context.Context, rec *models.MetadataRecord) bool
	ListByPopularity(ctx context.Context, limit int) []*models.MetadataRecord
	ListByRecency(ctx context.Context, limit int) []*models.MetadataRecord
	SearchText(ctx context.Context, query string, limit int) []*models.MetadataRecord
	ListStale(ctx context.Context, olderThan time.Duration, limit int) []*models.MetadataRecord
	MarkForceRefresh(ctx context.Context, ids []string) bool
	PurgeOlderThan(ctx context.Context, retention time.Duration) int64
	ClearAll(ctx context.Context) bool
}

// Upstream is the metadata source. A (nil, nil) or empty result means the
// upstream has nothing for the request.
type Upstream interface {
	FetchByID(ctx context.Context, id string) (*models.MetadataRecord, error)
	SearchByTitle(ctx context.Context, text string, limit int) ([]*models.MetadataRecord, error)
	FetchPopular(ctx context.Context, limit, offset int) ([]*models.MetadataRecord, error)
	FetchRecent(ctx context.Context, limit, offset int) ([]*models.MetadataRecord, error)
}

// Defaults for values not set through options.
const (
	DefaultSearchMinHits      = 5
	DefaultListingMinFresh    = 10
	DefaultPurgeRetention     = 7 * 24 * time.Hour
	DefaultWarmUpPopularLimit = 30
	DefaultWarmUpRecentLimit  = 30
	DefaultRefreshConcurrency = 4
	DefaultRefreshBatchSize   = 25

	// DefaultPageSize applies when a caller passes a non-positive limit.
	DefaultPageSize = 20

	// MaxPageSize caps listing and search limits.
	MaxPageSize = 100
)

// Cache is the read-through orchestrator in front of the upstream. It is
// safe for concurrent use; construct one per process.
type Cache struct {
	store     Store
	upstream  Upstream
	formatter *format.Formatter
	policy    models.StalenessPolicy
	now       func() time.Time
	log       zerolog.Logger

	searchMinHits      int
	listingMinFresh    int
	purgeRetention     time.Duration
	warmUpPopularLimit int
	warmUpRecentLimit  int
	refreshConcurrency int

	flights singleflight.Group // lookups, keyed id|force
	fetches singleflight.Group // upstream fetches, keyed by id

	tasks sync.WaitGroup

	// warmUpState is 0 before warm-up, 1 while running and 2 once done.
	warmUpState atomic.Int32
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock used for staleness decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithPolicy sets the per-class TTLs.
func WithPolicy(p models.StalenessPolicy) Option {
	return func(c *Cache) { c.policy = p }
}

// WithSearchMinHits sets how many fresh store hits satisfy a search.
func WithSearchMinHits(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.searchMinHits = n
		}
	}
}

// WithListingMinFresh sets how many fresh rows satisfy a listing.
func WithListingMinFresh(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.listingMinFresh = n
		}
	}
}

// WithPurgeRetention sets the default age-based purge window.
func WithPurgeRetention(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.purgeRetention = d
		}
	}
}

// WithWarmUpLimits sets the listing sizes fetched by WarmUp. Zero skips a tier.
func WithWarmUpLimits(popular, recent int) Option {
	return func(c *Cache) {
		c.warmUpPopularLimit = max(popular, 0)
		c.warmUpRecentLimit = max(recent, 0)
	}
}

// WithRefreshConcurrency bounds parallel upstream fetches in RefreshStaleBatch.
func WithRefreshConcurrency(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.refreshConcurrency = n
		}
	}
}

// WithLogger replaces the component logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// OptionsFromConfig maps the cache section of the configuration to options.
func OptionsFromConfig(cfg *config.Config) []Option {
	return []Option{
		WithPolicy(cfg.StalenessPolicy()),
		WithSearchMinHits(cfg.Cache.SearchMinHits),
		WithListingMinFresh(cfg.Cache.ListingMinFresh),
		WithPurgeRetention(cfg.Cache.PurgeRetention),
		WithWarmUpLimits(cfg.Cache.WarmUpPopularLimit, cfg.Cache.WarmUpRecentLimit),
		WithRefreshConcurrency(cfg.Cache.RefreshConcurrency),
	}
}

// New builds a Cache. A nil formatter passes media references through.
func New(store Store, upstream Upstream, formatter *format.Formatter, opts ...Option) *Cache {
	if formatter == nil {
		formatter = &format.Formatter{}
	}
	c := &Cache{
		store:              store,
		upstream:           upstream,
		formatter:          formatter,
		policy:             models.DefaultStalenessPolicy(),
		now:                time.Now,
		log:                logging.WithComponent("gamecache"),
		searchMinHits:      DefaultSearchMinHits,
		listingMinFresh:    DefaultListingMinFresh,
		purgeRetention:     DefaultPurgeRetention,
		warmUpPopularLimit: DefaultWarmUpPopularLimit,
		warmUpRecentLimit:  DefaultWarmUpRecentLimit,
		refreshConcurrency: DefaultRefreshConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the staleness policy in effect.
func (c *Cache) Policy() models.StalenessPolicy {
	return c.policy
}

// Wait blocks until every detached task started so far has finished. Call it
// on shutdown after the last request has been served.
func (c *Cache) Wait() {
	c.tasks.Wait()
}

// logger returns the component logger with request and task ids from ctx.
func (c *Cache) logger(ctx context.Context) *zerolog.Logger {
	lctx := c.log.With()
	if id := logging.RequestIDFromContext(ctx); id != "" {
		lctx = lctx.Str("request_id", id)
	}
	if task := logging.TaskFromContext(ctx); task != "" {
		lctx = lctx.Str("task", task)
	}
	l := lctx.Logger()
	return &l
}

// stamp marks upstream records as just refreshed.
func (c *Cache) stamp(recs ...*models.MetadataRecord) {
	now := c.now()
	for _, r := range recs {
		if r != nil {
			r.LastRefreshedAt = now
			r.ForceRefresh = false
		}
	}
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return DefaultPageSize
	case limit > MaxPageSize:
		return MaxPageSize
	default:
		return limit
	}
}
