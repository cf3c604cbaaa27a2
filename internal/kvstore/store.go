// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package kvstore is the BadgerDB-backed metadata record store.
//
// Records are stored as JSON under "game:<external_id>". Secondary orderings
// (popularity, recency, text match, staleness) are computed from a prefix
// scan, which is adequate for a cache of a few thousand games.
//
// Like the DuckDB store, no operation returns an error: failures are logged,
// counted and translated to a zero value. Badger has no dependent tables, so
// ClearAll only drops the record prefix.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// Backend is the label used for this store in metrics and logs.
const Backend = "badger"

const recordKeyPrefix = "game:"

// maxConflictRetries bounds retries when concurrent transactions touch the
// same key.
const maxConflictRetries = 5

// purgeChunkSize keeps each purge transaction well under Badger's size limit.
const purgeChunkSize = 256

// Store implements the metadata record store on BadgerDB.
type Store struct {
	db  *badger.DB
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for age-relative operations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (or creates) the Badger database described by cfg.
func Open(cfg *config.BadgerConfig, opts ...Option) (*Store, error) {
	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithLogger(badgerLogger{log: logging.WithComponent("badger")})

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return New(db, opts...), nil
}

// New wraps an already open database.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *Store) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func recordKey(id string) []byte {
	return []byte(recordKeyPrefix + id)
}

// Get returns the record for id, or nil.
func (s *Store) Get(_ context.Context, id string) *models.MetadataRecord {
	start := time.Now()
	var rec *models.MetadataRecord
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	s.observe("get", start, err)
	if err != nil {
		return nil
	}
	return rec
}

// Upsert inserts or replaces rec and clears its force-refresh flag. A zero
// incoming popularity keeps the stored score and the refresh time never
// moves backwards.
func (s *Store) Upsert(_ context.Context, rec *models.MetadataRecord) bool {
	if rec == nil {
		return false
	}
	start := time.Now()
	err := s.upsert(rec)
	s.observe("upsert", start, err)
	return err == nil
}

// UpsertMany upserts each record independently and returns how many succeeded.
func (s *Store) UpsertMany(ctx context.Context, recs []*models.MetadataRecord) int {
	n := 0
	for _, rec := range recs {
		if s.Upsert(ctx, rec) {
			n++
		}
	}
	return n
}

func (s *Store) upsert(rec *models.MetadataRecord) error {
	r := rec.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	if r.LastRefreshedAt.IsZero() {
		r.LastRefreshedAt = s.now()
	}
	r.LastRefreshedAt = r.LastRefreshedAt.UTC()
	r.ForceRefresh = false

	return s.updateWithRetry(func(txn *badger.Txn) error {
		next := r.Clone()
		existing, err := getRecord(txn, next.ExternalID)
		if err != nil {
			return err
		}
		if existing != nil {
			if next.PopularityScore == 0 {
				next.PopularityScore = existing.PopularityScore
			}
			if existing.LastRefreshedAt.After(next.LastRefreshedAt) {
				next.LastRefreshedAt = existing.LastRefreshedAt
			}
		}
		return putRecord(txn, next)
	})
}

// ListByPopularity returns records by descending popularity, then freshness.
func (s *Store) ListByPopularity(_ context.Context, limit int) []*models.MetadataRecord {
	return s.list("list_popular", limit, nil, func(a, b *models.MetadataRecord) bool {
		if a.PopularityScore != b.PopularityScore {
			return a.PopularityScore > b.PopularityScore
		}
		if !a.LastRefreshedAt.Equal(b.LastRefreshedAt) {
			return a.LastRefreshedAt.After(b.LastRefreshedAt)
		}
		return a.ExternalID < b.ExternalID
	})
}

// ListByRecency returns records with a known release time, newest first.
func (s *Store) ListByRecency(_ context.Context, limit int) []*models.MetadataRecord {
	return s.list("list_recent", limit,
		func(r *models.MetadataRecord) bool { return r.ReleaseTimestamp != nil },
		func(a, b *models.MetadataRecord) bool {
			if !a.ReleaseTimestamp.Equal(*b.ReleaseTimestamp) {
				return a.ReleaseTimestamp.After(*b.ReleaseTimestamp)
			}
			if !a.LastRefreshedAt.Equal(b.LastRefreshedAt) {
				return a.LastRefreshedAt.After(b.LastRefreshedAt)
			}
			return a.ExternalID < b.ExternalID
		})
}

// SearchText returns case-insensitive substring matches on title or summary,
// title matches first.
func (s *Store) SearchText(_ context.Context, query string, limit int) []*models.MetadataRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*models.MetadataRecord{}
	}
	inTitle := func(r *models.MetadataRecord) bool { return strings.Contains(strings.ToLower(r.Title), q) }
	return s.list("search", limit,
		func(r *models.MetadataRecord) bool {
			return inTitle(r) || strings.Contains(strings.ToLower(r.Summary), q)
		},
		func(a, b *models.MetadataRecord) bool {
			if ta, tb := inTitle(a), inTitle(b); ta != tb {
				return ta
			}
			if a.PopularityScore != b.PopularityScore {
				return a.PopularityScore > b.PopularityScore
			}
			if a.Title != b.Title {
				return a.Title < b.Title
			}
			return a.ExternalID < b.ExternalID
		})
}

// ListStale returns force-flagged records and records refreshed at least
// olderThan ago, force-flagged and oldest first.
func (s *Store) ListStale(_ context.Context, olderThan time.Duration, limit int) []*models.MetadataRecord {
	cutoff := s.now().Add(-olderThan)
	return s.list("list_stale", limit,
		func(r *models.MetadataRecord) bool { return r.ForceRefresh || !r.LastRefreshedAt.After(cutoff) },
		func(a, b *models.MetadataRecord) bool {
			if a.ForceRefresh != b.ForceRefresh {
				return a.ForceRefresh
			}
			if !a.LastRefreshedAt.Equal(b.LastRefreshedAt) {
				return a.LastRefreshedAt.Before(b.LastRefreshedAt)
			}
			return a.ExternalID < b.ExternalID
		})
}

// MarkForceRefresh flags the given ids. Unknown ids are ignored.
func (s *Store) MarkForceRefresh(_ context.Context, ids []string) bool {
	if len(ids) == 0 {
		return true
	}
	start := time.Now()
	err := s.updateWithRetry(func(txn *badger.Txn) error {
		for _, id := range ids {
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if rec == nil || rec.ForceRefresh {
				continue
			}
			rec.ForceRefresh = true
			if err := putRecord(txn, rec); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe("mark_force_refresh", start, err)
	return err == nil
}

// PurgeOlderThan deletes records refreshed longer than retention ago.
// Candidates from the scan are re-read inside the deleting transaction, so a
// record refreshed after the scan survives.
func (s *Store) PurgeOlderThan(_ context.Context, retention time.Duration) int64 {
	start := time.Now()
	cutoff := s.now().Add(-retention)

	var expired []string
	err := s.scan(func(_ []byte, r *models.MetadataRecord) {
		if r.LastRefreshedAt.Before(cutoff) {
			expired = append(expired, r.ExternalID)
		}
	})

	var purged int64
	if err == nil {
		for chunk := range slices.Chunk(expired, purgeChunkSize) {
			var n int64
			if n, err = s.purgeChunk(chunk, cutoff); err != nil {
				break
			}
			purged += n
		}
	}
	s.observe("purge", start, err)
	return purged
}

func (s *Store) purgeChunk(ids []string, cutoff time.Time) (int64, error) {
	var n int64
	err := s.updateWithRetry(func(txn *badger.Txn) error {
		n = 0
		for _, id := range ids {
			rec, err := getRecord(txn, id)
			if err != nil {
				return err
			}
			if rec == nil || !rec.LastRefreshedAt.Before(cutoff) {
				continue
			}
			if err := txn.Delete(recordKey(id)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ClearAll deletes every record.
func (s *Store) ClearAll(_ context.Context) bool {
	start := time.Now()
	err := s.db.DropPrefix([]byte(recordKeyPrefix))
	s.observe("clear", start, err)
	return err == nil
}

// Count returns the number of stored records, or 0 on error.
func (s *Store) Count(_ context.Context) int {
	start := time.Now()
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(recordKeyPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	s.observe("count", start, err)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) list(op string, limit int, keep func(*models.MetadataRecord) bool, less func(a, b *models.MetadataRecord) bool) []*models.MetadataRecord {
	start := time.Now()
	out := make([]*models.MetadataRecord, 0)
	err := s.scan(func(_ []byte, r *models.MetadataRecord) {
		if keep == nil || keep(r) {
			out = append(out, r)
		}
	})
	s.observe(op, start, err)
	if err != nil {
		return []*models.MetadataRecord{}
	}

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// scan visits every decodable record. Undecodable values are logged and
// skipped.
func (s *Store) scan(fn func(key []byte, r *models.MetadataRecord)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		prefix := []byte(recordKeyPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var rec *models.MetadataRecord
			err := item.Value(func(val []byte) error {
				var err error
				rec, err = decodeRecord(val)
				return err
			})
			if err != nil {
				logging.Warn().Err(err).Str("key", string(key)).Msg("Skipping undecodable record")
				continue
			}
			fn(key, rec)
		}
		return nil
	})
}

func (s *Store) updateWithRetry(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(Backend, op, time.Since(start), err)
	if err != nil {
		logging.Error().Err(err).Str("backend", Backend).Str("operation", op).Msg("Metadata store operation failed")
	}
}

func getRecord(txn *badger.Txn, id string) (*models.MetadataRecord, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	var rec *models.MetadataRecord
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = decodeRecord(val)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, nil
}

func putRecord(txn *badger.Txn, rec *models.MetadataRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.ExternalID, err)
	}
	return txn.Set(recordKey(rec.ExternalID), data)
}

// decodeRecord is the single read boundary: collections come back as
// non-nil sets and times in UTC.
func decodeRecord(val []byte) (*models.MetadataRecord, error) {
	var rec models.MetadataRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	rec.Normalize()
	rec.LastRefreshedAt = rec.LastRefreshedAt.UTC()
	if rec.ReleaseTimestamp != nil {
		t := rec.ReleaseTimestamp.UTC()
		rec.ReleaseTimestamp = &t
	}
	return &rec, nil
}

// badgerLogger routes Badger's internal logging through zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(f), v...)
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(f), v...)
}

func (l badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(f), v...)
}

func (l badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(f), v...)
}
