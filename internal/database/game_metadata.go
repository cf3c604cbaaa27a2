// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// Store failures never leave this file: each operation logs, counts, and
// returns its zero value.

const selectColumns = `external_id, title, summary, cover_image_ref,
	screenshot_refs, video_refs, platforms, genres, publisher_refs, mode_tags,
	rating, release_timestamp, popularity_score, last_refreshed_at, force_refresh`

// A zero incoming popularity keeps the stored score (by-id fetches carry no
// rank) and last_refreshed_at never moves backwards.
const upsertSQL = `INSERT INTO game_metadata (` + selectColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false)
ON CONFLICT (external_id) DO UPDATE SET
	title = EXCLUDED.title,
	summary = EXCLUDED.summary,
	cover_image_ref = EXCLUDED.cover_image_ref,
	screenshot_refs = EXCLUDED.screenshot_refs,
	video_refs = EXCLUDED.video_refs,
	platforms = EXCLUDED.platforms,
	genres = EXCLUDED.genres,
	publisher_refs = EXCLUDED.publisher_refs,
	mode_tags = EXCLUDED.mode_tags,
	rating = EXCLUDED.rating,
	release_timestamp = EXCLUDED.release_timestamp,
	popularity_score = CASE WHEN EXCLUDED.popularity_score = 0 THEN popularity_score ELSE EXCLUDED.popularity_score END,
	last_refreshed_at = GREATEST(last_refreshed_at, EXCLUDED.last_refreshed_at),
	force_refresh = false`

// maxConflictRetries bounds retries on DuckDB optimistic-concurrency conflicts.
const maxConflictRetries = 3

// Get returns the record for id, or nil.
func (db *DB) Get(ctx context.Context, id string) *models.MetadataRecord {
	start := time.Now()
	row := db.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM game_metadata WHERE external_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	db.observe("get", start, err)
	if err != nil {
		return nil
	}
	return rec
}

// Upsert inserts or replaces rec keyed by ExternalID and clears its
// force-refresh flag. A zero LastRefreshedAt is stamped with the store clock.
func (db *DB) Upsert(ctx context.Context, rec *models.MetadataRecord) bool {
	if rec == nil {
		return false
	}
	start := time.Now()
	err := db.upsert(ctx, rec)
	db.observe("upsert", start, err)
	return err == nil
}

// UpsertMany upserts each record independently and returns how many succeeded.
func (db *DB) UpsertMany(ctx context.Context, recs []*models.MetadataRecord) int {
	n := 0
	for _, rec := range recs {
		if db.Upsert(ctx, rec) {
			n++
		}
	}
	return n
}

func (db *DB) upsert(ctx context.Context, rec *models.MetadataRecord) error {
	r := rec.Clone()
	r.Normalize()
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	refreshed := r.LastRefreshedAt
	if refreshed.IsZero() {
		refreshed = db.now()
	}

	arrays := make([]any, 0, 6)
	for _, set := range [][]string{r.ScreenshotRefs, r.VideoRefs, r.Platforms, r.Genres, r.PublisherRefs, r.ModeTags} {
		s, err := encodeStringSet(set)
		if err != nil {
			return err
		}
		arrays = append(arrays, s)
	}

	args := []any{r.ExternalID, r.Title, nullString(r.Summary), nullString(r.CoverImageRef)}
	args = append(args, arrays...)
	args = append(args, nullFloat(r.Rating), nullTime(r.ReleaseTimestamp), r.PopularityScore, refreshed.UTC())

	mu := db.acquireIDLock(r.ExternalID)
	defer mu.Unlock()

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if _, err = db.conn.ExecContext(ctx, upsertSQL, args...); err == nil || !isTransactionConflict(err) {
			break
		}
		logging.Debug().Str("external_id", r.ExternalID).Int("attempt", attempt+1).Msg("Upsert conflict, retrying")
	}
	if err != nil {
		return fmt.Errorf("upsert %s: %w", r.ExternalID, err)
	}
	return nil
}

// ListByPopularity returns records by descending popularity, then freshness.
func (db *DB) ListByPopularity(ctx context.Context, limit int) []*models.MetadataRecord {
	return db.list(ctx, "list_popular",
		`SELECT `+selectColumns+` FROM game_metadata
		ORDER BY popularity_score DESC, last_refreshed_at DESC, external_id
		LIMIT ?`, limit)
}

// ListByRecency returns records with a known release time, newest first.
func (db *DB) ListByRecency(ctx context.Context, limit int) []*models.MetadataRecord {
	return db.list(ctx, "list_recent",
		`SELECT `+selectColumns+` FROM game_metadata
		WHERE release_timestamp IS NOT NULL
		ORDER BY release_timestamp DESC, last_refreshed_at DESC, external_id
		LIMIT ?`, limit)
}

// SearchText returns case-insensitive substring matches on title or summary.
// Title matches rank ahead of summary-only matches.
func (db *DB) SearchText(ctx context.Context, query string, limit int) []*models.MetadataRecord {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []*models.MetadataRecord{}
	}
	return db.list(ctx, "search",
		`SELECT `+selectColumns+` FROM game_metadata
		WHERE contains(lower(title), ?) OR contains(lower(COALESCE(summary, '')), ?)
		ORDER BY contains(lower(title), ?) DESC, popularity_score DESC, title, external_id
		LIMIT ?`, q, q, q, limit)
}

// ListStale returns force-flagged records and records refreshed at least
// olderThan ago, force-flagged and oldest first.
func (db *DB) ListStale(ctx context.Context, olderThan time.Duration, limit int) []*models.MetadataRecord {
	cutoff := db.now().Add(-olderThan).UTC()
	return db.list(ctx, "list_stale",
		`SELECT `+selectColumns+` FROM game_metadata
		WHERE force_refresh OR last_refreshed_at <= ?
		ORDER BY force_refresh DESC, last_refreshed_at ASC, external_id
		LIMIT ?`, cutoff, limit)
}

// MarkForceRefresh flags ids so their next read bypasses freshness. Unknown
// ids are ignored.
func (db *DB) MarkForceRefresh(ctx context.Context, ids []string) bool {
	if len(ids) == 0 {
		return true
	}
	start := time.Now()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := db.conn.ExecContext(ctx,
		`UPDATE game_metadata SET force_refresh = true WHERE external_id IN (`+placeholders+`)`, args...)
	db.observe("mark_force_refresh", start, err)
	return err == nil
}

// PurgeOlderThan deletes records refreshed longer than retention ago and
// returns the number removed.
func (db *DB) PurgeOlderThan(ctx context.Context, retention time.Duration) int64 {
	start := time.Now()
	cutoff := db.now().Add(-retention).UTC()
	res, err := db.conn.ExecContext(ctx, `DELETE FROM game_metadata WHERE last_refreshed_at < ?`, cutoff)
	var n int64
	if err == nil {
		n, err = res.RowsAffected()
	}
	db.observe("purge", start, err)
	if err != nil {
		return 0
	}
	return n
}

// ClearAll removes every record in one transaction, first nulling the
// configured dependent references so no row points at a deleted game.
func (db *DB) ClearAll(ctx context.Context) bool {
	start := time.Now()
	err := db.clearAll(ctx)
	db.observe("clear", start, err)
	return err == nil
}

func (db *DB) clearAll(ctx context.Context) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, ref := range db.dependentRefs {
		table, column, ok := splitReference(ref)
		if !ok {
			return fmt.Errorf("invalid dependent reference %q", ref)
		}
		stmt := fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s IS NOT NULL`,
			quoteIdent(table), quoteIdent(column), quoteIdent(column))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("null %s: %w", ref, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM game_metadata`); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of stored records, or 0 on error.
func (db *DB) Count(ctx context.Context) int {
	start := time.Now()
	var n int64
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM game_metadata`).Scan(&n)
	db.observe("count", start, err)
	return int(n)
}

func (db *DB) list(ctx context.Context, op, query string, args ...any) []*models.MetadataRecord {
	start := time.Now()
	out, err := db.query(ctx, query, args...)
	db.observe(op, start, err)
	if err != nil {
		return []*models.MetadataRecord{}
	}
	return out
}

func (db *DB) query(ctx context.Context, query string, args ...any) ([]*models.MetadataRecord, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.MetadataRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (db *DB) observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(Backend, op, time.Since(start), err)
	if err != nil {
		logging.Error().Err(err).Str("backend", Backend).Str("operation", op).Msg("Metadata store operation failed")
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.MetadataRecord, error) {
	var (
		rec                                                 models.MetadataRecord
		summary, cover                                      sql.NullString
		screenshots, videos, platforms, genres, pubs, modes sql.NullString
		rating                                              sql.NullFloat64
		release                                             sql.NullTime
	)
	err := s.Scan(&rec.ExternalID, &rec.Title, &summary, &cover,
		&screenshots, &videos, &platforms, &genres, &pubs, &modes,
		&rating, &release, &rec.PopularityScore, &rec.LastRefreshedAt, &rec.ForceRefresh)
	if err != nil {
		return nil, err
	}

	rec.Summary = summary.String
	rec.CoverImageRef = cover.String
	rec.ScreenshotRefs = decodeStringSet(rec.ExternalID, "screenshot_refs", screenshots.String)
	rec.VideoRefs = decodeStringSet(rec.ExternalID, "video_refs", videos.String)
	rec.Platforms = decodeStringSet(rec.ExternalID, "platforms", platforms.String)
	rec.Genres = decodeStringSet(rec.ExternalID, "genres", genres.String)
	rec.PublisherRefs = decodeStringSet(rec.ExternalID, "publisher_refs", pubs.String)
	rec.ModeTags = decodeStringSet(rec.ExternalID, "mode_tags", modes.String)
	if rating.Valid {
		v := rating.Float64
		rec.Rating = &v
	}
	if release.Valid {
		t := release.Time.UTC()
		rec.ReleaseTimestamp = &t
	}
	rec.LastRefreshedAt = rec.LastRefreshedAt.UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update")
}
