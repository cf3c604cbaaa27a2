// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package database

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// testDBSemaphore limits concurrent DuckDB instances; CGO-heavy tests can
// starve each other under CI resource pressure.
var testDBSemaphore = make(chan struct{}, 2)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func setupTestDB(t *testing.T, clock *testClock, deps ...string) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	cfg := &config.DatabaseConfig{
		Path:                ":memory:",
		MaxMemory:           "256MB",
		Threads:             2,
		DependentReferences: deps,
	}
	db, err := New(cfg, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func rec(id, title string) *models.MetadataRecord {
	return &models.MetadataRecord{ExternalID: id, Title: title}
}

func TestUpsertAndGet_RoundTrip(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	rating := 91.5
	release := time.Date(2015, 5, 19, 0, 0, 0, 0, time.UTC)
	in := &models.MetadataRecord{
		ExternalID:       "1942",
		Title:            "The Witcher 3",
		Summary:          "Geralt",
		CoverImageRef:    "https://images.igdb.com/igdb/image/upload/t_cover_big/co1wyy.jpg",
		ScreenshotRefs:   []string{"b", "a", "a"},
		Platforms:        []string{"PC", "PS4"},
		Genres:           []string{"RPG"},
		PublisherRefs:    []string{"CD Projekt"},
		ModeTags:         []string{"Single player"},
		Rating:           &rating,
		ReleaseTimestamp: &release,
		PopularityScore:  42,
		ForceRefresh:     true,
	}
	if !db.Upsert(ctx, in) {
		t.Fatal("Upsert() = false")
	}

	got := db.Get(ctx, "1942")
	if got == nil {
		t.Fatal("Get() = nil")
	}
	if got.Title != in.Title || got.Summary != in.Summary || got.CoverImageRef != in.CoverImageRef {
		t.Errorf("scalars = %+v", got)
	}
	if !slices.Equal(got.ScreenshotRefs, []string{"a", "b"}) {
		t.Errorf("ScreenshotRefs = %v, want deduplicated set", got.ScreenshotRefs)
	}
	if got.VideoRefs == nil || len(got.VideoRefs) != 0 {
		t.Errorf("VideoRefs = %#v, want empty non-nil", got.VideoRefs)
	}
	if got.Rating == nil || *got.Rating != rating {
		t.Errorf("Rating = %v", got.Rating)
	}
	if got.ReleaseTimestamp == nil || !got.ReleaseTimestamp.Equal(release) {
		t.Errorf("ReleaseTimestamp = %v", got.ReleaseTimestamp)
	}
	if got.PopularityScore != 42 {
		t.Errorf("PopularityScore = %v", got.PopularityScore)
	}
	if !got.LastRefreshedAt.Equal(clock.Now()) {
		t.Errorf("LastRefreshedAt = %v, want store clock %v", got.LastRefreshedAt, clock.Now())
	}
	if got.ForceRefresh {
		t.Error("Upsert must clear force_refresh")
	}
}

func TestGet_Missing(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	if got := db.Get(context.Background(), "nope"); got != nil {
		t.Errorf("Get() = %+v, want nil", got)
	}
}

func TestUpsert_OptionalFieldsAbsent(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	ctx := context.Background()

	if !db.Upsert(ctx, rec("1", "Bare")) {
		t.Fatal("Upsert() = false")
	}
	got := db.Get(ctx, "1")
	if got.Rating != nil || got.ReleaseTimestamp != nil || got.Summary != "" {
		t.Errorf("absent fields did not round-trip: %+v", got)
	}
	for _, set := range [][]string{got.ScreenshotRefs, got.VideoRefs, got.Platforms, got.Genres, got.PublisherRefs, got.ModeTags} {
		if set == nil {
			t.Error("array field decoded as nil")
		}
	}
}

func TestUpsert_Idempotent(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	r := rec("7", "Same")
	db.Upsert(ctx, r)
	clock.Advance(time.Minute)
	db.Upsert(ctx, r)

	if n := db.Count(ctx); n != 1 {
		t.Fatalf("Count() = %d, want 1", n)
	}
	if got := db.Get(ctx, "7"); !got.LastRefreshedAt.Equal(clock.Now()) {
		t.Errorf("LastRefreshedAt = %v, want later call time %v", got.LastRefreshedAt, clock.Now())
	}
}

func TestUpsert_RefreshTimeIsMonotonic(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	newer := clock.Now()
	r := rec("8", "Mono")
	r.LastRefreshedAt = newer
	db.Upsert(ctx, r)

	older := rec("8", "Mono v2")
	older.LastRefreshedAt = newer.Add(-time.Hour)
	db.Upsert(ctx, older)

	got := db.Get(ctx, "8")
	if !got.LastRefreshedAt.Equal(newer) {
		t.Errorf("LastRefreshedAt moved backwards: %v", got.LastRefreshedAt)
	}
	if got.Title != "Mono v2" {
		t.Errorf("Title = %q, payload should still update", got.Title)
	}
}

func TestUpsert_ZeroPopularityKeepsScore(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	ctx := context.Background()

	ranked := rec("9", "Ranked")
	ranked.PopularityScore = 55
	db.Upsert(ctx, ranked)
	db.Upsert(ctx, rec("9", "Ranked"))

	if got := db.Get(ctx, "9").PopularityScore; got != 55 {
		t.Errorf("PopularityScore = %v, want 55 kept", got)
	}

	ranked.PopularityScore = 60
	db.Upsert(ctx, ranked)
	if got := db.Get(ctx, "9").PopularityScore; got != 60 {
		t.Errorf("PopularityScore = %v, want 60", got)
	}
}

func TestUpsert_RejectsInvalid(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	if db.Upsert(context.Background(), rec("1", "  ")) {
		t.Error("Upsert() accepted a blank title")
	}
	if db.Upsert(context.Background(), nil) {
		t.Error("Upsert(nil) = true")
	}
}

func TestUpsert_ConcurrentSameID(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			db.Upsert(ctx, rec("race", "Race"))
		}()
	}
	wg.Wait()

	if n := db.Count(ctx); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestListByPopularity(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	for _, r := range []struct {
		id    string
		score float64
	}{{"a", 5}, {"b", 50}, {"c", 5}, {"d", 0}} {
		x := rec(r.id, r.id)
		x.PopularityScore = r.score
		db.Upsert(ctx, x)
		clock.Advance(time.Second)
	}

	got := ids(db.ListByPopularity(ctx, 3))
	// c ties a on score but is fresher.
	if want := []string{"b", "c", "a"}; !slices.Equal(got, want) {
		t.Errorf("ListByPopularity() = %v, want %v", got, want)
	}
}

func TestListByRecency_ExcludesUnknownRelease(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	ctx := context.Background()

	for i, year := range []int{2019, 2024, 0, 2021} {
		x := rec(string(rune('a'+i)), "g")
		if year != 0 {
			ts := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
			x.ReleaseTimestamp = &ts
		}
		db.Upsert(ctx, x)
	}

	got := ids(db.ListByRecency(ctx, 10))
	if want := []string{"b", "d", "a"}; !slices.Equal(got, want) {
		t.Errorf("ListByRecency() = %v, want %v", got, want)
	}
}

func TestSearchText(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	ctx := context.Background()

	db.Upsert(ctx, &models.MetadataRecord{ExternalID: "1", Title: "Zelda: Breath of the Wild"})
	db.Upsert(ctx, &models.MetadataRecord{ExternalID: "2", Title: "Hyrule Warriors", Summary: "A Zelda spin-off"})
	db.Upsert(ctx, &models.MetadataRecord{ExternalID: "3", Title: "Mario"})
	db.Upsert(ctx, &models.MetadataRecord{ExternalID: "4", Title: "The Legend of ZELDA"})

	got := ids(db.SearchText(ctx, "zelda", 10))
	if len(got) != 3 || got[2] != "2" {
		t.Errorf("SearchText() = %v, want title matches before summary match", got)
	}
	if got := db.SearchText(ctx, "  ", 10); got == nil || len(got) != 0 {
		t.Errorf("blank query = %v, want empty", got)
	}
	if got := db.SearchText(ctx, "zel", 1); len(got) != 1 {
		t.Errorf("limit not applied: %d", len(got))
	}
}

func TestListStaleAndMarkForceRefresh(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	db.Upsert(ctx, rec("old", "Old"))
	clock.Advance(48 * time.Hour)
	db.Upsert(ctx, rec("fresh", "Fresh"))
	db.Upsert(ctx, rec("flagged", "Flagged"))

	if !db.MarkForceRefresh(ctx, []string{"flagged", "unknown"}) {
		t.Fatal("MarkForceRefresh() = false")
	}
	if !db.Get(ctx, "flagged").ForceRefresh {
		t.Fatal("flag not set")
	}

	got := ids(db.ListStale(ctx, 24*time.Hour, 10))
	if want := []string{"flagged", "old"}; !slices.Equal(got, want) {
		t.Errorf("ListStale() = %v, want %v", got, want)
	}

	db.Upsert(ctx, rec("flagged", "Flagged"))
	if db.Get(ctx, "flagged").ForceRefresh {
		t.Error("upsert did not clear the flag")
	}
	if !db.MarkForceRefresh(ctx, nil) {
		t.Error("MarkForceRefresh(nil) = false")
	}
}

func TestPurgeOlderThan(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	db.Upsert(ctx, rec("a", "A"))
	db.Upsert(ctx, rec("b", "B"))
	clock.Advance(8 * 24 * time.Hour)
	db.Upsert(ctx, rec("c", "C"))

	if n := db.PurgeOlderThan(ctx, 7*24*time.Hour); n != 2 {
		t.Errorf("PurgeOlderThan() = %d, want 2", n)
	}
	if db.Get(ctx, "c") == nil || db.Get(ctx, "a") != nil {
		t.Error("wrong rows purged")
	}
	if n := db.PurgeOlderThan(ctx, 7*24*time.Hour); n != 0 {
		t.Errorf("second purge = %d, want 0", n)
	}
}

func TestClearAll_NullsDependentReferences(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock(), "game_requests.game_id")
	ctx := context.Background()

	if _, err := db.Conn().ExecContext(ctx, `CREATE TABLE game_requests (id INTEGER, game_id VARCHAR)`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Conn().ExecContext(ctx, `INSERT INTO game_requests VALUES (1, '1'), (2, NULL)`); err != nil {
		t.Fatal(err)
	}
	db.Upsert(ctx, rec("1", "One"))

	if !db.ClearAll(ctx) {
		t.Fatal("ClearAll() = false")
	}
	if n := db.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
	var refs int
	if err := db.Conn().QueryRowContext(ctx, `SELECT COUNT(game_id) FROM game_requests`).Scan(&refs); err != nil {
		t.Fatal(err)
	}
	if refs != 0 {
		t.Errorf("dependent references left = %d", refs)
	}
}

func TestClearAll_RollsBackOnFailure(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock(), "missing_table.game_id")
	ctx := context.Background()

	db.Upsert(ctx, rec("1", "One"))
	if db.ClearAll(ctx) {
		t.Fatal("ClearAll() = true with a missing dependent table")
	}
	if db.Get(ctx, "1") == nil {
		t.Error("records deleted despite failed transaction")
	}
}

func TestStoreErrorsAreTranslated(t *testing.T) {
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()
	db.Upsert(ctx, rec("1", "One"))
	_ = db.conn.Close()

	before := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(Backend, "get"))
	if got := db.Get(ctx, "1"); got != nil {
		t.Errorf("Get() on closed store = %+v", got)
	}
	if got := db.ListByPopularity(ctx, 5); got == nil || len(got) != 0 {
		t.Errorf("ListByPopularity() = %v, want empty", got)
	}
	if db.Upsert(ctx, rec("2", "Two")) || db.ClearAll(ctx) || db.PurgeOlderThan(ctx, time.Hour) != 0 {
		t.Error("writes on a closed store must report failure")
	}
	if d := testutil.ToFloat64(metrics.StoreErrors.WithLabelValues(Backend, "get")) - before; d != 1 {
		t.Errorf("store error delta = %v, want 1", d)
	}
}

func TestSchemaVersion(t *testing.T) {
	t.Parallel()
	db := setupTestDB(t, newTestClock())
	v, err := db.SchemaVersion(context.Background())
	if err != nil || v != len(getMigrations()) {
		t.Errorf("SchemaVersion() = %d, %v", v, err)
	}
	// Re-running is a no-op.
	if err := db.runVersionedMigrations(context.Background()); err != nil {
		t.Errorf("second migration run: %v", err)
	}
}

func TestDecodeStringSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{}},
		{"null", []string{}},
		{"[]", []string{}},
		{`["PC","PS5"]`, []string{"PC", "PS5"}},
		{`"[\"PC\",\"PS5\"]"`, []string{"PC", "PS5"}},
		{"PC, PS5", []string{"PC", "PS5"}},
		{`[" ", "Switch"]`, []string{"Switch"}},
		{`{"broken":`, []string{}},
	}
	for _, tt := range tests {
		got := decodeStringSet("1", "platforms", tt.raw)
		if got == nil || !slices.Equal(got, tt.want) {
			t.Errorf("decodeStringSet(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestSplitReference(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"game_requests.game_id": true,
		"t1.c_2":                true,
		"noseparator":           false,
		"a.b.c":                 false,
		"1table.col":            false,
		`x";DROP.y`:             false,
		".col":                  false,
	}
	for ref, want := range tests {
		if _, _, ok := splitReference(ref); ok != want {
			t.Errorf("splitReference(%q) ok = %v, want %v", ref, ok, want)
		}
	}
}

func ids(recs []*models.MetadataRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ExternalID
	}
	return out
}

func TestListStale_IncludesRecordAtTTL(t *testing.T) {
	t.Parallel()
	clock := newTestClock()
	db := setupTestDB(t, clock)
	ctx := context.Background()

	db.Upsert(ctx, rec("edge", "Edge"))
	clock.Advance(24*time.Hour - time.Microsecond)
	if got := ids(db.ListStale(ctx, 24*time.Hour, 10)); len(got) != 0 {
		t.Fatalf("ListStale() before TTL = %v, want none", got)
	}
	clock.Advance(time.Microsecond)
	if got := ids(db.ListStale(ctx, 24*time.Hour, 10)); !slices.Equal(got, []string{"edge"}) {
		t.Errorf("ListStale() at TTL = %v, want [edge]", got)
	}
}
