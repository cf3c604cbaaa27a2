// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package gamecache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tomtom215/cartridge/internal/models"
)

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

// memStore is an in-memory Store with the same write rules as the real
// backends: monotonic refresh time, zero popularity keeps the stored score,
// and every upsert clears the force flag.
type memStore struct {
	mu      sync.Mutex
	recs    map[string]*models.MetadataRecord
	now     func() time.Time
	upserts atomic.Int32
	failAll bool
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{recs: make(map[string]*models.MetadataRecord), now: now}
}

// seed stores rec as-is, including its ForceRefresh flag.
func (s *memStore) seed(recs ...*models.MetadataRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		c := r.Clone()
		c.Normalize()
		s.recs[c.ExternalID] = c
	}
}

func (s *memStore) Get(_ context.Context, id string) *models.MetadataRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recs[id]; ok {
		return r.Clone()
	}
	return nil
}

func (s *memStore) Upsert(_ context.Context, rec *models.MetadataRecord) bool {
	s.upserts.Add(1)
	if s.failAll || rec == nil {
		return false
	}
	in := rec.Clone()
	in.Normalize()
	if in.Validate() != nil {
		return false
	}
	if in.LastRefreshedAt.IsZero() {
		in.LastRefreshedAt = s.now()
	}
	in.ForceRefresh = false

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.recs[in.ExternalID]; ok {
		if in.PopularityScore == 0 {
			in.PopularityScore = prev.PopularityScore
		}
		if prev.LastRefreshedAt.After(in.LastRefreshedAt) {
			in.LastRefreshedAt = prev.LastRefreshedAt
		}
	}
	s.recs[in.ExternalID] = in
	return true
}

func (s *memStore) sorted(keep func(*models.MetadataRecord) bool, cmp func(a, b *models.MetadataRecord) int, limit int) []*models.MetadataRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.MetadataRecord, 0, len(s.recs))
	for _, r := range s.recs {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.MetadataRecord) int {
		if c := cmp(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.ExternalID, b.ExternalID)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *memStore) ListByPopularity(_ context.Context, limit int) []*models.MetadataRecord {
	return s.sorted(
		func(*models.MetadataRecord) bool { return true },
		func(a, b *models.MetadataRecord) int {
			switch {
			case a.PopularityScore > b.PopularityScore:
				return -1
			case a.PopularityScore < b.PopularityScore:
				return 1
			}
			return b.LastRefreshedAt.Compare(a.LastRefreshedAt)
		},
		limit)
}

func (s *memStore) ListByRecency(_ context.Context, limit int) []*models.MetadataRecord {
	return s.sorted(
		func(r *models.MetadataRecord) bool { return r.ReleaseTimestamp != nil },
		func(a, b *models.MetadataRecord) int { return b.ReleaseTimestamp.Compare(*a.ReleaseTimestamp) },
		limit)
}

func (s *memStore) SearchText(_ context.Context, query string, limit int) []*models.MetadataRecord {
	q := strings.ToLower(query)
	return s.sorted(
		func(r *models.MetadataRecord) bool {
			return strings.Contains(strings.ToLower(r.Title), q) || strings.Contains(strings.ToLower(r.Summary), q)
		},
		func(a, b *models.MetadataRecord) int { return strings.Compare(a.Title, b.Title) },
		limit)
}

func (s *memStore) ListStale(_ context.Context, olderThan time.Duration, limit int) []*models.MetadataRecord {
	cutoff := s.now().Add(-olderThan)
	return s.sorted(
		func(r *models.MetadataRecord) bool { return r.ForceRefresh || !r.LastRefreshedAt.After(cutoff) },
		func(a, b *models.MetadataRecord) int { return a.LastRefreshedAt.Compare(b.LastRefreshedAt) },
		limit)
}

func (s *memStore) MarkForceRefresh(_ context.Context, ids []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if r, ok := s.recs[id]; ok {
			r.ForceRefresh = true
		}
	}
	return true
}

func (s *memStore) PurgeOlderThan(_ context.Context, retention time.Duration) int64 {
	cutoff := s.now().Add(-retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.recs {
		if r.LastRefreshedAt.Before(cutoff) {
			delete(s.recs, id)
			n++
		}
	}
	return n
}

func (s *memStore) ClearAll(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.recs)
	return true
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

// fakeUpstream serves fixed responses and counts calls. When gate is set,
// FetchByID signals entered and blocks until gate is closed.
type fakeUpstream struct {
	mu      sync.Mutex
	byID    map[string]*models.MetadataRecord
	search  []*models.MetadataRecord
	popular []*models.MetadataRecord
	recent  []*models.MetadataRecord
	err     error
	failIDs map[string]error

	gate    chan struct{}
	entered chan struct{}

	byIDCalls    atomic.Int32
	searchCalls  atomic.Int32
	popularCalls atomic.Int32
	recentCalls  atomic.Int32

	lastLimit, lastOffset int
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{byID: make(map[string]*models.MetadataRecord), failIDs: make(map[string]error)}
}

func (f *fakeUpstream) FetchByID(ctx context.Context, id string) (*models.MetadataRecord, error) {
	f.byIDCalls.Add(1)
	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failIDs[id]; err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	if r, ok := f.byID[id]; ok {
		return r.Clone(), nil
	}
	return nil, nil
}

func (f *fakeUpstream) SearchByTitle(_ context.Context, _ string, _ int) ([]*models.MetadataRecord, error) {
	f.searchCalls.Add(1)
	return f.list(f.search)
}

func (f *fakeUpstream) FetchPopular(_ context.Context, limit, offset int) ([]*models.MetadataRecord, error) {
	f.popularCalls.Add(1)
	f.mu.Lock()
	f.lastLimit, f.lastOffset = limit, offset
	f.mu.Unlock()
	return f.list(f.popular)
}

func (f *fakeUpstream) FetchRecent(_ context.Context, limit, offset int) ([]*models.MetadataRecord, error) {
	f.recentCalls.Add(1)
	f.mu.Lock()
	f.lastLimit, f.lastOffset = limit, offset
	f.mu.Unlock()
	return f.list(f.recent)
}

func (f *fakeUpstream) list(src []*models.MetadataRecord) ([]*models.MetadataRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*models.MetadataRecord, len(src))
	for i, r := range src {
		out[i] = r.Clone()
	}
	return out, nil
}

func (f *fakeUpstream) set(fn func(f *fakeUpstream)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}
