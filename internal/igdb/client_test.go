// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/metrics"
)

// fakeIGDB serves a token endpoint and the v4 query endpoints.
type fakeIGDB struct {
	t *testing.T

	tokenCalls atomic.Int32
	queryCalls atomic.Int32

	// tokenStatus, when non-zero, is returned by the token endpoint.
	tokenStatus atomic.Int32

	mu      sync.Mutex
	queries []string
	handler func(endpoint, body string, n int) (int, string)
}

func newFakeIGDB(t *testing.T, handler func(endpoint, body string, n int) (int, string)) (*fakeIGDB, *httptest.Server) {
	t.Helper()
	f := &fakeIGDB{t: t, handler: handler}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := f.tokenCalls.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("token request form: %v", err)
		}
		if r.PostForm.Get("client_id") != "client" || r.PostForm.Get("client_secret") != "secret" {
			t.Errorf("credentials not sent in params: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		if status := int(f.tokenStatus.Load()); status != 0 {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"status":400,"message":"invalid client secret"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok`+string(rune('0'+n))+`","expires_in":3600,"token_type":"bearer"}`)
	})
	mux.HandleFunc("/v4/", func(w http.ResponseWriter, r *http.Request) {
		n := int(f.queryCalls.Add(1))
		b, _ := io.ReadAll(r.Body)
		endpoint := strings.TrimPrefix(r.URL.Path, "/v4/")

		if got := r.Header.Get("Client-ID"); got != "client" {
			t.Errorf("Client-ID = %q, want client", got)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer tok") {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}

		f.mu.Lock()
		f.queries = append(f.queries, endpoint+": "+string(b))
		f.mu.Unlock()

		status, body := f.handler(endpoint, string(b), n)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeIGDB) lastQuery() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return ""
	}
	return f.queries[len(f.queries)-1]
}

func testConfig(srv *httptest.Server) *config.IGDBConfig {
	return &config.IGDBConfig{
		ClientID:          "client",
		ClientSecret:      "secret",
		TokenURL:          srv.URL + "/oauth2/token",
		BaseURL:           srv.URL + "/v4",
		Timeout:           2 * time.Second,
		TokenExpiryMargin: 5 * time.Minute,
		MaxRetries:        0,
		BreakerFailures:   5,
		BreakerTimeout:    time.Minute,
	}
}

const zeldaJSON = `[{"id":42,"name":"Zelda","summary":" Hyrule ","cover":{"image_id":"co1"},` +
	`"screenshots":[{"image_id":"sc2"},{"image_id":"sc1"}],"videos":[{"video_id":"yt1"}],` +
	`"platforms":[{"name":"Switch"}],"genres":[{"name":"Adventure"}],"game_modes":[{"name":"Single player"}],` +
	`"involved_companies":[{"publisher":true,"company":{"name":"Nintendo"}},{"publisher":false,"company":{"name":"Monolith"}}],` +
	`"total_rating":93.5,"rating":90,"first_release_date":1488499200}]`

func TestFetchByID_MapsAndReusesToken(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, zeldaJSON
	})
	c := NewClient(testConfig(srv))

	for i := 0; i < 3; i++ {
		rec, err := c.FetchByID(context.Background(), "42")
		if err != nil {
			t.Fatalf("FetchByID() error = %v", err)
		}
		if rec == nil || rec.ExternalID != "42" || rec.Title != "Zelda" {
			t.Fatalf("FetchByID() = %+v", rec)
		}
	}

	if got := f.tokenCalls.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want 1", got)
	}
	if q := f.lastQuery(); !strings.Contains(q, "where id = 42; limit 1;") {
		t.Errorf("query = %q", q)
	}
}

func TestFetchByID_NonNumericID(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	c := NewClient(testConfig(srv))

	for _, id := range []string{"abc", "-1", "0", ""} {
		rec, err := c.FetchByID(context.Background(), id)
		if rec != nil || err != nil {
			t.Errorf("FetchByID(%q) = %v, %v; want nil, nil", id, rec, err)
		}
	}
	if f.queryCalls.Load() != 0 {
		t.Error("non-numeric ids must not reach the upstream")
	}
}

func TestFetchByID_NotFound(t *testing.T) {
	t.Parallel()

	_, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	rec, err := NewClient(testConfig(srv)).FetchByID(context.Background(), "7")
	if rec != nil || err != nil {
		t.Fatalf("FetchByID() = %v, %v; want nil, nil", rec, err)
	}
}

func TestCall_ReauthenticatesOnce(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, n int) (int, string) {
		if n == 1 {
			return http.StatusUnauthorized, `{"message":"expired"}`
		}
		return http.StatusOK, zeldaJSON
	})
	c := NewClient(testConfig(srv))

	rec, err := c.FetchByID(context.Background(), "42")
	if err != nil || rec == nil {
		t.Fatalf("FetchByID() = %v, %v", rec, err)
	}
	if got := f.tokenCalls.Load(); got != 2 {
		t.Errorf("token exchanges = %d, want 2", got)
	}
	if got := f.queryCalls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2", got)
	}
}

func TestCall_RepeatedUnauthorizedIsRequestError(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusUnauthorized, `{"message":"nope"}`
	})
	_, err := NewClient(testConfig(srv)).FetchByID(context.Background(), "42")

	var reqErr *UpstreamRequestError
	if !errors.As(err, &reqErr) || reqErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want UpstreamRequestError 401", err)
	}
	if got := f.queryCalls.Load(); got != 2 {
		t.Errorf("query calls = %d, want exactly one retry", got)
	}
}

func TestToken_RejectedCredentialsAreFatal(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, zeldaJSON
	})
	f.tokenStatus.Store(http.StatusBadRequest)
	c := NewClient(testConfig(srv))

	for i := 0; i < 2; i++ {
		_, err := c.FetchByID(context.Background(), "42")
		if !IsAuthError(err) {
			t.Fatalf("call %d: err = %v, want UpstreamAuthError", i, err)
		}
	}
	if got := f.tokenCalls.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want 1 (rejection remembered)", got)
	}
	if f.queryCalls.Load() != 0 {
		t.Error("query endpoint must not be called without a token")
	}

	c.ResetAuth()
	if _, err := c.FetchByID(context.Background(), "42"); !IsAuthError(err) {
		t.Fatalf("after ResetAuth: err = %v", err)
	}
	if got := f.tokenCalls.Load(); got != 2 {
		t.Errorf("token exchanges after reset = %d, want 2", got)
	}
}

func TestMissingCredentials(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	cfg := testConfig(srv)
	cfg.ClientID, cfg.ClientSecret = "", ""
	c := NewClient(cfg)

	_, err := c.SearchByTitle(context.Background(), "zelda", 5)
	if !IsAuthError(err) || !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v, want missing credentials auth error", err)
	}
	if f.tokenCalls.Load() != 0 || f.queryCalls.Load() != 0 {
		t.Error("no network calls expected without credentials")
	}

	c.SetCredentials("client", "secret", srv.URL+"/oauth2/token")
	if _, err := c.SearchByTitle(context.Background(), "zelda", 5); err != nil {
		t.Fatalf("after SetCredentials: err = %v", err)
	}
}

func TestCall_Non2xx(t *testing.T) {
	t.Parallel()

	_, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusInternalServerError, `{"message":"boom"}`
	})
	_, err := NewClient(testConfig(srv)).FetchRecent(context.Background(), 10, 0)

	var reqErr *UpstreamRequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want UpstreamRequestError", err)
	}
	if reqErr.Status != http.StatusInternalServerError || !strings.Contains(reqErr.Body, "boom") {
		t.Errorf("err = %+v", reqErr)
	}
	if !reqErr.Temporary() {
		t.Error("5xx should be temporary")
	}
}

func TestCall_NetworkFailure(t *testing.T) {
	t.Parallel()

	_, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	cfg := testConfig(srv)
	cfg.BaseURL = "http://127.0.0.1:1/v4"

	_, err := NewClient(cfg).FetchRecent(context.Background(), 10, 0)
	var reqErr *UpstreamRequestError
	if !errors.As(err, &reqErr) || reqErr.Status != 0 {
		t.Fatalf("err = %v, want status-0 UpstreamRequestError", err)
	}
}

func TestBreaker_OpensOnServerErrors(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusServiceUnavailable, "down"
	})
	cfg := testConfig(srv)
	cfg.BreakerFailures = 2
	c := NewClient(cfg)

	for i := 0; i < 2; i++ {
		if _, err := c.FetchRecent(context.Background(), 5, 0); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := c.FetchRecent(context.Background(), 5, 0)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := f.queryCalls.Load(); got != 2 {
		t.Errorf("query calls = %d, want 2 (third rejected by breaker)", got)
	}
}

func TestBreaker_IgnoresClientErrors(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusBadRequest, `[{"title":"Syntax Error"}]`
	})
	cfg := testConfig(srv)
	cfg.BreakerFailures = 2
	c := NewClient(cfg)

	for i := 0; i < 4; i++ {
		_, err := c.SearchByTitle(context.Background(), "x", 1)
		if errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: breaker opened on 4xx", i)
		}
	}
	if got := f.queryCalls.Load(); got != 4 {
		t.Errorf("query calls = %d, want 4", got)
	}
}

func TestFetchPopular_KeepsPrimitiveOrder(t *testing.T) {
	t.Parallel()

	_, srv := newFakeIGDB(t, func(endpoint, body string, _ int) (int, string) {
		switch endpoint {
		case "popularity_primitives":
			if !strings.Contains(body, "sort value desc; limit 3; offset 6;") {
				t.Errorf("primitives query = %q", body)
			}
			return http.StatusOK, `[{"game_id":2,"value":9.5},{"game_id":1,"value":3.1},{"game_id":2,"value":1}]`
		default:
			if !strings.Contains(body, "where id = (2,1)") {
				t.Errorf("games query = %q", body)
			}
			return http.StatusOK, `[{"id":1,"name":"One"},{"id":2,"name":"Two"}]`
		}
	})

	recs, err := NewClient(testConfig(srv)).FetchPopular(context.Background(), 3, 6)
	if err != nil {
		t.Fatalf("FetchPopular() error = %v", err)
	}
	if len(recs) != 2 || recs[0].ExternalID != "2" || recs[1].ExternalID != "1" {
		t.Fatalf("FetchPopular() order = %+v", recs)
	}
	if recs[0].PopularityScore != 9.5 || recs[1].PopularityScore != 3.1 {
		t.Errorf("scores = %v, %v", recs[0].PopularityScore, recs[1].PopularityScore)
	}
}

func TestFetchPopular_FallsBackToRatings(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, srv := newFakeIGDB(t, func(endpoint, body string, _ int) (int, string) {
		if endpoint == "popularity_primitives" {
			return http.StatusOK, "[]"
		}
		if !strings.Contains(body, "total_rating >= 80") || !strings.Contains(body, "sort total_rating desc") {
			t.Errorf("fallback query = %q", body)
		}
		if !strings.Contains(body, "first_release_date <= 1780272000") {
			t.Errorf("fallback query not bounded by now: %q", body)
		}
		return http.StatusOK, `[{"id":5,"name":"Five","total_rating":88}]`
	})

	recs, err := NewClient(testConfig(srv), WithClock(func() time.Time { return now })).FetchPopular(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("FetchPopular() error = %v", err)
	}
	if len(recs) != 1 || recs[0].ExternalID != "5" {
		t.Fatalf("FetchPopular() = %+v", recs)
	}
}

func TestFetchRecent_Query(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	recs, err := NewClient(testConfig(srv), WithClock(func() time.Time { return now })).FetchRecent(context.Background(), 20, 40)
	if err != nil || len(recs) != 0 {
		t.Fatalf("FetchRecent() = %v, %v", recs, err)
	}
	q := f.lastQuery()
	for _, want := range []string{"first_release_date <= 1700000000", "sort first_release_date desc", "limit 20; offset 40;"} {
		if !strings.Contains(q, want) {
			t.Errorf("query %q missing %q", q, want)
		}
	}
}

func TestSearchByTitle_Quotes(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	if _, err := NewClient(testConfig(srv)).SearchByTitle(context.Background(), `the "best" game`, 5); err != nil {
		t.Fatal(err)
	}
	if q := f.lastQuery(); !strings.Contains(q, `search "the \"best\" game";`) {
		t.Errorf("query = %q", q)
	}
}

func TestMapGames_SkipsBadItems(t *testing.T) {
	_, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, `[{"id":1,"name":"Good"},{"id":0,"name":"No id"},{"id":3},"garbage"]`
	})
	before := testutil.ToFloat64(metrics.UpstreamMappingErrors.WithLabelValues("games"))

	recs, err := NewClient(testConfig(srv)).FetchRecent(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("FetchRecent() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Title != "Good" {
		t.Fatalf("FetchRecent() = %+v", recs)
	}
	if got := testutil.ToFloat64(metrics.UpstreamMappingErrors.WithLabelValues("games")) - before; got != 3 {
		t.Errorf("mapping errors = %v, want 3", got)
	}
}

func TestMapGames_MalformedResponse(t *testing.T) {
	t.Parallel()

	_, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, `{"not":"an array"}`
	})
	recs, err := NewClient(testConfig(srv)).FetchRecent(context.Background(), 10, 0)
	if err != nil || len(recs) != 0 {
		t.Fatalf("FetchRecent() = %v, %v; want empty, nil", recs, err)
	}
}

func TestFromUpstream(t *testing.T) {
	t.Parallel()

	raw := strings.TrimSuffix(strings.TrimPrefix(zeldaJSON, "["), "]")
	rec, err := FromUpstream([]byte(raw))
	if err != nil {
		t.Fatalf("FromUpstream() error = %v", err)
	}

	if rec.Summary != "Hyrule" {
		t.Errorf("Summary = %q", rec.Summary)
	}
	if want := "https://images.igdb.com/igdb/image/upload/t_cover_big/co1.jpg"; rec.CoverImageRef != want {
		t.Errorf("CoverImageRef = %q, want %q", rec.CoverImageRef, want)
	}
	if len(rec.ScreenshotRefs) != 2 || !strings.HasSuffix(rec.ScreenshotRefs[0], "t_screenshot_big/sc1.jpg") {
		t.Errorf("ScreenshotRefs = %v", rec.ScreenshotRefs)
	}
	if len(rec.VideoRefs) != 1 || rec.VideoRefs[0] != "https://www.youtube.com/watch?v=yt1" {
		t.Errorf("VideoRefs = %v", rec.VideoRefs)
	}
	if len(rec.PublisherRefs) != 1 || rec.PublisherRefs[0] != "Nintendo" {
		t.Errorf("PublisherRefs = %v", rec.PublisherRefs)
	}
	if rec.Rating == nil || *rec.Rating != 93.5 {
		t.Errorf("Rating = %v, want total_rating 93.5", rec.Rating)
	}
	if rec.ReleaseTimestamp == nil || !rec.ReleaseTimestamp.Equal(time.Unix(1488499200, 0)) {
		t.Errorf("ReleaseTimestamp = %v", rec.ReleaseTimestamp)
	}
	if rec.PopularityScore != 0 || !rec.LastRefreshedAt.IsZero() {
		t.Error("mapping must not set popularity or refresh time")
	}
}

func TestFromUpstream_RatingFallbackAndUnknownRelease(t *testing.T) {
	t.Parallel()

	rec, err := FromUpstream([]byte(`{"id":9,"name":"Nine","rating":71,"first_release_date":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Rating == nil || *rec.Rating != 71 {
		t.Errorf("Rating = %v, want 71", rec.Rating)
	}
	if rec.ReleaseTimestamp != nil {
		t.Errorf("ReleaseTimestamp = %v, want nil", rec.ReleaseTimestamp)
	}
	if rec.Platforms == nil || rec.Genres == nil {
		t.Error("collections must be non-nil")
	}
}

func TestThrottledTransport_SpacesRequests(t *testing.T) {
	t.Parallel()

	var stamps []time.Time
	var mu sync.Mutex
	rt := newThrottledTransport(40*time.Millisecond, 0, roundTripFunc(func(*http.Request) (*http.Response, error) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "http://igdb.test", nil)
			if _, err := rt.RoundTrip(req); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if len(stamps) != 3 {
		t.Fatalf("requests = %d", len(stamps))
	}
	if spread := stamps[2].Sub(stamps[0]); spread < 75*time.Millisecond {
		t.Errorf("3 requests spread over %v, want >= ~80ms", spread)
	}
}

func TestThrottledTransport_HonoursCancellation(t *testing.T) {
	t.Parallel()

	rt := newThrottledTransport(time.Hour, 0, roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))
	req, _ := http.NewRequest(http.MethodGet, "http://igdb.test", nil)
	if _, err := rt.RoundTrip(req); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, _ = http.NewRequestWithContext(ctx, http.MethodGet, "http://igdb.test", nil)
	if _, err := rt.RoundTrip(req); !errors.Is(err, ErrThrottled) {
		t.Fatalf("err = %v, want ErrThrottled", err)
	}
}

func TestThrottledTransport_TimeoutStartsAfterAdmission(t *testing.T) {
	t.Parallel()

	var deadlines []time.Duration
	var mu sync.Mutex
	rt := newThrottledTransport(50*time.Millisecond, 80*time.Millisecond, roundTripFunc(func(r *http.Request) (*http.Response, error) {
		dl, ok := r.Context().Deadline()
		if !ok {
			t.Error("attempt has no deadline")
		}
		mu.Lock()
		deadlines = append(deadlines, time.Until(dl))
		mu.Unlock()
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, _ := http.NewRequest(http.MethodGet, "http://igdb.test", nil)
			resp, err := rt.RoundTrip(req)
			if err != nil {
				t.Error(err)
				return
			}
			_ = resp.Body.Close()
		}()
	}
	wg.Wait()

	// The last request queued ~150ms, longer than the timeout itself.
	for i, left := range deadlines {
		if left < 60*time.Millisecond {
			t.Errorf("attempt %d admitted with %v left, want close to 80ms", i, left)
		}
	}
}

func TestCall_QueuedBurstAgainstFastUpstream(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, zeldaJSON
	})
	cfg := testConfig(srv)
	cfg.MinInterval = 100 * time.Millisecond
	cfg.Timeout = 300 * time.Millisecond
	cfg.BreakerFailures = 2
	c := NewClient(cfg)

	const calls = 10
	var failed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.FetchByID(context.Background(), "42"); err != nil {
				failed.Add(1)
				t.Errorf("FetchByID() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := failed.Load(); got != 0 {
		t.Errorf("failed %d of %d calls", got, calls)
	}
	if got := f.queryCalls.Load(); got != calls {
		t.Errorf("query calls = %d, want %d", got, calls)
	}
}

func TestBreaker_IgnoresThrottleWaits(t *testing.T) {
	t.Parallel()

	f, srv := newFakeIGDB(t, func(_, _ string, _ int) (int, string) {
		return http.StatusOK, "[]"
	})
	cfg := testConfig(srv)
	cfg.MinInterval = time.Hour
	cfg.BreakerFailures = 1
	c := NewClient(cfg)

	// The first call takes the only token.
	if _, err := c.FetchRecent(context.Background(), 5, 0); err != nil {
		t.Fatalf("first call: %v", err)
	}

	before := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "excluded"))
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		_, err := c.FetchRecent(ctx, 5, 0)
		cancel()
		if !errors.Is(err, ErrThrottled) {
			t.Fatalf("call %d: err = %v, want ErrThrottled", i, err)
		}
	}

	if got := c.breaker.Counts().ConsecutiveFailures; got != 0 {
		t.Errorf("consecutive failures = %d, want 0", got)
	}
	if st := c.breaker.State(); st != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", st)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues(breakerName, "excluded")) - before; got < 3 {
		t.Errorf("excluded count delta = %v, want >= 3", got)
	}
	if got := f.queryCalls.Load(); got != 1 {
		t.Errorf("query calls = %d, want 1", got)
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"zelda":      `"zelda"`,
		`a "b"`:      `"a \"b\""`,
		`back\slash`: `"back\\slash"`,
		"two\nlines": `"two lines"`,
	}
	for in, want := range tests {
		if got := quote(in); got != want {
			t.Errorf("quote(%q) = %s, want %s", in, got, want)
		}
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }
