// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// Query endpoints.
const (
	endpointGames      = "games"
	endpointPopularity = "popularity_primitives"
)

const (
	// popularFallbackMinRating is the total_rating floor for the popular
	// fallback query.
	popularFallbackMinRating = 80

	// popularFallbackWindow bounds how far back the fallback looks.
	popularFallbackWindow = 365 * 24 * time.Hour

	// maxQueryLimit is the largest page IGDB serves.
	maxQueryLimit = 500
)

// FetchByID returns the record for id, or nil when the upstream has no such
// game. Ids that are not positive integers never match.
func (c *Client) FetchByID(ctx context.Context, id string) (*models.MetadataRecord, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
	if err != nil || n <= 0 {
		return nil, nil
	}

	q := fmt.Sprintf("fields %s; where id = %d; limit 1;", gameFields, n)
	body, err := c.Call(ctx, endpointGames, q)
	if err != nil {
		return nil, err
	}
	recs := c.mapGames(endpointGames, body)
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// SearchByTitle runs a relevance-ranked title search.
func (c *Client) SearchByTitle(ctx context.Context, text string, limit int) ([]*models.MetadataRecord, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	q := fmt.Sprintf("search %s; fields %s; limit %d;", quote(text), gameFields, clampLimit(limit))
	body, err := c.Call(ctx, endpointGames, q)
	if err != nil {
		return nil, err
	}
	return c.mapGames(endpointGames, body), nil
}

// FetchPopular returns a page of games ranked by IGDB popularity primitives,
// with PopularityScore set to the primitive value. When the primitives
// endpoint yields nothing it falls back to highly rated recent releases.
func (c *Client) FetchPopular(ctx context.Context, limit, offset int) ([]*models.MetadataRecord, error) {
	limit = clampLimit(limit)
	offset = max(offset, 0)

	q := fmt.Sprintf("fields game_id,value,popularity_type; sort value desc; limit %d; offset %d;", limit, offset)
	body, err := c.Call(ctx, endpointPopularity, q)
	if err != nil {
		return nil, err
	}

	var prims []rawPopularity
	if err := json.Unmarshal(body, &prims); err != nil {
		c.log.Warn().Err(err).Msg("Discarding malformed popularity response")
		metrics.UpstreamMappingErrors.WithLabelValues(endpointPopularity).Inc()
		prims = nil
	}

	ids, scores := rankedIDs(prims)
	if len(ids) == 0 {
		c.log.Debug().Msg("No popularity primitives, using rating fallback")
		return c.fetchPopularFallback(ctx, limit, offset)
	}

	q = fmt.Sprintf("fields %s; where id = (%s); limit %d;", gameFields, joinIDs(ids), len(ids))
	body, err = c.Call(ctx, endpointGames, q)
	if err != nil {
		return nil, err
	}
	games := c.mapGames(endpointGames, body)

	// IGDB returns the where-in set unordered; restore the primitive ranking.
	byID := make(map[string]*models.MetadataRecord, len(games))
	for _, g := range games {
		byID[g.ExternalID] = g
	}
	out := make([]*models.MetadataRecord, 0, len(games))
	for _, id := range ids {
		key := strconv.FormatInt(id, 10)
		if g, ok := byID[key]; ok {
			g.PopularityScore = scores[id]
			out = append(out, g)
		}
	}
	return out, nil
}

func (c *Client) fetchPopularFallback(ctx context.Context, limit, offset int) ([]*models.MetadataRecord, error) {
	now := c.now()
	from := now.Add(-popularFallbackWindow).Unix()
	q := fmt.Sprintf(
		"fields %s; where total_rating >= %d & first_release_date >= %d & first_release_date <= %d; sort total_rating desc; limit %d; offset %d;",
		gameFields, popularFallbackMinRating, from, now.Unix(), limit, offset,
	)
	body, err := c.Call(ctx, endpointGames, q)
	if err != nil {
		return nil, err
	}
	return c.mapGames(endpointGames, body), nil
}

// FetchRecent returns released games, newest first.
func (c *Client) FetchRecent(ctx context.Context, limit, offset int) ([]*models.MetadataRecord, error) {
	q := fmt.Sprintf(
		"fields %s; where first_release_date != null & first_release_date <= %d; sort first_release_date desc; limit %d; offset %d;",
		gameFields, c.now().Unix(), clampLimit(limit), max(offset, 0),
	)
	body, err := c.Call(ctx, endpointGames, q)
	if err != nil {
		return nil, err
	}
	return c.mapGames(endpointGames, body), nil
}

// rankedIDs keeps the first occurrence of each game id in primitive order.
func rankedIDs(prims []rawPopularity) ([]int64, map[int64]float64) {
	ids := make([]int64, 0, len(prims))
	scores := make(map[int64]float64, len(prims))
	for _, p := range prims {
		if p.GameID <= 0 {
			continue
		}
		if _, seen := scores[p.GameID]; seen {
			continue
		}
		scores[p.GameID] = p.Value
		ids = append(ids, p.GameID)
	}
	return ids, scores
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// quote renders s as an Apicalypse string literal.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", " ", "\r", " ")
	return `"` + r.Replace(s) + `"`
}

func clampLimit(limit int) int {
	switch {
	case limit < 1:
		return 1
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return limit
	}
}
