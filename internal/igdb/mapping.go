// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartridge/internal/metrics"
	"github.com/tomtom215/cartridge/internal/models"
)

// ImageBaseURL is the IGDB image CDN root.
const ImageBaseURL = "https://images.igdb.com/igdb/image/upload"

// Image size presets used for stored references.
const (
	CoverSize      = "t_cover_big"
	ScreenshotSize = "t_screenshot_big"
)

// ImageURL builds a CDN URL for imageID at size.
func ImageURL(size, imageID string) string {
	return ImageBaseURL + "/" + size + "/" + imageID + ".jpg"
}

// VideoURL builds a watch URL for an IGDB video id (a YouTube id).
func VideoURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// gameFields is the field list requested for every game query.
const gameFields = "name,summary,cover.image_id,screenshots.image_id,videos.video_id," +
	"platforms.name,genres.name,game_modes.name," +
	"involved_companies.publisher,involved_companies.company.name," +
	"total_rating,rating,first_release_date"

type rawImage struct {
	ImageID string `json:"image_id"`
}

type rawVideo struct {
	VideoID string `json:"video_id"`
}

type rawNamed struct {
	Name string `json:"name"`
}

type rawInvolvedCompany struct {
	Publisher bool     `json:"publisher"`
	Company   rawNamed `json:"company"`
}

// rawGame is the subset of the IGDB game object Cartridge reads.
type rawGame struct {
	ID                int64                `json:"id"`
	Name              string               `json:"name"`
	Summary           string               `json:"summary"`
	Cover             *rawImage            `json:"cover"`
	Screenshots       []rawImage           `json:"screenshots"`
	Videos            []rawVideo           `json:"videos"`
	Platforms         []rawNamed           `json:"platforms"`
	Genres            []rawNamed           `json:"genres"`
	GameModes         []rawNamed           `json:"game_modes"`
	InvolvedCompanies []rawInvolvedCompany `json:"involved_companies"`
	TotalRating       *float64             `json:"total_rating"`
	Rating            *float64             `json:"rating"`
	FirstReleaseDate  *int64               `json:"first_release_date"`
}

type rawPopularity struct {
	GameID int64   `json:"game_id"`
	Value  float64 `json:"value"`
}

// decodeItems splits a JSON array into items. A body that is not an array is
// one MappingError for the whole response.
func decodeItems(endpoint string, body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &MappingError{Endpoint: endpoint, Index: -1, Reason: "response is not a JSON array", Err: err}
	}
	return items, nil
}

// mapGames decodes a games response. Items that fail to map are logged,
// counted and skipped.
func (c *Client) mapGames(endpoint string, body []byte) []*models.MetadataRecord {
	items, err := decodeItems(endpoint, body)
	if err != nil {
		c.log.Warn().Err(err).Msg("Discarding malformed IGDB response")
		metrics.UpstreamMappingErrors.WithLabelValues(endpoint).Inc()
		return nil
	}

	out := make([]*models.MetadataRecord, 0, len(items))
	for i, item := range items {
		rec, err := mapGame(endpoint, i, item)
		if err != nil {
			c.log.Warn().Err(err).Msg("Skipping unmappable IGDB item")
			metrics.UpstreamMappingErrors.WithLabelValues(endpoint).Inc()
			continue
		}
		out = append(out, rec)
	}
	return out
}

// FromUpstream maps one raw IGDB game object to a MetadataRecord.
func FromUpstream(raw []byte) (*models.MetadataRecord, error) {
	return mapGame("games", 0, raw)
}

func mapGame(endpoint string, index int, item json.RawMessage) (*models.MetadataRecord, error) {
	var g rawGame
	if err := json.Unmarshal(item, &g); err != nil {
		return nil, &MappingError{Endpoint: endpoint, Index: index, Reason: "invalid game object", Err: err}
	}
	if g.ID <= 0 {
		return nil, &MappingError{Endpoint: endpoint, Index: index, Reason: "missing id"}
	}
	if strings.TrimSpace(g.Name) == "" {
		return nil, &MappingError{Endpoint: endpoint, Index: index, Reason: "missing name"}
	}

	rec := &models.MetadataRecord{
		ExternalID: strconv.FormatInt(g.ID, 10),
		Title:      g.Name,
		Summary:    strings.TrimSpace(g.Summary),
	}
	if g.Cover != nil && g.Cover.ImageID != "" {
		rec.CoverImageRef = ImageURL(CoverSize, g.Cover.ImageID)
	}
	for _, s := range g.Screenshots {
		if s.ImageID != "" {
			rec.ScreenshotRefs = append(rec.ScreenshotRefs, ImageURL(ScreenshotSize, s.ImageID))
		}
	}
	for _, v := range g.Videos {
		if v.VideoID != "" {
			rec.VideoRefs = append(rec.VideoRefs, VideoURL(v.VideoID))
		}
	}
	rec.Platforms = names(g.Platforms)
	rec.Genres = names(g.Genres)
	rec.ModeTags = names(g.GameModes)
	for _, ic := range g.InvolvedCompanies {
		if ic.Publisher && ic.Company.Name != "" {
			rec.PublisherRefs = append(rec.PublisherRefs, ic.Company.Name)
		}
	}

	switch {
	case g.TotalRating != nil:
		v := *g.TotalRating
		rec.Rating = &v
	case g.Rating != nil:
		v := *g.Rating
		rec.Rating = &v
	}

	// IGDB uses 0 for some unannounced titles; only positive dates are real.
	if g.FirstReleaseDate != nil && *g.FirstReleaseDate > 0 {
		t := time.Unix(*g.FirstReleaseDate, 0).UTC()
		rec.ReleaseTimestamp = &t
	}

	rec.Normalize()
	if err := rec.Validate(); err != nil {
		return nil, &MappingError{Endpoint: endpoint, Index: index, Reason: "invalid record", Err: err}
	}
	return rec, nil
}

func names(in []rawNamed) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		if n.Name != "" {
			out = append(out, n.Name)
		}
	}
	return out
}
