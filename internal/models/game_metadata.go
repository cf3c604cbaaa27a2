// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package models

import (
	"slices"
	"strings"
	"time"

	"github.com/tomtom215/cartridge/internal/validation"
)

// MetadataRecord is the canonical cached game metadata entity.
//
// ExternalID is the upstream identifier and the primary key; it never changes
// once a record exists. Every field other than ExternalID and Title may be
// empty. Collections have set semantics: order carries no meaning and
// duplicates are dropped by Normalize.
type MetadataRecord struct {
	ExternalID     string   `json:"external_id" validate:"externalid"`
	Title          string   `json:"title" validate:"notblank"`
	Summary        string   `json:"summary,omitempty"`
	CoverImageRef  string   `json:"cover_image_ref,omitempty"`
	ScreenshotRefs []string `json:"screenshot_refs"`
	VideoRefs      []string `json:"video_refs"`
	Platforms      []string `json:"platforms"`
	Genres         []string `json:"genres"`
	PublisherRefs  []string `json:"publisher_refs"`
	ModeTags       []string `json:"mode_tags"`

	// Rating is on the upstream's own scale (IGDB uses 0-100).
	Rating *float64 `json:"rating,omitempty"`

	// ReleaseTimestamp is nil when the release date is unannounced or unknown.
	ReleaseTimestamp *time.Time `json:"release_timestamp,omitempty"`

	// PopularityScore sorts descending in popularity listings. Zero means unranked.
	PopularityScore float64 `json:"popularity_score"`

	// LastRefreshedAt is set on every successful write and drives staleness.
	LastRefreshedAt time.Time `json:"last_refreshed_at"`

	// ForceRefresh marks the record stale regardless of LastRefreshedAt.
	ForceRefresh bool `json:"force_refresh"`
}

// Normalize trims the identity fields and collapses every string collection
// into a sorted, de-duplicated, non-nil slice.
func (r *MetadataRecord) Normalize() {
	r.ExternalID = strings.TrimSpace(r.ExternalID)
	r.Title = strings.TrimSpace(r.Title)
	r.ScreenshotRefs = normalizeSet(r.ScreenshotRefs)
	r.VideoRefs = normalizeSet(r.VideoRefs)
	r.Platforms = normalizeSet(r.Platforms)
	r.Genres = normalizeSet(r.Genres)
	r.PublisherRefs = normalizeSet(r.PublisherRefs)
	r.ModeTags = normalizeSet(r.ModeTags)
}

// Validate checks the identity fields. It returns nil or a
// *validation.RequestValidationError.
func (r *MetadataRecord) Validate() error {
	if verr := validation.ValidateStruct(r); verr != nil {
		return verr
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (r *MetadataRecord) Clone() *MetadataRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.ScreenshotRefs = slices.Clone(r.ScreenshotRefs)
	c.VideoRefs = slices.Clone(r.VideoRefs)
	c.Platforms = slices.Clone(r.Platforms)
	c.Genres = slices.Clone(r.Genres)
	c.PublisherRefs = slices.Clone(r.PublisherRefs)
	c.ModeTags = slices.Clone(r.ModeTags)
	if r.Rating != nil {
		v := *r.Rating
		c.Rating = &v
	}
	if r.ReleaseTimestamp != nil {
		v := *r.ReleaseTimestamp
		c.ReleaseTimestamp = &v
	}
	return &c
}

// Age returns how long ago the record was last refreshed.
func (r *MetadataRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.LastRefreshedAt)
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// CacheStats reports aggregate cache health for monitoring.
type CacheStats struct {
	HasPopular bool `json:"has_popular"`
	HasRecent  bool `json:"has_recent"`
	HasStale   bool `json:"has_stale"`
}
