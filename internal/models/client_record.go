// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package models

// ClientRecord is the caller-facing shape of a MetadataRecord.
//
// Media references point at the local asset proxy, ReleaseTimestamp is Unix
// milliseconds (nil when unknown), and every collection is present as a JSON
// array even when empty.
type ClientRecord struct {
	ExternalID       string   `json:"external_id"`
	Title            string   `json:"title"`
	Summary          string   `json:"summary"`
	CoverImageRef    string   `json:"cover_image_ref"`
	ScreenshotRefs   []string `json:"screenshot_refs"`
	VideoRefs        []string `json:"video_refs"`
	Platforms        []string `json:"platforms"`
	Genres           []string `json:"genres"`
	PublisherRefs    []string `json:"publisher_refs"`
	ModeTags         []string `json:"mode_tags"`
	Rating           *float64 `json:"rating"`
	ReleaseTimestamp *int64   `json:"release_timestamp"`
	PopularityScore  float64  `json:"popularity_score"`
	LastRefreshedAt  string   `json:"last_refreshed_at"`
}
