// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package models

import (
	"slices"
	"testing"
	"time"
)

func TestMetadataRecord_Normalize(t *testing.T) {
	t.Parallel()

	rec := MetadataRecord{
		ExternalID: "  1942 ",
		Title:      " The Witcher 3 ",
		Platforms:  []string{"PC", "PS4", "PC", " ", "Xbox One"},
		Genres:     nil,
		ModeTags:   []string{"Single player", "Single player"},
	}
	rec.Normalize()

	if rec.ExternalID != "1942" {
		t.Errorf("ExternalID = %q, want %q", rec.ExternalID, "1942")
	}
	if rec.Title != "The Witcher 3" {
		t.Errorf("Title = %q, want %q", rec.Title, "The Witcher 3")
	}
	if want := []string{"PC", "PS4", "Xbox One"}; !slices.Equal(rec.Platforms, want) {
		t.Errorf("Platforms = %v, want %v", rec.Platforms, want)
	}
	if rec.Genres == nil || len(rec.Genres) != 0 {
		t.Errorf("Genres = %#v, want empty non-nil slice", rec.Genres)
	}
	if len(rec.ModeTags) != 1 {
		t.Errorf("ModeTags = %v, want one entry", rec.ModeTags)
	}
	for name, s := range map[string][]string{
		"ScreenshotRefs": rec.ScreenshotRefs,
		"VideoRefs":      rec.VideoRefs,
		"PublisherRefs":  rec.PublisherRefs,
	} {
		if s == nil {
			t.Errorf("%s is nil after Normalize", name)
		}
	}
}

func TestMetadataRecord_Clone(t *testing.T) {
	t.Parallel()

	rating := 91.5
	released := time.Date(2015, 5, 19, 0, 0, 0, 0, time.UTC)
	orig := &MetadataRecord{
		ExternalID:       "1942",
		Title:            "The Witcher 3",
		Platforms:        []string{"PC"},
		Rating:           &rating,
		ReleaseTimestamp: &released,
	}

	c := orig.Clone()
	c.Platforms[0] = "Switch"
	*c.Rating = 10
	*c.ReleaseTimestamp = time.Time{}

	if orig.Platforms[0] != "PC" {
		t.Error("Clone shares Platforms backing array")
	}
	if *orig.Rating != 91.5 {
		t.Error("Clone shares Rating pointer")
	}
	if !orig.ReleaseTimestamp.Equal(released) {
		t.Error("Clone shares ReleaseTimestamp pointer")
	}

	var nilRec *MetadataRecord
	if nilRec.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestStalenessPolicy_TTL(t *testing.T) {
	t.Parallel()

	p := DefaultStalenessPolicy()
	tests := []struct {
		class StalenessClass
		want  time.Duration
	}{
		{ClassDetail, 24 * time.Hour},
		{ClassPopular, 6 * time.Hour},
		{ClassRecent, 12 * time.Hour},
		{ClassSearch, 2 * time.Hour},
		{StalenessClass("bogus"), 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			t.Parallel()
			if got := p.TTL(tt.class); got != tt.want {
				t.Errorf("TTL(%s) = %v, want %v", tt.class, got, tt.want)
			}
		})
	}

	zero := StalenessPolicy{}
	if got := zero.TTL(ClassPopular); got != DefaultDetailTTL {
		t.Errorf("zero policy TTL = %v, want %v", got, DefaultDetailTTL)
	}
}

func TestStalenessPolicy_IsFresh(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := DefaultStalenessPolicy()

	tests := []struct {
		name  string
		rec   *MetadataRecord
		class StalenessClass
		want  bool
	}{
		{"nil record", nil, ClassDetail, false},
		{"just refreshed", &MetadataRecord{LastRefreshedAt: now}, ClassDetail, true},
		{"one second before ttl", &MetadataRecord{LastRefreshedAt: now.Add(-24*time.Hour + time.Second)}, ClassDetail, true},
		{"exactly at ttl", &MetadataRecord{LastRefreshedAt: now.Add(-24 * time.Hour)}, ClassDetail, false},
		{"fresh for detail but stale for search", &MetadataRecord{LastRefreshedAt: now.Add(-3 * time.Hour)}, ClassSearch, false},
		{"force flag overrides recency", &MetadataRecord{LastRefreshedAt: now, ForceRefresh: true}, ClassDetail, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := p.IsFresh(tt.rec, tt.class, now); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMetadataRecord_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rec     MetadataRecord
		wantErr bool
	}{
		{"valid", MetadataRecord{ExternalID: "1942", Title: "The Witcher 3"}, false},
		{"missing id", MetadataRecord{Title: "The Witcher 3"}, true},
		{"blank title", MetadataRecord{ExternalID: "1942", Title: "  "}, true},
		{"id with whitespace", MetadataRecord{ExternalID: "19 42", Title: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
