// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package models

import "time"

// StalenessClass identifies the usage context a record is read in.
// Each class has its own freshness TTL.
type StalenessClass string

const (
	ClassDetail  StalenessClass = "detail"
	ClassPopular StalenessClass = "popular"
	ClassRecent  StalenessClass = "recent"
	ClassSearch  StalenessClass = "search"
)

// Default TTLs per class.
const (
	DefaultDetailTTL  = 24 * time.Hour
	DefaultPopularTTL = 6 * time.Hour
	DefaultRecentTTL  = 12 * time.Hour
	DefaultSearchTTL  = 2 * time.Hour
)

// StalenessPolicy maps each StalenessClass to a TTL.
type StalenessPolicy struct {
	Detail  time.Duration
	Popular time.Duration
	Recent  time.Duration
	Search  time.Duration
}

// DefaultStalenessPolicy returns the 24h/6h/12h/2h tiers.
func DefaultStalenessPolicy() StalenessPolicy {
	return StalenessPolicy{
		Detail:  DefaultDetailTTL,
		Popular: DefaultPopularTTL,
		Recent:  DefaultRecentTTL,
		Search:  DefaultSearchTTL,
	}
}

// TTL returns the TTL for class. Unknown classes and non-positive values
// fall back to the detail default.
func (p StalenessPolicy) TTL(class StalenessClass) time.Duration {
	var ttl time.Duration
	switch class {
	case ClassDetail:
		ttl = p.Detail
	case ClassPopular:
		ttl = p.Popular
	case ClassRecent:
		ttl = p.Recent
	case ClassSearch:
		ttl = p.Search
	}
	if ttl <= 0 {
		return DefaultDetailTTL
	}
	return ttl
}

// IsFresh reports whether rec may be served for class without an upstream call.
// A force-flagged record is never fresh.
func (p StalenessPolicy) IsFresh(rec *MetadataRecord, class StalenessClass, now time.Time) bool {
	if rec == nil || rec.ForceRefresh {
		return false
	}
	return rec.Age(now) < p.TTL(class)
}
