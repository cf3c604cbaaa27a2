// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package models defines the data structures shared across Cartridge.

Key types:

  - MetadataRecord: the canonical cached game entity, keyed by ExternalID
  - ClientRecord: the caller-facing projection produced by internal/format
  - StalenessClass and StalenessPolicy: per-usage-context freshness TTLs
  - CacheStats: aggregate cache health reported to monitoring

Records cross package boundaries by pointer. Stores hand out fresh copies, so
callers may mutate what they receive; use Clone before sharing a record
between goroutines that write to it.

Freshness:

	policy := models.DefaultStalenessPolicy()
	if policy.IsFresh(rec, models.ClassDetail, time.Now()) {
	    return rec
	}

A record with ForceRefresh set is never fresh, regardless of LastRefreshedAt.
*/
package models
