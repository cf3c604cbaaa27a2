// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package database is the DuckDB-backed metadata record store.

The store is a persistent map from external id to MetadataRecord with a few
secondary orderings (popularity, release recency, text match, staleness). It
is not a general relational layer.

# Failure Semantics

No operation returns an error. Connection loss, constraint violations and
decode failures are logged, counted in cartridge_store_errors_total, and
translated to nil, an empty slice, false or 0. Callers treat a nil Get the
same as "not found".

# Write Semantics

Upsert is atomic per key (INSERT ... ON CONFLICT DO UPDATE) and additionally
serialized per id in-process. last_refreshed_at is kept monotonic with
GREATEST, and an incoming popularity of 0 keeps the stored score.

# Array Columns

The six string-set fields are stored as JSON text and decoded exactly once,
in scanRecord, into non-nil slices.

# Clearing

ClearAll deletes every record in one transaction after nulling each
configured dependent reference (DUCKDB_DEPENDENT_REFERENCES, "table.column").

Usage:

	db, err := database.New(&cfg.Database)
	if err != nil {
	    return err
	}
	defer db.Close()

	rec := db.Get(ctx, "1942")
*/
package database
