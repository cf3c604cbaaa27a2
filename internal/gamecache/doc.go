// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package gamecache is the read-through cache in front of the upstream metadata
API.

A Cache checks the durable Store first and serves records that are fresh for
the tier they are read in (detail, popular, recent, search). Missing, stale or
force-flagged records are fetched from the Upstream, persisted and returned.
When the upstream fails the cache serves whatever it has stored instead.

# Deduplication

Concurrent GetByID calls for the same (id, force) pair share one upstream
fetch through a singleflight group. The shared fetch runs on a context
detached from any single caller, so a caller that gives up only abandons its
own wait.

# Detached Tasks

Search and listing results are returned straight from the upstream while the
writes happen on detached goroutines. Their failures and panics are logged and
counted in cartridge_detached_tasks_total. Wait blocks until they finish.

# Maintenance

RefreshStaleBatch, Purge and MarkForceRefresh are driven by the supervisor's
maintenance service, the admin API and the cachectl command. WarmUp runs once
per process.

Usage:

	cache := gamecache.New(store, igdbClient, format.FromConfig(&cfg.Format),
	    gamecache.OptionsFromConfig(cfg)...)
	defer cache.Wait()

	rec, err := cache.GetByID(ctx, "1942", false)
*/
package gamecache
