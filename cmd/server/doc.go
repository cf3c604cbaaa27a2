// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package main is the entry point for the Cartridge server.

Cartridge sits between the request portal and the IGDB API. It answers game
lookups, title searches and popular/recent listings from a local store,
refreshing from IGDB only when the cached copy is stale, and keeps serving
stale data when IGDB is unreachable.

# Application Architecture

	RootSupervisor ("cartridge")
	├── DataSupervisor ("data-layer")
	│   ├── cache-warm-up (optional, CACHE_WARM_UP_ON_START=true)
	│   └── cache-maintenance (purge and stale refresh tickers)
	└── APISupervisor ("api-layer")
	    └── http-server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config.yaml and environment variables
 2. Store: DuckDB (STORE_BACKEND=duckdb, default) or BadgerDB (STORE_BACKEND=badger)
 3. IGDB client: OAuth2 client credentials, throttling, retries, circuit breaker
 4. Cache orchestrator and HTTP router
 5. Supervisor tree

# Configuration

	IGDB_CLIENT_ID / IGDB_CLIENT_SECRET   Twitch application credentials
	ADMIN_API_KEY                         bearer key for /api/v1/cache routes
	DUCKDB_PATH                           database file (default /data/cartridge.duckdb)
	HTTP_PORT                             listen port (default 8089)

See the config package for the full list.

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests, then background cache writes complete before the store is closed.
*/
package main
