// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package api exposes the game metadata cache over HTTP using the chi router.

# Endpoints

	GET    /api/v1/games/{id}?force=true      single record, 404 when unknown
	GET    /api/v1/games/search?q=&limit=     title search
	GET    /api/v1/games/popular?limit=&offset=
	GET    /api/v1/games/recent?limit=&offset=
	POST   /api/v1/cache/refresh-stale?batch_size=
	POST   /api/v1/cache/force-refresh        {"ids": ["1942", "7346"]}
	POST   /api/v1/cache/purge?older_than=7d
	DELETE /api/v1/cache
	GET    /api/v1/cache/stats
	GET    /api/v1/health
	GET    /metrics

The /api/v1/cache group requires "Authorization: Bearer <admin key>". With no
key configured the group answers 404.

# Response Envelope

Every JSON response uses APIResponse:

	{"success": true, "data": [...], "meta": {"request_id": "...", "pagination": {...}}}
	{"success": false, "error": {"code": "VALIDATION_FAILED", "message": "..."}}

Lookups never surface upstream failures when a cached copy exists. The only
upstream error a caller sees is UPSTREAM_AUTH_FAILED (502) for an id that is
not stored at all.

# Usage

	handler := api.NewHandler(cache, db, cfg.Cache.RefreshBatchSize)
	router := api.NewRouter(handler, api.RouterConfig{
		AdminKey:   cfg.Server.AdminKey,
		Middleware: api.ChiMiddlewareConfigFromServer(&cfg.Server),
	})
*/
package api
