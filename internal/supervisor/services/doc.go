// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package services provides suture.Service wrappers for Cartridge components.

Each wrapper turns a component's lifecycle into suture's Serve(ctx) pattern
and implements fmt.Stringer so suture can name it in logs.

HTTP Server (HTTPServerService):
  - Runs ListenAndServe and shuts down gracefully on cancellation
  - Drains detached cache writes after the last request

Warm-up (WarmUpService):
  - Calls Cache.WarmUp once, then idles until shutdown

Maintenance (MaintenanceService):
  - Purges records older than the retention window every purge interval
  - Refreshes a batch of stale records every refresh interval
  - A zero interval disables the job
*/
package services
