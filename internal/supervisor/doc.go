// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

/*
Package supervisor provides process supervision for Cartridge using suture v4.

# Overview

	RootSupervisor ("cartridge")
	├── DataSupervisor ("data-layer")
	│   ├── WarmUpService (if cache.warm_up_on_start)
	│   └── MaintenanceService (purge and stale refresh tickers)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A failure in the data layer restarts only that layer. The HTTP server keeps
answering from the store while the maintenance sweep backs off.

Events (service start, failure, restart, backoff) go through a sutureslog
hook to the slog bridge over zerolog in internal/logging.

# Usage Example

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewWarmUpService(cache))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second, cache))

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
	    logging.Error().Err(err).Msg("Supervisor stopped")
	}
*/
package supervisor
