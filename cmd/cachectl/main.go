// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Command cachectl runs cache maintenance against the configured store
// without the HTTP server.
//
// DuckDB holds an exclusive file lock, so point cachectl at a stopped
// server's database or use the /api/v1/cache routes instead.
//
//	cachectl --config config.yaml stats
//	cachectl purge --older-than 14d
//	cachectl force-refresh 1942 7346
//	cachectl get 1942 --force
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/cartridge/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, shutdown := newRootCmd(openApp, os.Stdout)
	err := root.ExecuteContext(ctx)
	if closeErr := shutdown(); closeErr != nil {
		logging.Error().Err(closeErr).Msg("Error closing metadata store")
	}
	if err != nil {
		logging.Error().Err(err).Msg("cachectl failed")
		stop()
		os.Exit(1)
	}
}
