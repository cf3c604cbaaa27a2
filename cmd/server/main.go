// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/cartridge/internal/api"
	"github.com/tomtom215/cartridge/internal/backend"
	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/format"
	"github.com/tomtom215/cartridge/internal/gamecache"
	"github.com/tomtom215/cartridge/internal/igdb"
	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/supervisor"
	"github.com/tomtom215/cartridge/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("backend", cfg.Store.Backend).
		Str("addr", cfg.Server.Addr()).
		Bool("warm_up", cfg.Cache.WarmUpOnStart).
		Msg("Starting Cartridge")

	store, err := backend.Open(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open metadata store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing metadata store")
		}
	}()

	if cfg.Server.AdminKey == "" {
		logging.Warn().Msg("ADMIN_API_KEY is not set; cache maintenance routes are disabled")
	}
	if cfg.Server.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	upstream := igdb.NewClient(&cfg.IGDB)
	cache := gamecache.New(store, upstream, format.FromConfig(&cfg.Format), gamecache.OptionsFromConfig(cfg)...)

	handler := api.NewHandler(cache, store, cfg.Cache.RefreshBatchSize)
	router := api.NewRouter(handler, api.RouterConfig{
		AdminKey:   cfg.Server.AdminKey,
		Middleware: api.ChiMiddlewareConfigFromServer(&cfg.Server),
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// Bridges zerolog to slog for sutureslog
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer services
	if cfg.Cache.WarmUpOnStart {
		tree.AddDataService(services.NewWarmUpService(cache))
	}
	tree.AddDataService(services.NewMaintenanceService(cache, services.MaintenanceConfig{
		PurgeInterval:    cfg.Cache.PurgeInterval,
		PurgeRetention:   cfg.Cache.PurgeRetention,
		RefreshInterval:  cfg.Cache.RefreshInterval,
		RefreshBatchSize: cfg.Cache.RefreshBatchSize,
	}))

	// API layer services; the cache drains detached writes after shutdown
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second, cache))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
		serveErr = <-errCh
	case serveErr = <-errCh:
		stop()
	}
	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		logging.Error().Err(serveErr).Msg("Supervisor tree error")
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Detached writes from services that did not drain themselves
	cache.Wait()
	logging.Info().Msg("Cartridge stopped gracefully")
}
