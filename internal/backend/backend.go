// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package backend opens the durable metadata store selected by
// store.backend: DuckDB (default) or BadgerDB.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/database"
	"github.com/tomtom215/cartridge/internal/gamecache"
	"github.com/tomtom215/cartridge/internal/kvstore"
	"github.com/tomtom215/cartridge/internal/logging"
)

// Store is an opened metadata store.
type Store interface {
	gamecache.Store
	io.Closer
	Ping(ctx context.Context) error
	Count(ctx context.Context) int
}

var (
	_ Store = (*database.DB)(nil)
	_ Store = (*kvstore.Store)(nil)
)

// Open opens the configured backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "", database.Backend:
		db, err := database.New(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", database.Backend, err)
		}
		return db, nil
	case kvstore.Backend:
		s, err := kvstore.Open(&cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", kvstore.Backend, err)
		}
		logging.Info().Str("path", cfg.Badger.Path).Bool("in_memory", cfg.Badger.InMemory).Msg("Badger metadata store ready")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
