// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package config loads Cartridge configuration with Koanf v2.
//
// Sources are layered, later ones winning:
//
//  1. Built-in defaults (defaultConfig)
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/cartridge/config.yaml)
//  3. Mapped environment variables (see envTransformFunc)
//
// Durations accept Go syntax ("90m", "2h30m") plus whole-number day, week and
// year suffixes ("7d", "2w", "1y").
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/cartridge/internal/models"
)

// Config is the complete process configuration.
type Config struct {
	Cache    CacheConfig    `koanf:"cache"`
	IGDB     IGDBConfig     `koanf:"igdb"`
	Store    StoreConfig    `koanf:"store"`
	Database DatabaseConfig `koanf:"database"`
	Badger   BadgerConfig   `koanf:"badger"`
	Format   FormatConfig   `koanf:"format"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// CacheConfig holds orchestrator and maintenance settings.
type CacheConfig struct {
	DetailTTL  time.Duration `koanf:"detail_ttl"`
	PopularTTL time.Duration `koanf:"popular_ttl"`
	RecentTTL  time.Duration `koanf:"recent_ttl"`
	SearchTTL  time.Duration `koanf:"search_ttl"`

	// SearchMinHits is the cached hit count at which search skips the upstream.
	SearchMinHits int `koanf:"search_min_hits"`
	// ListingMinFresh caps the fresh-row threshold for popular/recent listings.
	ListingMinFresh int `koanf:"listing_min_fresh"`

	PurgeRetention     time.Duration `koanf:"purge_retention"`
	WarmUpOnStart      bool          `koanf:"warm_up_on_start"`
	WarmUpPopularLimit int           `koanf:"warm_up_popular_limit"`
	WarmUpRecentLimit  int           `koanf:"warm_up_recent_limit"`

	RefreshBatchSize   int           `koanf:"refresh_batch_size"`
	RefreshConcurrency int           `koanf:"refresh_concurrency"`
	RefreshInterval    time.Duration `koanf:"refresh_interval"` // 0 disables scheduled refresh
	PurgeInterval      time.Duration `koanf:"purge_interval"`   // 0 disables scheduled purge
}

// IGDBConfig holds upstream client settings.
type IGDBConfig struct {
	ClientID          string        `koanf:"client_id"`
	ClientSecret      string        `koanf:"client_secret"`
	TokenURL          string        `koanf:"token_url"`
	BaseURL           string        `koanf:"base_url"`
	MinInterval       time.Duration `koanf:"min_interval"`
	Timeout           time.Duration `koanf:"timeout"`
	TokenExpiryMargin time.Duration `koanf:"token_expiry_margin"`
	MaxRetries        int           `koanf:"max_retries"`
	BreakerFailures   uint32        `koanf:"breaker_failures"` // consecutive failures before the breaker opens
	BreakerTimeout    time.Duration `koanf:"breaker_timeout"`  // open -> half-open delay
}

// StoreConfig selects the durable record store.
type StoreConfig struct {
	Backend string `koanf:"backend"` // duckdb or badger
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = DuckDB default

	// DependentReferences lists table.column pairs that hold game ids and are
	// nulled before a full cache clear.
	DependentReferences []string `koanf:"dependent_references"`
}

// BadgerConfig holds BadgerDB settings.
type BadgerConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// FormatConfig controls the caller-facing record shape.
type FormatConfig struct {
	ProxyPrefix string   `koanf:"proxy_prefix"`
	AssetHosts  []string `koanf:"asset_hosts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	Timeout           time.Duration `koanf:"timeout"`
	AdminKey          string        `koanf:"admin_key"` // bearer key for maintenance routes; empty disables them
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StalenessPolicy returns the configured TTL tiers.
func (c *Config) StalenessPolicy() models.StalenessPolicy {
	return models.StalenessPolicy{
		Detail:  c.Cache.DetailTTL,
		Popular: c.Cache.PopularTTL,
		Recent:  c.Cache.RecentTTL,
		Search:  c.Cache.SearchTTL,
	}
}

// Addr returns the HTTP listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
