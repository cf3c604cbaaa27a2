// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, first match wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cartridge/config.yaml",
	"/etc/cartridge/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			DetailTTL:          24 * time.Hour,
			PopularTTL:         6 * time.Hour,
			RecentTTL:          12 * time.Hour,
			SearchTTL:          2 * time.Hour,
			SearchMinHits:      5,
			ListingMinFresh:    10,
			PurgeRetention:     7 * day,
			WarmUpOnStart:      true,
			WarmUpPopularLimit: 30,
			WarmUpRecentLimit:  30,
			RefreshBatchSize:   25,
			RefreshConcurrency: 4,
			RefreshInterval:    time.Hour,
			PurgeInterval:      6 * time.Hour,
		},
		IGDB: IGDBConfig{
			TokenURL:          "https://id.twitch.tv/oauth2/token",
			BaseURL:           "https://api.igdb.com/v4",
			MinInterval:       100 * time.Millisecond,
			Timeout:           10 * time.Second,
			TokenExpiryMargin: 5 * time.Minute,
			MaxRetries:        2,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "duckdb",
		},
		Database: DatabaseConfig{
			Path:      "/data/cartridge.duckdb",
			MaxMemory: "512MB",
		},
		Badger: BadgerConfig{
			Path: "/data/cartridge-badger",
		},
		Format: FormatConfig{
			ProxyPrefix: "/proxy/igdb",
			AssetHosts:  []string{"images.igdb.com"},
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8089,
			Timeout:           30 * time.Second,
			RateLimitRequests: 120,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf loads defaults, then the config file (if any), then the
// environment, and validates the result.
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file. An empty path
// falls back to the usual search.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		path = findConfigFile()
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				durationHook(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are split on commas when they arrive as a single string.
var sliceConfigPaths = []string{
	"database.dependent_references",
	"format.asset_hosts",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to config paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Cache tiers and orchestrator thresholds
	"cache_detail_ttl":            "cache.detail_ttl",
	"cache_popular_ttl":           "cache.popular_ttl",
	"cache_recent_ttl":            "cache.recent_ttl",
	"cache_search_ttl":            "cache.search_ttl",
	"cache_search_min_hits":       "cache.search_min_hits",
	"cache_listing_min_fresh":     "cache.listing_min_fresh",
	"cache_purge_retention":       "cache.purge_retention",
	"cache_warm_up_on_start":      "cache.warm_up_on_start",
	"cache_warm_up_popular_limit": "cache.warm_up_popular_limit",
	"cache_warm_up_recent_limit":  "cache.warm_up_recent_limit",
	"cache_refresh_batch_size":    "cache.refresh_batch_size",
	"cache_refresh_concurrency":   "cache.refresh_concurrency",
	"cache_refresh_interval":      "cache.refresh_interval",
	"cache_purge_interval":        "cache.purge_interval",

	// Upstream
	"igdb_client_id":           "igdb.client_id",
	"igdb_client_secret":       "igdb.client_secret",
	"twitch_client_id":         "igdb.client_id",
	"twitch_client_secret":     "igdb.client_secret",
	"igdb_token_url":           "igdb.token_url",
	"igdb_base_url":            "igdb.base_url",
	"igdb_min_interval":        "igdb.min_interval",
	"igdb_timeout":             "igdb.timeout",
	"igdb_token_expiry_margin": "igdb.token_expiry_margin",
	"igdb_max_retries":         "igdb.max_retries",
	"igdb_breaker_failures":    "igdb.breaker_failures",
	"igdb_breaker_timeout":     "igdb.breaker_timeout",

	// Storage
	"store_backend":               "store.backend",
	"duckdb_path":                 "database.path",
	"duckdb_max_memory":           "database.max_memory",
	"duckdb_threads":              "database.threads",
	"duckdb_dependent_references": "database.dependent_references",
	"badger_path":                 "badger.path",
	"badger_in_memory":            "badger.in_memory",

	// Formatter
	"asset_proxy_prefix": "format.proxy_prefix",
	"asset_hosts":        "format.asset_hosts",

	// Server
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_timeout":        "server.timeout",
	"admin_api_key":       "server.admin_key",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"disable_rate_limit":  "server.rate_limit_disabled",
	"cors_origins":        "server.cors_origins",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to a koanf path, or ""
// to skip it.
//
//   - IGDB_CLIENT_ID  -> igdb.client_id
//   - CACHE_DETAIL_TTL -> cache.detail_ttl
//   - HTTP_PORT       -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
