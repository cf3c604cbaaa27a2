// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var (
	validLogLevels = map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true,
	}
	validLogFormats = map[string]bool{"json": true, "console": true}
	validBackends   = map[string]bool{"duckdb": true, "badger": true}

	dependentRefPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validate checks the configuration for values the process cannot run with.
// Missing IGDB credentials are allowed: the cache then serves stored data only.
func (c *Config) Validate() error {
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateIGDB(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateFormat(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateCache() error {
	ttls := []struct {
		name string
		v    time.Duration
	}{
		{"CACHE_DETAIL_TTL", c.Cache.DetailTTL},
		{"CACHE_POPULAR_TTL", c.Cache.PopularTTL},
		{"CACHE_RECENT_TTL", c.Cache.RecentTTL},
		{"CACHE_SEARCH_TTL", c.Cache.SearchTTL},
		{"CACHE_PURGE_RETENTION", c.Cache.PurgeRetention},
	}
	for _, ttl := range ttls {
		if ttl.v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", ttl.name, ttl.v)
		}
	}

	if c.Cache.SearchMinHits < 1 {
		return fmt.Errorf("CACHE_SEARCH_MIN_HITS must be at least 1")
	}
	if c.Cache.ListingMinFresh < 1 {
		return fmt.Errorf("CACHE_LISTING_MIN_FRESH must be at least 1")
	}
	if c.Cache.WarmUpPopularLimit < 0 || c.Cache.WarmUpRecentLimit < 0 {
		return fmt.Errorf("warm-up limits must not be negative")
	}
	if c.Cache.RefreshBatchSize < 1 {
		return fmt.Errorf("CACHE_REFRESH_BATCH_SIZE must be at least 1")
	}
	if c.Cache.RefreshConcurrency < 1 || c.Cache.RefreshConcurrency > 64 {
		return fmt.Errorf("CACHE_REFRESH_CONCURRENCY must be between 1 and 64")
	}
	if c.Cache.RefreshInterval < 0 || c.Cache.PurgeInterval < 0 {
		return fmt.Errorf("maintenance intervals must not be negative")
	}
	return nil
}

func (c *Config) validateIGDB() error {
	hasID := c.IGDB.ClientID != ""
	hasSecret := c.IGDB.ClientSecret != ""
	if hasID != hasSecret {
		return fmt.Errorf("IGDB_CLIENT_ID and IGDB_CLIENT_SECRET must be set together")
	}
	if err := validateHTTPURL("IGDB_TOKEN_URL", c.IGDB.TokenURL); err != nil {
		return err
	}
	if err := validateHTTPURL("IGDB_BASE_URL", c.IGDB.BaseURL); err != nil {
		return err
	}
	if c.IGDB.MinInterval < 0 {
		return fmt.Errorf("IGDB_MIN_INTERVAL must not be negative")
	}
	if c.IGDB.Timeout <= 0 {
		return fmt.Errorf("IGDB_TIMEOUT must be positive")
	}
	if c.IGDB.TokenExpiryMargin < 0 {
		return fmt.Errorf("IGDB_TOKEN_EXPIRY_MARGIN must not be negative")
	}
	if c.IGDB.MaxRetries < 0 || c.IGDB.MaxRetries > 10 {
		return fmt.Errorf("IGDB_MAX_RETRIES must be between 0 and 10")
	}
	if c.IGDB.BreakerFailures == 0 {
		return fmt.Errorf("IGDB_BREAKER_FAILURES must be at least 1")
	}
	return nil
}

func (c *Config) validateStore() error {
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("STORE_BACKEND must be one of: duckdb, badger")
	}
	switch c.Store.Backend {
	case "duckdb":
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("DUCKDB_PATH is required for the duckdb backend")
		}
		if c.Database.Threads < 0 {
			return fmt.Errorf("DUCKDB_THREADS must not be negative")
		}
		for _, ref := range c.Database.DependentReferences {
			if !dependentRefPattern.MatchString(ref) {
				return fmt.Errorf("invalid dependent reference %q: want table.column", ref)
			}
		}
	case "badger":
		if !c.Badger.InMemory && strings.TrimSpace(c.Badger.Path) == "" {
			return fmt.Errorf("BADGER_PATH is required unless BADGER_IN_MEMORY is set")
		}
	}
	return nil
}

func (c *Config) validateFormat() error {
	if !strings.HasPrefix(c.Format.ProxyPrefix, "/") {
		return fmt.Errorf("ASSET_PROXY_PREFIX must start with /")
	}
	for _, host := range c.Format.AssetHosts {
		if host == "" || strings.ContainsAny(host, "/ ") {
			return fmt.Errorf("invalid asset host %q", host)
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.Server.RateLimitDisabled {
		return nil
	}
	if c.Server.RateLimitRequests < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
	}
	if c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}
	return nil
}
