// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const day = 24 * time.Hour

// ParseDuration parses Go duration syntax and the d, w and y suffixes.
// A year is 365 days.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if n := len(s); n >= 2 {
		var unit time.Duration
		switch s[n-1] {
		case 'd':
			unit = day
		case 'w':
			unit = 7 * day
		case 'y':
			unit = 365 * day
		}
		if unit != 0 {
			v, err := strconv.ParseInt(s[:n-1], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			if v < 0 {
				return 0, fmt.Errorf("invalid duration %q: negative", s)
			}
			return time.Duration(v) * unit, nil
		}
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// durationHook decodes strings into time.Duration with ParseDuration.
func durationHook() mapstructure.DecodeHookFuncType {
	durType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durType || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseDuration(data.(string))
	}
}
