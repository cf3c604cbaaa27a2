// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package database

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartridge/internal/logging"
)

func encodeStringSet(set []string) (string, error) {
	if len(set) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode string set: %w", err)
	}
	return string(b), nil
}

// decodeStringSet turns a stored array column into a typed slice. This is the
// only place stored shapes are coerced. It accepts a JSON array, a JSON
// string holding an encoded array (older writers double-encoded), a bare
// comma-separated string, or nothing. The result is never nil.
func decodeStringSet(id, column, raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return []string{}
	}

	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err == nil {
		return compact(out)
	}

	var inner string
	if err := json.Unmarshal([]byte(raw), &inner); err == nil {
		return decodeStringSet(id, column, inner)
	}

	if !strings.HasPrefix(raw, "[") && !strings.HasPrefix(raw, "{") {
		return compact(strings.Split(raw, ","))
	}

	logging.Warn().Str("external_id", id).Str("column", column).Msg("Unreadable array column, treating as empty")
	return []string{}
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// splitReference splits a validated "table.column" dependent reference.
func splitReference(ref string) (table, column string, ok bool) {
	table, column, ok = strings.Cut(ref, ".")
	if !ok || !isIdent(table) || !isIdent(column) {
		return "", "", false
	}
	return table, column, true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
