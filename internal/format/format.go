// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

// Package format converts stored metadata records into the shape returned to
// callers. It performs no I/O.
//
// Media references on a configured upstream asset host are rewritten to a
// path under the local asset proxy so browsers never contact the upstream
// directly:
//
//	https://images.igdb.com/igdb/image/upload/t_cover_big/co1.jpg
//	-> /proxy/igdb/igdb/image/upload/t_cover_big/co1.jpg
package format

import (
	"net/url"
	"strings"
	"time"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/models"
)

// DefaultProxyPrefix is the local asset proxy mount point.
const DefaultProxyPrefix = "/proxy/igdb"

// Formatter rewrites records for clients. The zero value passes URLs through
// unchanged; use New for configured hosts.
type Formatter struct {
	proxyPrefix string
	hosts       map[string]struct{}
}

// New builds a Formatter that maps each of assetHosts onto proxyPrefix.
func New(proxyPrefix string, assetHosts []string) *Formatter {
	f := &Formatter{
		proxyPrefix: strings.TrimRight(proxyPrefix, "/"),
		hosts:       make(map[string]struct{}, len(assetHosts)),
	}
	for _, h := range assetHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			f.hosts[h] = struct{}{}
		}
	}
	return f
}

// FromConfig builds a Formatter from the format section of the configuration.
func FromConfig(cfg *config.FormatConfig) *Formatter {
	return New(cfg.ProxyPrefix, cfg.AssetHosts)
}

// ToClientShape converts rec. A nil record yields nil.
func (f *Formatter) ToClientShape(rec *models.MetadataRecord) *models.ClientRecord {
	if rec == nil {
		return nil
	}

	out := &models.ClientRecord{
		ExternalID:      rec.ExternalID,
		Title:           rec.Title,
		Summary:         rec.Summary,
		CoverImageRef:   f.RewriteRef(rec.CoverImageRef),
		ScreenshotRefs:  f.rewriteAll(rec.ScreenshotRefs),
		VideoRefs:       f.rewriteAll(rec.VideoRefs),
		Platforms:       copyStrings(rec.Platforms),
		Genres:          copyStrings(rec.Genres),
		PublisherRefs:   copyStrings(rec.PublisherRefs),
		ModeTags:        copyStrings(rec.ModeTags),
		PopularityScore: rec.PopularityScore,
	}
	if rec.Rating != nil {
		v := *rec.Rating
		out.Rating = &v
	}
	if rec.ReleaseTimestamp != nil {
		ms := rec.ReleaseTimestamp.UnixMilli()
		out.ReleaseTimestamp = &ms
	}
	if !rec.LastRefreshedAt.IsZero() {
		out.LastRefreshedAt = rec.LastRefreshedAt.UTC().Format(time.RFC3339)
	}
	return out
}

// ToClientShapes converts every record, preserving order. The result is
// never nil.
func (f *Formatter) ToClientShapes(recs []*models.MetadataRecord) []*models.ClientRecord {
	out := make([]*models.ClientRecord, 0, len(recs))
	for _, r := range recs {
		if c := f.ToClientShape(r); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// RewriteRef maps an absolute or protocol-relative URL on an asset host to
// the proxy. Anything else is returned as is.
func (f *Formatter) RewriteRef(ref string) string {
	if ref == "" || f == nil || len(f.hosts) == 0 {
		return ref
	}
	if !strings.HasPrefix(ref, "//") && !strings.Contains(ref, "://") {
		return ref
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return ref
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return ref
	}
	if _, ok := f.hosts[strings.ToLower(u.Hostname())]; !ok {
		return ref
	}

	p := u.EscapedPath()
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	out := f.proxyPrefix + p
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

func (f *Formatter) rewriteAll(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, f.RewriteRef(r))
	}
	return out
}

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
