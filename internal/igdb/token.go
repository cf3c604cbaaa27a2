// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package igdb

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tomtom215/cartridge/internal/logging"
	"github.com/tomtom215/cartridge/internal/metrics"
)

// tokenManager owns the bearer token for one Client. The token is reused
// until it is within margin of expiry.
type tokenManager struct {
	mu         sync.Mutex
	creds      *clientcredentials.Config
	httpClient *http.Client
	margin     time.Duration
	src        oauth2.TokenSource
	fatal      *UpstreamAuthError
}

func newTokenManager(clientID, clientSecret, tokenURL string, margin time.Duration, httpClient *http.Client) *tokenManager {
	tm := &tokenManager{httpClient: httpClient, margin: margin}
	tm.setCredentialsLocked(clientID, clientSecret, tokenURL)
	return tm
}

func (tm *tokenManager) setCredentialsLocked(clientID, clientSecret, tokenURL string) {
	tm.src = nil
	tm.fatal = nil
	if clientID == "" || clientSecret == "" {
		tm.creds = nil
		return
	}
	tm.creds = &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// ClientID returns the configured client id, or "" when unset.
func (tm *tokenManager) ClientID() string {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.creds == nil {
		return ""
	}
	return tm.creds.ClientID
}

// Token returns a valid access token, exchanging credentials when needed.
func (tm *tokenManager) Token() (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.creds == nil {
		return "", &UpstreamAuthError{Err: ErrMissingCredentials}
	}
	if tm.fatal != nil {
		return "", tm.fatal
	}
	if tm.src == nil {
		// The exchange runs on its own context: oauth2 keeps it for the
		// lifetime of the source, so it must not be a caller's request context.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, tm.httpClient)
		tm.src = oauth2.ReuseTokenSourceWithExpiry(nil, observedSource{tm.creds.TokenSource(ctx)}, tm.margin)
	}

	tok, err := tm.src.Token()
	if err != nil {
		tm.src = nil
		return "", tm.classify(err)
	}
	return tok.AccessToken, nil
}

// classify marks rejected credentials as fatal and everything else as a
// transient request failure.
func (tm *tokenManager) classify(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		switch status := rerr.Response.StatusCode; status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			tm.fatal = &UpstreamAuthError{Status: status, Err: err}
			logging.Error().Int("status", status).Msg("IGDB rejected client credentials; upstream calls disabled until credentials change")
			return tm.fatal
		default:
			return &UpstreamRequestError{Endpoint: "token", Status: status, Body: truncate(string(rerr.Body)), Err: err}
		}
	}
	return &UpstreamRequestError{Endpoint: "token", Err: err}
}

// Invalidate drops the cached token so the next call performs a fresh exchange.
func (tm *tokenManager) Invalidate() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.src = nil
}

// Reset clears a remembered credential rejection.
func (tm *tokenManager) Reset() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.fatal = nil
	tm.src = nil
}

// SetCredentials replaces the credentials and clears all token state.
func (tm *tokenManager) SetCredentials(clientID, clientSecret, tokenURL string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.setCredentialsLocked(clientID, clientSecret, tokenURL)
}

// observedSource counts and logs real token exchanges; reuse hits never reach it.
type observedSource struct {
	base oauth2.TokenSource
}

func (s observedSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	metrics.RecordTokenRefresh(err)
	if err != nil {
		return nil, err
	}
	logging.Debug().Time("expiry", tok.Expiry).Msg("Obtained IGDB access token")
	return tok, nil
}
