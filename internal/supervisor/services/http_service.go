// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// HTTPServer interface matches the *http.Server lifecycle methods.
//
// The service depends on this interface rather than *http.Server so tests
// can drive it with a mock that fails or blocks on demand.
//
// Satisfied by *http.Server from net/http:
//   - ListenAndServe() error
//   - Shutdown(ctx context.Context) error
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// Drainer is run after the HTTP server has shut down, before Serve returns.
//
// Handlers for search and listings persist upstream results on detached
// goroutines that outlive the request. Draining them here means the store is
// still open when those writes land. *gamecache.Cache satisfies Drainer
// through Wait.
type Drainer interface {
	Wait()
}

// HTTPServerService wraps the API server as a supervised service.
//
// This wrapper translates between http.Server's blocking ListenAndServe and
// suture's context-aware Serve:
//
//  1. Starts ListenAndServe in a goroutine
//  2. Waits for either context cancellation or a server error
//  3. On cancellation, calls Shutdown with shutdownTimeout
//  4. Waits on the drainer, if any, for detached cache writes
//
// A listener failure (port in use, for example) is returned as an error so
// the supervisor restarts the service with backoff.
//
// Example usage:
//
//	server := &http.Server{Addr: cfg.Server.Addr(), Handler: router}
//	svc := services.NewHTTPServerService(server, 10*time.Second, cache)
//	tree.AddAPIService(svc)
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	drainer         Drainer
	name            string
}

// NewHTTPServerService creates a new HTTP server service wrapper.
//
// shutdownTimeout bounds how long in-flight requests get to finish during
// graceful shutdown; a non-positive value becomes 10 seconds. drainer may be
// nil when nothing runs in the background.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration, drainer Drainer) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		drainer:         drainer,
		name:            "http-server",
	}
}

// Serve implements suture.Service.
//
// Returns ctx.Err() after a graceful shutdown, or an error if the server
// fails to start or to shut down. http.ErrServerClosed is expected on
// shutdown and is not reported.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh

		if h.drainer != nil {
			h.drainer.Wait()
		}
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's logs.
func (h *HTTPServerService) String() string {
	return h.name
}
