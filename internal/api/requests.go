// Cartridge - Game Metadata Cache for the Request Portal
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartridge

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cartridge/internal/config"
	"github.com/tomtom215/cartridge/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

type lookupRequest struct {
	ID    string `validate:"externalid"`
	Force bool
}

type searchRequest struct {
	Query string `validate:"max=256"`
	Limit int    `validate:"min=0,max=100"`
}

type listingRequest struct {
	Limit  int `validate:"min=0,max=100"`
	Offset int `validate:"min=0,max=10000"`
}

type refreshStaleRequest struct {
	BatchSize int `validate:"min=0,max=500"`
}

type purgeRequest struct {
	OlderThan time.Duration `validate:"min=0"`
}

// ForceRefreshRequest is the body of POST /api/v1/cache/force-refresh.
type ForceRefreshRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=500,dive,externalid"`
}

// badRequestError is a parse failure that maps to 400 before validation.
type badRequestError struct {
	param string
	err   error
}

func (e *badRequestError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.param, e.err)
}

func (e *badRequestError) Unwrap() error { return e.err }

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &badRequestError{param: name, err: errors.New("must be an integer")}
	}
	return n, nil
}

func queryBool(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &badRequestError{param: name, err: errors.New("must be a boolean")}
	}
	return b, nil
}

func parseLookup(r *http.Request) (*lookupRequest, error) {
	force, err := queryBool(r, "force")
	if err != nil {
		return nil, err
	}
	return &lookupRequest{ID: strings.TrimSpace(chi.URLParam(r, "id")), Force: force}, nil
}

func parseSearch(r *http.Request) (*searchRequest, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	return &searchRequest{Query: r.URL.Query().Get("q"), Limit: limit}, nil
}

func parseListing(r *http.Request) (*listingRequest, error) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return nil, err
	}
	return &listingRequest{Limit: limit, Offset: offset}, nil
}

func parseRefreshStale(r *http.Request) (*refreshStaleRequest, error) {
	n, err := queryInt(r, "batch_size")
	if err != nil {
		return nil, err
	}
	return &refreshStaleRequest{BatchSize: n}, nil
}

// parsePurge reads older_than in config duration syntax ("7d", "36h").
func parsePurge(r *http.Request) (*purgeRequest, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("older_than"))
	if raw == "" {
		return &purgeRequest{}, nil
	}
	d, err := config.ParseDuration(raw)
	if err != nil {
		return nil, &badRequestError{param: "older_than", err: err}
	}
	return &purgeRequest{OlderThan: d}, nil
}

func decodeForceRefresh(r *http.Request) (*ForceRefreshRequest, error) {
	var req ForceRefreshRequest
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, &badRequestError{param: "body", err: err}
	}
	return &req, nil
}

// bind runs parse then validation, writing a 400 on failure.
func bind[T any](rw *ResponseWriter, r *http.Request, parse func(*http.Request) (*T, error)) (*T, bool) {
	req, err := parse(r)
	if err != nil {
		rw.BadRequest(err.Error())
		return nil, false
	}
	if verr := validation.ValidateStruct(req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return nil, false
	}
	return req, true
}
