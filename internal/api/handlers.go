// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/qlstats/feeder/internal/feeder"
	"github.com/qlstats/feeder/internal/logging"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Feeds         int    `json:"feeds"`
}

// Health reports liveness and the current feed count.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Feeds:         h.registry.Len(),
	})
}

// FeedsResponse is the /feeds list payload.
type FeedsResponse struct {
	Feeds map[string]feeder.FeedSnapshot `json:"feeds"`
}

// ListFeeds returns a snapshot of every active feed.
func (h *Handler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, FeedsResponse{Feeds: h.registry.Snapshots()})
}

// AddFeedRequest is the POST /feeds body.
type AddFeedRequest struct {
	Owner    string `json:"owner"`
	IP       string `json:"ip" validate:"required,ip4_addr"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Password string `json:"password"`
	GamePort int    `json:"gamePort" validate:"omitempty,min=1,max=65535"`
}

// AddFeed creates and connects a new feed.
func (h *Handler) AddFeed(w http.ResponseWriter, r *http.Request) {
	var req AddFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		return
	}

	feed, err := h.registry.AddFeed(req.Owner, req.IP, req.Port, req.Password, req.GamePort)
	switch {
	case errors.Is(err, feeder.ErrDuplicateFeed):
		respondError(w, http.StatusConflict, "DUPLICATE_FEED", err.Error())
		return
	case errors.Is(err, feeder.ErrCapacityExceeded):
		respondError(w, http.StatusServiceUnavailable, "CAPACITY_EXCEEDED", err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if h.ports != nil && req.GamePort != 0 {
		if err := h.ports.Set(r.Context(), feed.Addr(), req.GamePort); err != nil {
			logging.Warn().Err(err).Str("addr", feed.Addr()).Msg("cannot persist game port")
		}
	}

	logging.Info().Str("addr", feed.Addr()).Str("owner", req.Owner).Msg("feed added via API")
	respondJSON(w, http.StatusCreated, feed.Snapshot())
}

// RemoveFeed tears down the feed for the given address.
func (h *Handler) RemoveFeed(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "addr")
	if err := h.registry.RemoveFeed(addr); err != nil {
		if errors.Is(err, feeder.ErrFeedNotFound) {
			respondError(w, http.StatusNotFound, "FEED_NOT_FOUND", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if h.ports != nil {
		if err := h.ports.Delete(r.Context(), addr); err != nil {
			logging.Warn().Err(err).Str("addr", addr).Msg("cannot remove game port mapping")
		}
	}

	logging.Info().Str("addr", addr).Msg("feed removed via API")
	w.WriteHeader(http.StatusNoContent)
}
