// QLStats Feeder - Quake Live Match Statistics Ingestion
// Copyright 2026 QLStats contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/qlstats/feeder

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/qlstats/feeder/internal/logging"
)

// APIError is the error body returned by every failing endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")

	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, APIError{Code: code, Message: message})
}
