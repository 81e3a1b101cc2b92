// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noldarim/procbridge/internal/errdefs"
	"github.com/noldarim/procbridge/internal/protocol"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		getLog().Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errdefs.ErrShapeMismatch), errors.Is(err, errdefs.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrDisabled):
		return http.StatusConflict
	case errors.Is(err, errdefs.ErrWrongProcess):
		return http.StatusMisdirectedRequest
	case errors.Is(err, errdefs.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, errdefs.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		getLog().Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, protocol.ErrorResponse{Error: err.Error(), Kind: errdefs.Kind(err)})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "Invalid JSON body")
		return false
	}
	return true
}
