package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reelcut/backend/internal/modules/entitlement"
	"github.com/reelcut/backend/internal/modules/usage"
)

// ErrorResponse is the JSON body of a failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// statusForUsageError maps ledger and enforcer failures to HTTP. Storage outages deny the
// request with 503.
func statusForUsageError(err error) int {
	switch {
	case errors.Is(err, usage.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, usage.ErrInvalidDelta), errors.Is(err, usage.ErrInvalidKey),
		errors.Is(err, entitlement.ErrInvalidOperation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
