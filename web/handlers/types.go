// Package handlers provides the HTTP handlers and middleware for the
// hearth web API.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/emberfall/hearth/internal/repo"
	"github.com/emberfall/hearth/internal/storage"
)

// ErrorResponse is the JSON body for every error status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes v with the given status. Encoding failures are logged;
// the status line has already been sent at that point.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("handlers: encode response: %v", err)
	}
}

// writeError maps an error to a JSON error response, translating the
// storage and repo sentinels to proper status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_INPUT"})
	case errors.Is(err, storage.ErrUnknownTable):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "UNKNOWN_TABLE"})
	case errors.Is(err, repo.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "NOT_FOUND"})
	default:
		log.Printf("handlers: internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL"})
	}
}

// notFound writes the standard 404 body.
func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, ErrorResponse{Error: what + " not found", Code: "NOT_FOUND"})
}

// decodeBody decodes a JSON request body into out.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
