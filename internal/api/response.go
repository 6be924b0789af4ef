package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/yourusername/lapwatch/internal/models"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind"`
	Details []string `json:"details,omitempty"`
}

// StatusFor maps an error kind onto an HTTP status
func StatusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError hides storage and internal causes from clients
func writeError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	if kind == "" {
		kind = models.KindInternal
	}
	resp := ErrorResponse{Kind: string(kind)}

	var typed *models.Error
	switch {
	case kind == models.KindStorage || kind == models.KindInternal:
		resp.Error = "internal error"
	case errors.As(err, &typed):
		resp.Error = typed.Message
		resp.Details = typed.Details
	default:
		resp.Error = err.Error()
	}
	writeJSON(w, StatusFor(kind), resp)
}

func badRequest(w http.ResponseWriter, message string, details ...string) {
	writeError(w, models.NewValidationError("", message, details...))
}
