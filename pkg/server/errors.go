package server

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"mercator-hq/sluice/pkg/limits"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains detailed error information.
type ErrorDetail struct {
	// Message is a human-readable error message.
	Message string `json:"message"`

	// Type categorizes the error.
	Type string `json:"type"`

	// Code is a machine-readable code, such as a denial reason.
	Code string `json:"code,omitempty"`
}

// Error type constants.
const (
	ErrorTypeInvalidRequest    = "invalid_request_error"
	ErrorTypeNotFound          = "not_found"
	ErrorTypeRateLimitExceeded = "rate_limit_exceeded"
	ErrorTypeServerError       = "server_error"
	ErrorTypeUnavailable       = "service_unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: message, Type: errType}})
}

// writeServiceError maps coordinator errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, limits.ErrQuotaNotFound):
		writeError(w, http.StatusNotFound, ErrorTypeNotFound, err.Error())
	case errors.Is(err, limits.ErrInvalidConfig), errors.Is(err, limits.ErrUnknownPriority):
		writeError(w, http.StatusBadRequest, ErrorTypeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusServiceUnavailable, ErrorTypeUnavailable, err.Error())
	}
}
