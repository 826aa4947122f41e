package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fieldtrace-io/fieldtrace-engine/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteError maps a service error onto its HTTP status. Transient failures
// surface as 503 so devices know to retry; everything the error taxonomy
// does not name becomes a plain 500.
func WriteError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return ErrorResponse(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrNotBound):
		return ErrorResponse(w, http.StatusForbidden, "not_bound", err.Error())
	case errors.Is(err, apperrors.ErrPermissionDenied):
		return ErrorResponse(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrUnavailable), apperrors.IsTransient(err):
		return ErrorResponse(w, http.StatusServiceUnavailable, "unavailable", "storage temporarily unavailable, retry")
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
