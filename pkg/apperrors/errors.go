package apperrors

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrValidation indicates a malformed or out-of-range request field.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates an unknown campaign, participant, or data source.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied indicates a creator or binding mismatch.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict indicates a duplicate identity or data source name.
	ErrConflict = errors.New("conflict")

	// ErrNotBound indicates the participant has no binding for the campaign.
	ErrNotBound = errors.New("participant not bound to campaign")

	// ErrUnavailable indicates the storage backend is not ready to serve.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrTransient indicates a storage call exceeded its budget or failed in a
	// way that a retry may resolve.
	ErrTransient = errors.New("transient storage failure")
)

// IsTerminal reports whether err belongs to the terminal part of the taxonomy,
// i.e. retrying the same request cannot succeed.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrNotBound) ||
		errors.Is(err, ErrConflict)
}

// IsTransient reports whether err is worth retrying: an explicit transient
// marker, a storage timeout, or a connection-level Postgres failure.
func IsTransient(err error) bool {
	if err == nil || IsTerminal(err) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 = connection exceptions, 57014 = query_canceled (statement timeout).
		return pgErr.Code == "57014" || (len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08")
	}
	return false
}
