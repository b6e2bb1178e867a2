package ingest

import (
	"errors"
	"net/http"
)

var (
	ErrDefinitionNotFound = errors.New("event definition not found")

	ErrDuplicateEvent = errors.New("duplicate event")

	ErrSessionNotFound = errors.New("session not found")
)

// Rejection is a terminal validation outcome. Every rejected request is
// answered synchronously with its stable code; none are retried.
type Rejection struct {
	Code   string
	Status int
	Reason string
	Field  string
}

func (r *Rejection) Error() string {
	if r.Field != "" {
		return r.Reason + ": " + r.Field
	}
	return r.Reason
}

var (
	ErrMissingFields = &Rejection{Code: "E001", Status: http.StatusBadRequest, Reason: "missing_required_fields"}

	ErrRateLimited = &Rejection{Code: "E002", Status: http.StatusTooManyRequests, Reason: "rate_limited"}

	ErrUnknownEventType = &Rejection{Code: "E003", Status: http.StatusBadRequest, Reason: "unknown_event_type"}

	ErrPIIDetected = &Rejection{Code: "E006", Status: http.StatusBadRequest, Reason: "pii_detected"}

	ErrSessionCreationFailed = &Rejection{Code: "E007", Status: http.StatusInternalServerError, Reason: "session_creation_failed"}

	ErrSessionRequired = &Rejection{Code: "E008", Status: http.StatusBadRequest, Reason: "session_required"}

	ErrEventInsertionFailed = &Rejection{Code: "E009", Status: http.StatusInternalServerError, Reason: "event_insertion_failed"}

	ErrInternal = &Rejection{Code: "E999", Status: http.StatusInternalServerError, Reason: "internal_error"}
)

// ValidationFailed names the required field missing from the payload.
func ValidationFailed(field string) *Rejection {
	return &Rejection{Code: "E004", Status: http.StatusBadRequest, Reason: "validation_failed", Field: field}
}

// BoundsViolation names the numeric field outside its declared bounds.
func BoundsViolation(field string) *Rejection {
	return &Rejection{Code: "E005", Status: http.StatusBadRequest, Reason: "bounds_violation", Field: field}
}
