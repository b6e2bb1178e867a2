package privacy

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reasons recorded with rejected payloads.
const (
	ReasonUnknownEventType = "unknown_event_type"
	ReasonPIIDetected      = "pii_detected"
)

func ReasonMissingField(field string) string {
	return "missing_field:" + field
}

func ReasonBoundsViolation(field string) string {
	return "bounds_violation:" + field
}

// AuditEntry records one rejected or sanitized payload. The stored
// payload is redacted before it ever reaches the repository.
type AuditEntry struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	AnonymizedToken  string          `db:"anonymized_token" json:"anonymized_token"`
	EventType        string          `db:"event_type" json:"event_type"`
	RejectionReason  string          `db:"rejection_reason" json:"rejection_reason"`
	SanitizedPayload json.RawMessage `db:"sanitized_payload" json:"sanitized_payload"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

func NewAuditEntry(token, eventType, reason string, sanitizedPayload json.RawMessage) *AuditEntry {
	return &AuditEntry{
		ID:               uuid.New(),
		AnonymizedToken:  token,
		EventType:        eventType,
		RejectionReason:  reason,
		SanitizedPayload: sanitizedPayload,
		CreatedAt:        time.Now().UTC(),
	}
}
