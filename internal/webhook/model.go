package webhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Webhook is a registered delivery target. The circuit breaker flips
// is_active to false once failure_count reaches the threshold; flipping
// it back is a manual action outside this subsystem.
type Webhook struct {
	ID              uuid.UUID      `db:"id" json:"id"`
	UserID          *uuid.UUID     `db:"user_id" json:"user_id,omitempty"`
	Name            string         `db:"name" json:"name"`
	URL             string         `db:"url" json:"url"`
	Events          pq.StringArray `db:"events" json:"events"`
	Secret          *string        `db:"secret" json:"-"`
	IsActive        bool           `db:"is_active" json:"is_active"`
	FailureCount    int            `db:"failure_count" json:"failure_count"`
	LastTriggeredAt *time.Time     `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

// Envelope is the body POSTed to the registered URL.
type Envelope struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DeliveryLog records the outcome of exactly one delivery attempt.
type DeliveryLog struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	WebhookID      uuid.UUID       `db:"webhook_id" json:"webhook_id"`
	EventType      string          `db:"event_type" json:"event_type"`
	Payload        json.RawMessage `db:"payload" json:"payload"`
	ResponseStatus *int            `db:"response_status" json:"response_status,omitempty"`
	ResponseBody   *string         `db:"response_body" json:"response_body,omitempty"`
	ResponseTimeMs int64           `db:"response_time_ms" json:"response_time_ms"`
	Success        bool            `db:"success" json:"success"`
	ErrorMessage   *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// DeliveryRequest asks for one fan-out of an internal domain event.
type DeliveryRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	UserID    *uuid.UUID     `json:"user_id,omitempty"`
	WebhookID *uuid.UUID     `json:"webhook_id,omitempty"`
}

// DeliveryResult summarizes one attempt for the fan-out caller.
type DeliveryResult struct {
	WebhookID      uuid.UUID `json:"webhook_id"`
	WebhookName    string    `json:"webhook_name"`
	Success        bool      `json:"success"`
	StatusCode     *int      `json:"status_code,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Error          string    `json:"error,omitempty"`
}
