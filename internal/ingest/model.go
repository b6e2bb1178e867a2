package ingest

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeSessionStart  = "session_start"
	EventTypeScrollDepth   = "scroll_depth"
	EventTypeRageScroll    = "rage_scroll"
	EventTypePause         = "pause_event"
	EventTypeSectionDwell  = "section_dwell"
	EventTypeEarlyExit     = "early_exit"
	EventTypeExit          = "exit_event"
	EventTypeContactIntent = "contact_intent"
)

// EventPayload is the closed request shape of the ingestion endpoint.
// Type-specific numeric fields are pointers so absence is distinguishable
// from zero when the event definition's bounds are checked. The raw wire
// form is retained so the PII screen sees fields outside the closed
// shape too.
type EventPayload struct {
	EventType       string         `json:"event_type"`
	AnonymizedToken string         `json:"anonymized_token"`
	SessionID       string         `json:"session_id,omitempty"`
	EntryPath       string         `json:"entry_path,omitempty"`
	ReferrerType    string         `json:"referrer_type,omitempty"`
	PagePath        string         `json:"page_path,omitempty"`
	SectionID       string         `json:"section_id,omitempty"`
	Depth           *float64       `json:"depth,omitempty"`
	DwellSeconds    *float64       `json:"dwell_seconds,omitempty"`
	PauseSeconds    *float64       `json:"pause_seconds,omitempty"`
	RageIntensity   *float64       `json:"rage_intensity,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	RawPayload      map[string]any `json:"raw_payload,omitempty"`

	raw map[string]any
}

func (p *EventPayload) UnmarshalJSON(data []byte) error {
	type alias EventPayload
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*p = EventPayload(decoded)
	p.raw = raw
	return nil
}

// Field resolves a payload field by its wire name. Used when checking
// the definition's required_fields list.
func (p *EventPayload) Field(name string) (any, bool) {
	switch name {
	case "event_type":
		return p.EventType, p.EventType != ""
	case "anonymized_token":
		return p.AnonymizedToken, p.AnonymizedToken != ""
	case "session_id":
		return p.SessionID, p.SessionID != ""
	case "entry_path":
		return p.EntryPath, p.EntryPath != ""
	case "referrer_type":
		return p.ReferrerType, p.ReferrerType != ""
	case "page_path":
		return p.PagePath, p.PagePath != ""
	case "section_id":
		return p.SectionID, p.SectionID != ""
	case "depth":
		return deref(p.Depth)
	case "dwell_seconds":
		return deref(p.DwellSeconds)
	case "pause_seconds":
		return deref(p.PauseSeconds)
	case "rage_intensity":
		return deref(p.RageIntensity)
	case "attributes":
		return p.Attributes, p.Attributes != nil
	case "raw_payload":
		return p.RawPayload, p.RawPayload != nil
	default:
		if p.Attributes != nil {
			if v, ok := p.Attributes[name]; ok {
				return v, true
			}
		}
		if p.raw != nil {
			v, ok := p.raw[name]
			return v, ok
		}
		return nil, false
	}
}

// NumericField resolves a numeric payload field by its wire name. Used
// when checking the definition's numeric_bounds.
func (p *EventPayload) NumericField(name string) (float64, bool) {
	switch name {
	case "depth":
		return derefFloat(p.Depth)
	case "dwell_seconds":
		return derefFloat(p.DwellSeconds)
	case "pause_seconds":
		return derefFloat(p.PauseSeconds)
	case "rage_intensity":
		return derefFloat(p.RageIntensity)
	default:
		if p.Attributes != nil {
			if v, ok := p.Attributes[name].(float64); ok {
				return v, true
			}
		}
		if p.raw != nil {
			if v, ok := p.raw[name].(float64); ok {
				return v, true
			}
		}
		return 0, false
	}
}

// AsMap renders the payload the way it arrived on the wire, for the PII
// screen and for audit redaction.
func (p *EventPayload) AsMap() map[string]any {
	if p.raw != nil {
		return p.raw
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}

func deref(v *float64) (any, bool) {
	if v == nil {
		return nil, false
	}
	return *v, true
}

func derefFloat(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Session is one browsing visit. The id is assigned server-side on
// session_start and referenced by every later event of the visit.
type Session struct {
	ID              uuid.UUID       `db:"session_id" json:"session_id"`
	AnonymizedToken string          `db:"anonymized_token" json:"anonymized_token"`
	EntryPath       string          `db:"entry_path" json:"entry_path"`
	ReferrerType    string          `db:"referrer_type" json:"referrer_type"`
	BrowserFamily   string          `db:"browser_family" json:"browser_family"`
	DeviceType      string          `db:"device_type" json:"device_type"`
	Attributes      json.RawMessage `db:"attributes" json:"attributes,omitempty"`
	StartedAt       time.Time       `db:"started_at" json:"started_at"`
	EndedAt         *time.Time      `db:"ended_at" json:"ended_at,omitempty"`
}

// Event is one accepted semantic signal, immutable once stored.
type Event struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	SessionID     uuid.UUID       `db:"session_id" json:"session_id"`
	EventType     string          `db:"event_type" json:"event_type"`
	PagePath      *string         `db:"page_path" json:"page_path,omitempty"`
	SectionID     *string         `db:"section_id" json:"section_id,omitempty"`
	Depth         *float64        `db:"depth" json:"depth,omitempty"`
	DwellSeconds  *float64        `db:"dwell_seconds" json:"dwell_seconds,omitempty"`
	PauseSeconds  *float64        `db:"pause_seconds" json:"pause_seconds,omitempty"`
	RageIntensity *float64        `db:"rage_intensity" json:"rage_intensity,omitempty"`
	RawPayload    json.RawMessage `db:"raw_payload" json:"raw_payload,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Bounds is an inclusive numeric range; a nil side is unbounded.
type Bounds struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

func (b Bounds) Contains(v float64) bool {
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

// EventDefinition is the externally managed schema and validation rule
// for one event type. Read-only to this service.
type EventDefinition struct {
	EventType      string
	RequiredFields []string
	NumericBounds  map[string]Bounds
	IsActive       bool
}

// SessionMetrics is the rolling per-session aggregate. Counters never
// decrease, max_scroll_depth is a running maximum and the two flags are
// sticky once set.
type SessionMetrics struct {
	SessionID         uuid.UUID `db:"session_id" json:"session_id"`
	TotalEvents       int64     `db:"total_events" json:"total_events"`
	TotalDwellSeconds float64   `db:"total_dwell_seconds" json:"total_dwell_seconds"`
	TotalPauseSeconds float64   `db:"total_pause_seconds" json:"total_pause_seconds"`
	MaxScrollDepth    float64   `db:"max_scroll_depth" json:"max_scroll_depth"`
	RageEvents        int64     `db:"rage_events" json:"rage_events"`
	EarlyExit         bool      `db:"early_exit" json:"early_exit"`
	ContactIntent     bool      `db:"contact_intent" json:"contact_intent"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Result is the terminal outcome of one accepted ingestion call.
type Result struct {
	Status    int
	SessionID uuid.UUID
	EventType string
}
