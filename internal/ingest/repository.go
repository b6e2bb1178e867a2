package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/driftline/behavior-analytics/pkg/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

type Repository interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)
	InitMetrics(ctx context.Context, sessionID uuid.UUID) error
	GetMetrics(ctx context.Context, sessionID uuid.UUID) (*SessionMetrics, error)
	InsertEvent(ctx context.Context, event *Event) error
	ApplyMetrics(ctx context.Context, sessionID uuid.UUID, delta MetricsDelta) error
}

// DefinitionSource looks up the active schema for an event type. The
// definitions table is externally managed and read-only here.
type DefinitionSource interface {
	Lookup(ctx context.Context, eventType string) (*EventDefinition, error)
}

type repository struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewRepository(db *postgres.DB, logger *zap.Logger) Repository {
	return &repository{
		db:     db,
		logger: logger,
	}
}

func (r *repository) CreateSession(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (session_id, anonymized_token, entry_path, referrer_type, browser_family, device_type, attributes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		session.ID,
		session.AnonymizedToken,
		session.EntryPath,
		session.ReferrerType,
		session.BrowserFamily,
		session.DeviceType,
		session.Attributes,
		session.StartedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create session", zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("Session created",
		zap.String("session_id", session.ID.String()),
		zap.String("entry_path", session.EntryPath),
	)

	return nil
}

func (r *repository) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	query := `
		SELECT session_id, anonymized_token, entry_path, referrer_type, browser_family, device_type, attributes, started_at, ended_at
		FROM sessions
		WHERE session_id = $1
	`

	var session Session
	err := r.db.GetContext(ctx, &session, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &session, nil
}

func (r *repository) InitMetrics(ctx context.Context, sessionID uuid.UUID) error {
	query := `
		INSERT INTO session_metrics (session_id)
		VALUES ($1)
		ON CONFLICT (session_id) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("failed to init session metrics: %w", err)
	}

	return nil
}

func (r *repository) GetMetrics(ctx context.Context, sessionID uuid.UUID) (*SessionMetrics, error) {
	query := `
		SELECT session_id, total_events, total_dwell_seconds, total_pause_seconds, max_scroll_depth, rage_events, early_exit, contact_intent, updated_at
		FROM session_metrics
		WHERE session_id = $1
	`

	var metrics SessionMetrics
	err := r.db.GetContext(ctx, &metrics, query, sessionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session metrics: %w", err)
	}

	return &metrics, nil
}

func (r *repository) InsertEvent(ctx context.Context, event *Event) error {
	query := `
		INSERT INTO events (id, session_id, event_type, page_path, section_id, depth, dwell_seconds, pause_seconds, rage_intensity, raw_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		event.ID,
		event.SessionID,
		event.EventType,
		event.PagePath,
		event.SectionID,
		event.Depth,
		event.DwellSeconds,
		event.PauseSeconds,
		event.RageIntensity,
		event.RawPayload,
		event.CreatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" {
				r.logger.Warn("Duplicate event ignored",
					zap.String("event_id", event.ID.String()),
				)
				return ErrDuplicateEvent
			}
		}
		r.logger.Error("Failed to insert event", zap.Error(err))
		return fmt.Errorf("failed to insert event: %w", err)
	}

	r.logger.Debug("Event inserted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("session_id", event.SessionID.String()),
	)

	return nil
}

// ApplyMetrics folds the delta into the session aggregate in a single
// statement. The read-modify-write happens inside Postgres, so two
// concurrent events for one session cannot lose an update.
func (r *repository) ApplyMetrics(ctx context.Context, sessionID uuid.UUID, delta MetricsDelta) error {
	query := `
		UPDATE session_metrics SET
			total_events        = total_events + 1,
			total_dwell_seconds = total_dwell_seconds + $2,
			total_pause_seconds = total_pause_seconds + $3,
			max_scroll_depth    = GREATEST(max_scroll_depth, $4),
			rage_events         = rage_events + $5,
			early_exit          = early_exit OR $6,
			contact_intent      = contact_intent OR $7,
			updated_at          = NOW()
		WHERE session_id = $1
	`

	rageIncrement := 0
	if delta.RageEvent {
		rageIncrement = 1
	}

	result, err := r.db.ExecContext(
		ctx,
		query,
		sessionID,
		delta.DwellSeconds,
		delta.PauseSeconds,
		delta.Depth,
		rageIncrement,
		delta.EarlyExit,
		delta.ContactIntent,
	)
	if err != nil {
		return fmt.Errorf("failed to apply session metrics: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSessionNotFound
	}

	return nil
}

type definitionRow struct {
	EventType      string          `db:"event_type"`
	RequiredFields pq.StringArray  `db:"required_fields"`
	NumericBounds  json.RawMessage `db:"numeric_bounds"`
	IsActive       bool            `db:"is_active"`
}

type definitionSource struct {
	db     *postgres.DB
	logger *zap.Logger
}

func NewDefinitionSource(db *postgres.DB, logger *zap.Logger) DefinitionSource {
	return &definitionSource{
		db:     db,
		logger: logger,
	}
}

func (s *definitionSource) Lookup(ctx context.Context, eventType string) (*EventDefinition, error) {
	query := `
		SELECT event_type, required_fields, numeric_bounds, is_active
		FROM event_definitions
		WHERE event_type = $1 AND is_active = TRUE
	`

	var row definitionRow
	err := s.db.GetContext(ctx, &row, query, eventType)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to look up event definition: %w", err)
	}

	def := &EventDefinition{
		EventType:      row.EventType,
		RequiredFields: row.RequiredFields,
		NumericBounds:  make(map[string]Bounds),
		IsActive:       row.IsActive,
	}

	if len(row.NumericBounds) > 0 {
		if err := json.Unmarshal(row.NumericBounds, &def.NumericBounds); err != nil {
			return nil, fmt.Errorf("failed to decode numeric bounds: %w", err)
		}
	}

	return def, nil
}
