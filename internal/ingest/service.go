package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/driftline/behavior-analytics/internal/privacy"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenLimiter guards the pipeline against request floods per token.
type TokenLimiter interface {
	Allow(ctx context.Context, token string) (bool, error)
}

// Publisher hands accepted events to the async side of the system.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

// TaskRunner runs fire-and-forget work off the request path. A Submit
// error means the work was never scheduled.
type TaskRunner interface {
	Submit(name string, fn func() error) error
}

// Pinger reports persistence health for the health endpoint.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

type Topics struct {
	Events  string
	Scoring string
}

// Service is the sole authoritative entry point for incoming events. It
// is stateless across requests; every call runs the ordered validation
// pipeline and produces exactly one terminal outcome.
type Service struct {
	repo    Repository
	defs    DefinitionSource
	limiter TokenLimiter
	auditor *privacy.Auditor
	audits  privacy.Repository
	pub     Publisher
	tasks   TaskRunner
	topics  Topics
	pinger  Pinger
	logger  *zap.Logger
}

func NewService(
	repo Repository,
	defs DefinitionSource,
	limiter TokenLimiter,
	auditor *privacy.Auditor,
	audits privacy.Repository,
	pub Publisher,
	tasks TaskRunner,
	topics Topics,
	pinger Pinger,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:    repo,
		defs:    defs,
		limiter: limiter,
		auditor: auditor,
		audits:  audits,
		pub:     pub,
		tasks:   tasks,
		topics:  topics,
		pinger:  pinger,
		logger:  logger,
	}
}

// Ingest runs the validation pipeline in order, short-circuiting on the
// first failure. Returned errors are either a *Rejection with a stable
// code or a wrapped internal error.
func (s *Service) Ingest(ctx context.Context, payload *EventPayload, userAgent string) (*Result, error) {
	if payload.EventType == "" || payload.AnonymizedToken == "" {
		return nil, ErrMissingFields
	}

	allowed, err := s.limiter.Allow(ctx, payload.AnonymizedToken)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimited
	}

	def, err := s.defs.Lookup(ctx, payload.EventType)
	if err != nil {
		if err == ErrDefinitionNotFound {
			s.audit(ctx, payload, privacy.ReasonUnknownEventType)
			return nil, ErrUnknownEventType
		}
		return nil, fmt.Errorf("definition lookup: %w", err)
	}

	for _, field := range def.RequiredFields {
		if _, ok := payload.Field(field); !ok {
			s.audit(ctx, payload, privacy.ReasonMissingField(field))
			return nil, ValidationFailed(field)
		}
	}

	for field, bounds := range def.NumericBounds {
		value, ok := payload.NumericField(field)
		if ok && !bounds.Contains(value) {
			s.audit(ctx, payload, privacy.ReasonBoundsViolation(field))
			return nil, BoundsViolation(field)
		}
	}

	if s.auditor.Detect(payload.AsMap()) {
		s.audit(ctx, payload, privacy.ReasonPIIDetected)
		return nil, ErrPIIDetected
	}

	if payload.EventType == EventTypeSessionStart {
		return s.startSession(ctx, payload, userAgent)
	}

	if payload.SessionID == "" {
		return nil, ErrSessionRequired
	}
	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		return nil, ErrSessionRequired
	}

	event, err := newEvent(sessionID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build event: %w", err)
	}

	if err := s.repo.InsertEvent(ctx, event); err != nil {
		if err == ErrDuplicateEvent {
			s.logger.Debug("event is already tracked", zap.String("event_id", event.ID.String()))
		} else {
			return nil, ErrEventInsertionFailed
		}
	}

	if err := s.repo.ApplyMetrics(ctx, sessionID, deltaFor(payload)); err != nil {
		// The event row is already durable; a lost aggregate update is
		// logged but does not fail the request.
		s.logger.Error("Failed to update session metrics",
			zap.Error(err),
			zap.String("session_id", sessionID.String()),
		)
	}

	s.dispatchAsync(event)

	s.logger.Info("Event accepted",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("session_id", sessionID.String()),
	)

	return &Result{
		Status:    http.StatusAccepted,
		SessionID: sessionID,
		EventType: payload.EventType,
	}, nil
}

func (s *Service) startSession(ctx context.Context, payload *EventPayload, userAgent string) (*Result, error) {
	browserFamily, deviceType := NormalizeUserAgent(userAgent)

	entryPath := payload.EntryPath
	if entryPath == "" {
		entryPath = "/"
	}
	referrerType := payload.ReferrerType
	if referrerType == "" {
		referrerType = "direct"
	}

	attributes := json.RawMessage(`{}`)
	if payload.Attributes != nil {
		raw, err := json.Marshal(payload.Attributes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal session attributes: %w", err)
		}
		attributes = raw
	}

	session := &Session{
		ID:              uuid.New(),
		AnonymizedToken: payload.AnonymizedToken,
		EntryPath:       entryPath,
		ReferrerType:    referrerType,
		BrowserFamily:   browserFamily,
		DeviceType:      deviceType,
		Attributes:      attributes,
		StartedAt:       time.Now().UTC(),
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		s.logger.Error("Session creation failed", zap.Error(err))
		return nil, ErrSessionCreationFailed
	}

	if err := s.repo.InitMetrics(ctx, session.ID); err != nil {
		s.logger.Error("Failed to init session metrics",
			zap.Error(err),
			zap.String("session_id", session.ID.String()),
		)
	}

	s.logger.Info("Session started",
		zap.String("session_id", session.ID.String()),
		zap.String("entry_path", session.EntryPath),
		zap.String("browser_family", browserFamily),
		zap.String("device_type", deviceType),
	)

	return &Result{
		Status:    http.StatusCreated,
		SessionID: session.ID,
		EventType: EventTypeSessionStart,
	}, nil
}

// dispatchAsync hands the accepted event to the async side: the events
// topic feeding webhook fan-out and the coherence-scoring trigger. The
// ingestion response never waits on either.
func (s *Service) dispatchAsync(event *Event) {
	key := event.SessionID.String()
	eventCopy := *event

	err := s.tasks.Submit("publish-event", func() error {
		return s.pub.Publish(context.Background(), s.topics.Events, key, &eventCopy)
	})
	if err != nil {
		s.logger.Error("Failed to schedule event publish",
			zap.Error(err),
			zap.String("event_id", event.ID.String()),
		)
	}

	err = s.tasks.Submit("trigger-scoring", func() error {
		trigger := map[string]string{"session_id": key}
		return s.pub.Publish(context.Background(), s.topics.Scoring, key, trigger)
	})
	if err != nil {
		s.logger.Error("Failed to schedule scoring trigger",
			zap.Error(err),
			zap.String("session_id", key),
		)
	}
}

// audit is a best-effort side effect of a rejection; failures to write
// the audit row are logged, the rejection stands either way.
func (s *Service) audit(ctx context.Context, payload *EventPayload, reason string) {
	entry := privacy.NewAuditEntry(
		payload.AnonymizedToken,
		payload.EventType,
		reason,
		s.auditor.Sanitize(payload.AsMap()),
	)

	if err := s.audits.Record(ctx, entry); err != nil {
		s.logger.Error("Failed to record privacy audit entry",
			zap.Error(err),
			zap.String("reason", reason),
		)
	}
}

func (s *Service) HealthCheck(ctx context.Context) (bool, map[string]string) {
	status := map[string]string{
		"postgres": "ok",
		"kafka":    "ok",
	}

	healthy := true
	if s.pinger != nil {
		if err := s.pinger.HealthCheck(ctx); err != nil {
			status["postgres"] = err.Error()
			healthy = false
		}
	}

	return healthy, status
}

func newEvent(sessionID uuid.UUID, payload *EventPayload) (*Event, error) {
	rawPayload := json.RawMessage(`{}`)
	if payload.RawPayload != nil {
		raw, err := json.Marshal(payload.RawPayload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal raw payload: %w", err)
		}
		rawPayload = raw
	}

	return &Event{
		ID:            uuid.New(),
		SessionID:     sessionID,
		EventType:     payload.EventType,
		PagePath:      optString(payload.PagePath),
		SectionID:     optString(payload.SectionID),
		Depth:         payload.Depth,
		DwellSeconds:  payload.DwellSeconds,
		PauseSeconds:  payload.PauseSeconds,
		RageIntensity: payload.RageIntensity,
		RawPayload:    rawPayload,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
