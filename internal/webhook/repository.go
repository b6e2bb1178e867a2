package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/driftline/behavior-analytics/pkg/postgres"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Repository interface {
	ListSubscribed(ctx context.Context, eventType string, userID, webhookID *uuid.UUID) ([]*Webhook, error)
	RecordDelivery(ctx context.Context, log *DeliveryLog) error
	MarkSuccess(ctx context.Context, webhookID uuid.UUID, at time.Time) error
	// MarkFailure increments the failure counter and trips the circuit
	// breaker at the threshold, all in one atomic update. Returns the
	// new count and whether the webhook was deactivated by this call.
	MarkFailure(ctx context.Context, webhookID uuid.UUID, at time.Time, threshold int) (int, bool, error)
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

func (r *repository) ListSubscribed(ctx context.Context, eventType string, userID, webhookID *uuid.UUID) ([]*Webhook, error) {
	query := `
		SELECT id, user_id, name, url, events, secret, is_active, failure_count, last_triggered_at, created_at
		FROM webhooks
		WHERE is_active = TRUE AND $1 = ANY(events)
	`
	args := []any{eventType}

	if userID != nil {
		args = append(args, *userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if webhookID != nil {
		args = append(args, *webhookID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}

	var webhooks []*Webhook
	err := r.db.SelectContext(ctx, &webhooks, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscribed webhooks: %w", err)
	}

	return webhooks, nil
}

func (r *repository) RecordDelivery(ctx context.Context, log *DeliveryLog) error {
	query := `
		INSERT INTO webhook_delivery_logs (id, webhook_id, event_type, payload, response_status, response_body, response_time_ms, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		log.ID,
		log.WebhookID,
		log.EventType,
		log.Payload,
		log.ResponseStatus,
		log.ResponseBody,
		log.ResponseTimeMs,
		log.Success,
		log.ErrorMessage,
		log.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record delivery log", zap.Error(err))
		return fmt.Errorf("failed to record delivery log: %w", err)
	}

	return nil
}

func (r *repository) MarkSuccess(ctx context.Context, webhookID uuid.UUID, at time.Time) error {
	query := `
		UPDATE webhooks SET
			failure_count = 0,
			last_triggered_at = $2
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, webhookID, at); err != nil {
		return fmt.Errorf("failed to mark webhook success: %w", err)
	}

	return nil
}

func (r *repository) MarkFailure(ctx context.Context, webhookID uuid.UUID, at time.Time, threshold int) (int, bool, error) {
	query := `
		UPDATE webhooks SET
			failure_count = failure_count + 1,
			is_active = CASE WHEN failure_count + 1 >= $3 THEN FALSE ELSE is_active END,
			last_triggered_at = $2
		WHERE id = $1
		RETURNING failure_count, is_active
	`

	var failureCount int
	var isActive bool
	err := r.db.QueryRowContext(ctx, query, webhookID, at, threshold).Scan(&failureCount, &isActive)
	if err != nil {
		return 0, false, fmt.Errorf("failed to mark webhook failure: %w", err)
	}

	return failureCount, !isActive, nil
}
