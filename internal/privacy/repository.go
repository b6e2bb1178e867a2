package privacy

import (
	"context"
	"fmt"

	"github.com/driftline/behavior-analytics/pkg/postgres"
	"go.uber.org/zap"
)

type Repository interface {
	Record(ctx context.Context, entry *AuditEntry) error
	ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error)
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

func (r *repository) Record(ctx context.Context, entry *AuditEntry) error {
	query := `
		INSERT INTO privacy_audit (id, anonymized_token, event_type, rejection_reason, sanitized_payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		entry.ID,
		entry.AnonymizedToken,
		entry.EventType,
		entry.RejectionReason,
		entry.SanitizedPayload,
		entry.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to record audit entry", zap.Error(err))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}

	r.logger.Debug("Audit entry recorded",
		zap.String("audit_id", entry.ID.String()),
		zap.String("reason", entry.RejectionReason),
	)

	return nil
}

func (r *repository) ListRecent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	query := `
		SELECT id, anonymized_token, event_type, rejection_reason, sanitized_payload, created_at
		FROM privacy_audit
		ORDER BY created_at DESC
		LIMIT $1
	`

	var entries []*AuditEntry
	err := r.db.SelectContext(ctx, &entries, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return entries, nil
}
