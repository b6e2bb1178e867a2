package export

import (
	"context"
	"fmt"

	"github.com/driftline/behavior-analytics/pkg/postgres"
	"go.uber.org/zap"
)

type Dataset string

const (
	DatasetSessions  Dataset = "sessions"
	DatasetEvents    Dataset = "events"
	DatasetMetrics   Dataset = "session_metrics"
	DatasetAuditLogs Dataset = "audit_logs"
	DatasetWebhooks  Dataset = "webhooks"
)

// Per-dataset row caps, so an export stays a bounded snapshot.
var datasetQueries = map[Dataset]string{
	DatasetSessions:  `SELECT * FROM sessions ORDER BY started_at DESC LIMIT 1000`,
	DatasetEvents:    `SELECT * FROM events ORDER BY created_at DESC LIMIT 5000`,
	DatasetMetrics:   `SELECT * FROM session_metrics ORDER BY updated_at DESC LIMIT 1000`,
	DatasetAuditLogs: `SELECT * FROM privacy_audit ORDER BY created_at DESC LIMIT 1000`,
	DatasetWebhooks:  `SELECT id, name, url, events, is_active, failure_count, last_triggered_at, created_at FROM webhooks`,
}

type Repository interface {
	Rows(ctx context.Context, dataset Dataset) ([]string, []map[string]any, error)
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

func (r *repository) Rows(ctx context.Context, dataset Dataset) ([]string, []map[string]any, error) {
	query, ok := datasetQueries[dataset]
	if !ok {
		return nil, nil, fmt.Errorf("unknown dataset: %s", dataset)
	}

	result, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query dataset %s: %w", dataset, err)
	}
	defer result.Close()

	columns, err := result.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var rows []map[string]any
	for result.Next() {
		row := make(map[string]any, len(columns))
		if err := result.MapScan(row); err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate dataset %s: %w", dataset, err)
	}

	return columns, rows, nil
}
