package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftline/behavior-analytics/internal/config"
	"github.com/driftline/behavior-analytics/internal/ingest"
	"github.com/driftline/behavior-analytics/internal/webhook"
	"github.com/driftline/behavior-analytics/pkg/kafka"
	"github.com/driftline/behavior-analytics/pkg/logger"
	"github.com/driftline/behavior-analytics/pkg/postgres"
	"github.com/driftline/behavior-analytics/pkg/task"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Error loading config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Error initializing logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "dispatch-service")
	log.Info("Starting Dispatch Service",
		zap.String("environment", cfg.Environment),
		zap.String("events_topic", cfg.Kafka.EventsTopic),
	)

	db, err := postgres.New(postgres.Config{
		DSN:             cfg.Postgres.PostgresDSN(),
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("Error initializing postgres client", zap.Error(err))
	}
	defer db.Close()

	tasks, err := task.NewRunner(cfg.Tasks.PoolSize, log)
	if err != nil {
		log.Fatal("Error initializing task runner", zap.Error(err))
	}
	defer tasks.Close()

	repo := webhook.NewRepository(db, log)
	dispatcher := webhook.NewDispatcher(repo, tasks, webhook.Config{
		DeliveryTimeout:  cfg.Webhook.DeliveryTimeout,
		FailureThreshold: cfg.Webhook.FailureThreshold,
		ResponseBodyCap:  cfg.Webhook.ResponseBodyCap,
	}, log)

	handler := func(ctx context.Context, key, value []byte) error {
		var event ingest.Event
		if err := json.Unmarshal(value, &event); err != nil {
			// A malformed record would fail the same way on every
			// redelivery, so it is logged and committed past.
			log.Error("Skipping malformed event record",
				zap.Error(err),
				zap.String("key", string(key)),
			)
			return nil
		}

		data := map[string]any{
			"event_id":   event.ID.String(),
			"session_id": event.SessionID.String(),
			"event_type": event.EventType,
			"created_at": event.CreatedAt,
		}
		if event.PagePath != nil {
			data["page_path"] = *event.PagePath
		}
		if event.SectionID != nil {
			data["section_id"] = *event.SectionID
		}
		if event.Depth != nil {
			data["depth"] = *event.Depth
		}
		if event.DwellSeconds != nil {
			data["dwell_seconds"] = *event.DwellSeconds
		}
		if event.PauseSeconds != nil {
			data["pause_seconds"] = *event.PauseSeconds
		}
		if event.RageIntensity != nil {
			data["rage_intensity"] = *event.RageIntensity
		}

		if _, err := dispatcher.Dispatch(ctx, &webhook.DeliveryRequest{
			EventType: event.EventType,
			Data:      data,
		}); err != nil {
			return fmt.Errorf("failed to dispatch event %s: %w", event.ID, err)
		}
		return nil
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:           cfg.Kafka.Brokers,
		Topics:            []string{cfg.Kafka.EventsTopic},
		GroupID:           cfg.Kafka.GroupID,
		AutoCommit:        cfg.Kafka.AutoCommit,
		CommitInterval:    cfg.Kafka.CommitInterval,
		SessionTimeout:    cfg.Kafka.SessionTimeout,
		RebalanceStrategy: cfg.Kafka.RebalanceStrategy,
	}, handler, log)
	if err != nil {
		log.Fatal("Error initializing kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("Shutting down consumer")
		cancel()
	}()

	if err := consumer.Start(ctx); err != nil {
		log.Fatal("Error running consumer", zap.Error(err))
	}

	log.Info("Dispatch service stopped")
}
