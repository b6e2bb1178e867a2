package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftline/behavior-analytics/internal/config"
	"github.com/driftline/behavior-analytics/internal/export"
	"github.com/driftline/behavior-analytics/internal/ingest"
	"github.com/driftline/behavior-analytics/internal/privacy"
	"github.com/driftline/behavior-analytics/internal/ratelimit"
	"github.com/driftline/behavior-analytics/pkg/kafka"
	"github.com/driftline/behavior-analytics/pkg/logger"
	"github.com/driftline/behavior-analytics/pkg/postgres"
	"github.com/driftline/behavior-analytics/pkg/task"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
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

	log = logger.WithService(log, "ingest-service")
	log.Info("Starting Ingest Service",
		zap.String("environment", cfg.Environment),
		zap.String("http_port", cfg.HTTPPort),
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

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:          cfg.Kafka.Brokers,
		Retries:          cfg.Kafka.ProducerRetries,
		Timeout:          cfg.Kafka.ProducerTimeout,
		RequiredAcks:     cfg.Kafka.RequiredAcks,
		Compression:      cfg.Kafka.CompressionType,
		IdempotentWrites: cfg.Kafka.IdempotentWrites,
		MaxMessageBytes:  cfg.Kafka.MaxMessageBytes,
	}, log)
	if err != nil {
		log.Fatal("Error initializing kafka producer", zap.Error(err))
	}
	defer producer.Close()

	tasks, err := task.NewRunner(cfg.Tasks.PoolSize, log)
	if err != nil {
		log.Fatal("Error initializing task runner", zap.Error(err))
	}
	defer tasks.Close()

	auditor := privacy.NewAuditor(log)
	auditRepo := privacy.NewRepository(db, log)
	limiter := ratelimit.New(
		ratelimit.NewPostgresStore(db, log),
		cfg.RateLimit.Window,
		cfg.RateLimit.MaxRequests,
		log,
	)

	ingestRepo := ingest.NewRepository(db, log)
	definitions := ingest.NewDefinitionSource(db, log)
	ingestService := ingest.NewService(
		ingestRepo,
		definitions,
		limiter,
		auditor,
		auditRepo,
		producer,
		tasks,
		ingest.Topics{
			Events:  cfg.Kafka.EventsTopic,
			Scoring: cfg.Kafka.ScoringTopic,
		},
		db,
		log,
	)
	ingestHandler := ingest.NewHandler(ingestService, log)

	exportRepo := export.NewRepository(db, log)
	exportService := export.NewService(exportRepo, log)
	exportHandler := export.NewHandler(exportService, log)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(log), recoveryMiddleware(log))
	ingestHandler.Register(router)
	exportHandler.Register(router)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(router)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Error running HTTP server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Warn("HTTP server shutdown timed out", zap.Error(err))
	}
	log.Info("HTTP server stopped")
}

func loggingMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			log.Info("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoveryMiddleware(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.Error("Panic recovered",
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.Any("panic", rec),
					)
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
