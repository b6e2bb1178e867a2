package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	LogLevel    string
	HTTPPort    string
	Postgres    PostgresConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	Webhook     WebhookConfig
	Tasks       TaskConfig
}

type PostgresConfig struct {
	Host            string
	Port            string
	Database        string
	Username        string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	SSLMode         string
}

type KafkaConfig struct {
	Brokers           []string
	EventsTopic       string
	ScoringTopic      string
	GroupID           string
	ProducerRetries   int
	ProducerTimeout   time.Duration
	RequiredAcks      int
	CompressionType   string
	MaxMessageBytes   int
	IdempotentWrites  bool
	SessionTimeout    time.Duration
	AutoCommit        bool
	CommitInterval    time.Duration
	RebalanceStrategy string
}

type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

type WebhookConfig struct {
	DeliveryTimeout  time.Duration
	FailureThreshold int
	ResponseBodyCap  int
}

type TaskConfig struct {
	PoolSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		HTTPPort:    getEnv("INGEST_SERVICE_PORT", "8080"),
	}

	cfg.Postgres = PostgresConfig{
		Host:            getEnv("POSTGRES_HOST", "localhost"),
		Port:            getEnv("POSTGRES_PORT", "5432"),
		Database:        getEnv("POSTGRES_DB", "behavior"),
		Username:        getEnv("POSTGRES_USER", "admin"),
		Password:        getEnv("POSTGRES_PASSWORD", "password"),
		MaxOpenConns:    getEnvAsInt("POSTGRES_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("POSTGRES_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
		SSLMode:         getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	brokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka = KafkaConfig{
		Brokers:           strings.Split(brokers, ","),
		EventsTopic:       getEnv("KAFKA_TOPIC_EVENTS", "behavior-events"),
		ScoringTopic:      getEnv("KAFKA_TOPIC_SCORING", "coherence-requests"),
		GroupID:           getEnv("KAFKA_GROUP_ID", "webhook-dispatch"),
		ProducerRetries:   getEnvAsInt("KAFKA_PRODUCER_RETRIES", 3),
		ProducerTimeout:   getEnvAsDuration("KAFKA_PRODUCER_TIMEOUT", 10*time.Second),
		RequiredAcks:      getEnvAsInt("KAFKA_REQUIRED_ACKS", -1), // -1 = all ISR replicas
		CompressionType:   getEnv("KAFKA_COMPRESSION", "snappy"),
		IdempotentWrites:  getEnvAsBool("KAFKA_IDEMPOTENT", true),
		MaxMessageBytes:   getEnvAsInt("KAFKA_MAX_MESSAGE_BYTES", 1000000), // 1MB
		SessionTimeout:    getEnvAsDuration("KAFKA_SESSION_TIMEOUT", 30*time.Second),
		AutoCommit:        getEnvAsBool("KAFKA_AUTO_COMMIT", true),
		CommitInterval:    getEnvAsDuration("KAFKA_COMMIT_INTERVAL", time.Second),
		RebalanceStrategy: getEnv("KAFKA_REBALANCE_STRATEGY", "roundrobin"),
	}

	cfg.RateLimit = RateLimitConfig{
		Window:      getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		MaxRequests: getEnvAsInt("RATE_LIMIT_MAX_REQUESTS", 100),
	}

	cfg.Webhook = WebhookConfig{
		DeliveryTimeout:  getEnvAsDuration("WEBHOOK_DELIVERY_TIMEOUT", 30*time.Second),
		FailureThreshold: getEnvAsInt("WEBHOOK_FAILURE_THRESHOLD", 5),
		ResponseBodyCap:  getEnvAsInt("WEBHOOK_RESPONSE_BODY_CAP", 10000),
	}

	cfg.Tasks = TaskConfig{
		PoolSize: getEnvAsInt("TASK_POOL_SIZE", 64),
	}

	return cfg, nil
}

func (c *PostgresConfig) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
