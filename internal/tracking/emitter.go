package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/driftline/behavior-analytics/internal/ingest"
	"go.uber.org/zap"
)

// Ack is the ingestion endpoint's success body. Only session_start
// responses carry a session id.
type Ack struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	EventType string `json:"event_type"`
}

// Emitter delivers one event to the ingestion endpoint.
type Emitter interface {
	Send(ctx context.Context, payload *ingest.EventPayload) (*Ack, error)
}

// HTTPEmitter posts events as JSON. It makes a single attempt; the
// client never retries or queues analytics traffic.
type HTTPEmitter struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
	Logger    *zap.Logger
}

func NewHTTPEmitter(endpoint string, logger *zap.Logger) *HTTPEmitter {
	return &HTTPEmitter{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 10 * time.Second},
		Logger:   logger,
	}
}

func (e *HTTPEmitter) Send(ctx context.Context, payload *ingest.EventPayload) (*Ack, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if e.UserAgent != "" {
		request.Header.Set("User-Agent", e.UserAgent)
	}

	response, err := e.Client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("failed to send event: %w", err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, 4096))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("event rejected: status %d: %s", response.StatusCode, string(raw))
	}

	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &ack, nil
}
