package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userAgent = "BehaviorAnalytics-Webhooks/1.0"

// TaskRunner bounds the concurrent outbound deliveries of a fan-out. A
// Submit error means the work was never scheduled.
type TaskRunner interface {
	Submit(name string, fn func() error) error
}

type Config struct {
	DeliveryTimeout  time.Duration
	FailureThreshold int
	ResponseBodyCap  int
}

// Dispatcher fans an internal domain event out to every subscribed,
// active webhook. Deliveries are independent and concurrent; one
// endpoint's failure never delays or cancels another's delivery.
type Dispatcher struct {
	repo      Repository
	tasks     TaskRunner
	client    *http.Client
	threshold int
	bodyCap   int
	logger    *zap.Logger
	now       func() time.Time
}

func NewDispatcher(repo Repository, tasks TaskRunner, cfg Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		repo:  repo,
		tasks: tasks,
		client: &http.Client{
			Timeout: cfg.DeliveryTimeout,
		},
		threshold: cfg.FailureThreshold,
		bodyCap:   cfg.ResponseBodyCap,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch delivers the event to all matched webhooks and waits for the
// whole fan-out, returning one result per attempt. A failed attempt is
// terminal; there is no retry within the dispatcher.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DeliveryRequest) ([]*DeliveryResult, error) {
	if req.EventType == "" || req.Data == nil {
		return nil, fmt.Errorf("event_type and data are required")
	}

	webhooks, err := d.repo.ListSubscribed(ctx, req.EventType, req.UserID, req.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to select webhooks: %w", err)
	}

	if len(webhooks) == 0 {
		d.logger.Debug("No active webhooks for event", zap.String("event_type", req.EventType))
		return nil, nil
	}

	d.logger.Info("Dispatching event to webhooks",
		zap.String("event_type", req.EventType),
		zap.Int("webhooks", len(webhooks)),
	)

	results := make([]*DeliveryResult, len(webhooks))
	wg := &sync.WaitGroup{}

	for i, wh := range webhooks {
		i, wh := i, wh
		wg.Add(1)
		err := d.tasks.Submit("webhook-delivery", func() error {
			defer wg.Done()
			results[i] = d.deliver(ctx, wh, req.EventType, req.Data)
			return nil
		})
		if err != nil {
			// The delivery never ran; settle its slot so the fan-out
			// cannot block on a released pool.
			wg.Done()
			d.logger.Error("Failed to schedule webhook delivery",
				zap.Error(err),
				zap.String("webhook_id", wh.ID.String()),
			)
			results[i] = &DeliveryResult{
				WebhookID:   wh.ID,
				WebhookName: wh.Name,
				Error:       fmt.Sprintf("delivery not scheduled: %v", err),
			}
		}
	}

	wg.Wait()

	successCount := 0
	for _, result := range results {
		if result.Success {
			successCount++
		}
	}
	d.logger.Info("Fan-out complete",
		zap.String("event_type", req.EventType),
		zap.Int("succeeded", successCount),
		zap.Int("failed", len(results)-successCount),
	)

	return results, nil
}

func (d *Dispatcher) deliver(ctx context.Context, wh *Webhook, eventType string, data map[string]any) *DeliveryResult {
	envelope := Envelope{
		Event:     eventType,
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return &DeliveryResult{
			WebhookID:   wh.ID,
			WebhookName: wh.Name,
			Error:       fmt.Sprintf("failed to marshal envelope: %v", err),
		}
	}

	deliveryID := uuid.New().String()
	start := d.now()

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return d.recordFailure(ctx, wh, eventType, body, nil, nil, 0, err.Error())
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", userAgent)
	request.Header.Set("X-Webhook-Event", eventType)
	request.Header.Set("X-Webhook-Delivery", deliveryID)
	if wh.Secret != nil && *wh.Secret != "" {
		request.Header.Set("X-Webhook-Signature", signPayload(body, *wh.Secret))
	}

	response, err := d.client.Do(request)
	elapsed := d.now().Sub(start).Milliseconds()

	if err != nil {
		// Timeout and network failures have no status code; both count
		// against the failure threshold like any non-2xx response.
		return d.recordFailure(ctx, wh, eventType, body, nil, nil, elapsed, err.Error())
	}
	defer response.Body.Close()

	responseBody := d.readBody(response.Body)
	status := response.StatusCode

	if status < 200 || status >= 300 {
		errorMessage := fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
		return d.recordFailure(ctx, wh, eventType, body, &status, &responseBody, elapsed, errorMessage)
	}

	d.record(ctx, &DeliveryLog{
		ID:             uuid.New(),
		WebhookID:      wh.ID,
		EventType:      eventType,
		Payload:        body,
		ResponseStatus: &status,
		ResponseBody:   &responseBody,
		ResponseTimeMs: elapsed,
		Success:        true,
		CreatedAt:      d.now().UTC(),
	})

	if err := d.repo.MarkSuccess(ctx, wh.ID, d.now().UTC()); err != nil {
		d.logger.Error("Failed to reset webhook failure count",
			zap.Error(err),
			zap.String("webhook_id", wh.ID.String()),
		)
	}

	d.logger.Debug("Webhook delivered",
		zap.String("webhook_id", wh.ID.String()),
		zap.Int("status", status),
		zap.Int64("response_time_ms", elapsed),
	)

	return &DeliveryResult{
		WebhookID:      wh.ID,
		WebhookName:    wh.Name,
		Success:        true,
		StatusCode:     &status,
		ResponseTimeMs: elapsed,
	}
}

func (d *Dispatcher) recordFailure(
	ctx context.Context,
	wh *Webhook,
	eventType string,
	payload []byte,
	status *int,
	responseBody *string,
	elapsed int64,
	errorMessage string,
) *DeliveryResult {
	d.record(ctx, &DeliveryLog{
		ID:             uuid.New(),
		WebhookID:      wh.ID,
		EventType:      eventType,
		Payload:        payload,
		ResponseStatus: status,
		ResponseBody:   responseBody,
		ResponseTimeMs: elapsed,
		Success:        false,
		ErrorMessage:   &errorMessage,
		CreatedAt:      d.now().UTC(),
	})

	failureCount, deactivated, err := d.repo.MarkFailure(ctx, wh.ID, d.now().UTC(), d.threshold)
	if err != nil {
		d.logger.Error("Failed to mark webhook failure",
			zap.Error(err),
			zap.String("webhook_id", wh.ID.String()),
		)
	} else if deactivated {
		d.logger.Warn("Webhook disabled after consecutive failures",
			zap.String("webhook_id", wh.ID.String()),
			zap.Int("failure_count", failureCount),
		)
	}

	return &DeliveryResult{
		WebhookID:      wh.ID,
		WebhookName:    wh.Name,
		StatusCode:     status,
		ResponseTimeMs: elapsed,
		Error:          errorMessage,
	}
}

// record writes the one delivery log row for an attempt. Log write
// failures never affect the delivery outcome.
func (d *Dispatcher) record(ctx context.Context, log *DeliveryLog) {
	if err := d.repo.RecordDelivery(ctx, log); err != nil {
		d.logger.Error("Failed to record webhook delivery",
			zap.Error(err),
			zap.String("webhook_id", log.WebhookID.String()),
		)
	}
}

func (d *Dispatcher) readBody(r io.Reader) string {
	// Read one byte past the cap to know whether to mark truncation.
	raw, err := io.ReadAll(io.LimitReader(r, int64(d.bodyCap)+1))
	if err != nil {
		return ""
	}
	if len(raw) > d.bodyCap {
		return string(raw[:d.bodyCap]) + "... [truncated]"
	}
	return string(raw)
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
