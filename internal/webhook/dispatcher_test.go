package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWebhookRepo struct {
	mu       sync.Mutex
	webhooks []*Webhook
	logs     []*DeliveryLog
}

func (r *memWebhookRepo) ListSubscribed(ctx context.Context, eventType string, userID, webhookID *uuid.UUID) ([]*Webhook, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Webhook
	for _, wh := range r.webhooks {
		if !wh.IsActive {
			continue
		}
		subscribed := false
		for _, event := range wh.Events {
			if event == eventType {
				subscribed = true
				break
			}
		}
		if !subscribed {
			continue
		}
		if webhookID != nil && wh.ID != *webhookID {
			continue
		}
		matched = append(matched, wh)
	}
	return matched, nil
}

func (r *memWebhookRepo) RecordDelivery(ctx context.Context, log *DeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func (r *memWebhookRepo) MarkSuccess(ctx context.Context, webhookID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wh := range r.webhooks {
		if wh.ID == webhookID {
			wh.FailureCount = 0
			wh.LastTriggeredAt = &at
		}
	}
	return nil
}

func (r *memWebhookRepo) MarkFailure(ctx context.Context, webhookID uuid.UUID, at time.Time, threshold int) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, wh := range r.webhooks {
		if wh.ID == webhookID {
			wh.FailureCount++
			wh.LastTriggeredAt = &at
			deactivated := false
			if wh.FailureCount >= threshold && wh.IsActive {
				wh.IsActive = false
				deactivated = true
			}
			return wh.FailureCount, deactivated, nil
		}
	}
	return 0, false, nil
}

func (r *memWebhookRepo) add(wh *Webhook) *Webhook {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = append(r.webhooks, wh)
	return wh
}

func sptr(s string) *string { return &s }

func newTestDispatcher(repo *memWebhookRepo) *Dispatcher {
	return NewDispatcher(repo, inlineTasks{}, Config{
		DeliveryTimeout:  5 * time.Second,
		FailureThreshold: 5,
		ResponseBodyCap:  100,
	}, zap.NewNop())
}

type inlineTasks struct{}

func (inlineTasks) Submit(name string, fn func() error) error {
	go func() { _ = fn() }()
	return nil
}

// closedTasks refuses all work, the shape of a pool already released
// during shutdown.
type closedTasks struct{}

func (closedTasks) Submit(name string, fn func() error) error {
	return errors.New("pool is closed")
}

func TestDispatchDeliversSignedEnvelope(t *testing.T) {
	var (
		mu       sync.Mutex
		received []byte
		headers  http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		received = body
		headers = r.Header.Clone()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	wh := repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "crm-sync",
		URL:      server.URL,
		Events:   []string{"contact_intent"},
		Secret:   sptr("topsecret"),
		IsActive: true,
	})

	results, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{"session_id": "abc", "page_path": "/pricing"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, wh.ID, results[0].WebhookID)

	mu.Lock()
	defer mu.Unlock()

	var envelope Envelope
	require.NoError(t, json.Unmarshal(received, &envelope))
	assert.Equal(t, "contact_intent", envelope.Event)
	assert.Equal(t, "/pricing", envelope.Data["page_path"])
	_, err = time.Parse(time.RFC3339, envelope.Timestamp)
	assert.NoError(t, err)

	assert.Equal(t, "contact_intent", headers.Get("X-Webhook-Event"))
	assert.NotEmpty(t, headers.Get("X-Webhook-Delivery"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(received)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	assert.Equal(t, expected, headers.Get("X-Webhook-Signature"))
}

func TestDispatchNoSignatureWithoutSecret(t *testing.T) {
	var signature string
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		signature = r.Header.Get("X-Webhook-Signature")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "open-endpoint",
		URL:      server.URL,
		Events:   []string{"contact_intent"},
		IsActive: true,
	})

	results, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	// Any 2xx counts as success.
	assert.True(t, results[0].Success)

	mu.Lock()
	assert.Empty(t, signature)
	mu.Unlock()
}

func TestDispatchSkipsUnsubscribedAndInactive(t *testing.T) {
	repo := &memWebhookRepo{}
	repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "wrong-event",
		URL:      "http://localhost:1",
		Events:   []string{"rage_scroll"},
		IsActive: true,
	})
	repo.add(&Webhook{
		ID:     uuid.New(),
		Name:   "tripped",
		URL:    "http://localhost:1",
		Events: []string{"contact_intent"},
	})

	results, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatchFailureIncrementsAndTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	wh := repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "flaky",
		URL:      server.URL,
		Events:   []string{"contact_intent"},
		IsActive: true,
	})

	dispatcher := newTestDispatcher(repo)
	request := &DeliveryRequest{EventType: "contact_intent", Data: map[string]any{}}

	for i := 1; i <= 5; i++ {
		results, err := dispatcher.Dispatch(context.Background(), request)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
		assert.Equal(t, i, wh.FailureCount)
	}

	// Breaker tripped: the webhook no longer matches.
	assert.False(t, wh.IsActive)
	results, err := dispatcher.Dispatch(context.Background(), request)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatchSuccessResetsFailureCount(t *testing.T) {
	var status int
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		s := status
		mu.Unlock()
		w.WriteHeader(s)
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	wh := repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "recovering",
		URL:      server.URL,
		Events:   []string{"contact_intent"},
		IsActive: true,
	})

	dispatcher := newTestDispatcher(repo)
	request := &DeliveryRequest{EventType: "contact_intent", Data: map[string]any{}}

	mu.Lock()
	status = http.StatusBadGateway
	mu.Unlock()
	for i := 0; i < 4; i++ {
		_, err := dispatcher.Dispatch(context.Background(), request)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, wh.FailureCount)

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()
	_, err := dispatcher.Dispatch(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, 0, wh.FailureCount)
	assert.True(t, wh.IsActive)
}

func TestDispatchFanOutIsolation(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	repo := &memWebhookRepo{}
	repo.add(&Webhook{ID: uuid.New(), Name: "good", URL: good.URL, Events: []string{"contact_intent"}, IsActive: true})
	repo.add(&Webhook{ID: uuid.New(), Name: "bad", URL: bad.URL, Events: []string{"contact_intent"}, IsActive: true})
	repo.add(&Webhook{ID: uuid.New(), Name: "unreachable", URL: "http://127.0.0.1:1", Events: []string{"contact_intent"}, IsActive: true})

	results, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	outcomes := map[string]bool{}
	for _, result := range results {
		outcomes[result.WebhookName] = result.Success
	}
	assert.True(t, outcomes["good"])
	assert.False(t, outcomes["bad"])
	assert.False(t, outcomes["unreachable"])
}

func TestDispatchSettlesWhenPoolRefusesWork(t *testing.T) {
	repo := &memWebhookRepo{}
	wh := repo.add(&Webhook{
		ID:       uuid.New(),
		Name:     "crm-sync",
		URL:      "http://127.0.0.1:1",
		Events:   []string{"contact_intent"},
		IsActive: true,
	})

	dispatcher := NewDispatcher(repo, closedTasks{}, Config{
		DeliveryTimeout:  5 * time.Second,
		FailureThreshold: 5,
		ResponseBodyCap:  100,
	}, zap.NewNop())

	done := make(chan struct{})
	var results []*DeliveryResult
	var err error
	go func() {
		defer close(done)
		results, err = dispatcher.Dispatch(context.Background(), &DeliveryRequest{
			EventType: "contact_intent",
			Data:      map[string]any{},
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch did not return after the pool refused the delivery")
	}

	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0])
	assert.False(t, results[0].Success)
	assert.Equal(t, wh.ID, results[0].WebhookID)
	assert.Contains(t, results[0].Error, "not scheduled")
}

func TestDispatchRecordsDeliveryLogs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	repo.add(&Webhook{ID: uuid.New(), Name: "teapot", URL: server.URL, Events: []string{"contact_intent"}, IsActive: true})

	_, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{},
	})
	require.NoError(t, err)

	require.Len(t, repo.logs, 1)
	log := repo.logs[0]
	assert.False(t, log.Success)
	require.NotNil(t, log.ResponseStatus)
	assert.Equal(t, http.StatusTeapot, *log.ResponseStatus)
	require.NotNil(t, log.ResponseBody)
	assert.Equal(t, "short and stout", *log.ResponseBody)
	require.NotNil(t, log.ErrorMessage)
	assert.Contains(t, *log.ErrorMessage, "418")
}

func TestDispatchTruncatesLongResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("x", 500)))
	}))
	defer server.Close()

	repo := &memWebhookRepo{}
	repo.add(&Webhook{ID: uuid.New(), Name: "chatty", URL: server.URL, Events: []string{"contact_intent"}, IsActive: true})

	_, err := newTestDispatcher(repo).Dispatch(context.Background(), &DeliveryRequest{
		EventType: "contact_intent",
		Data:      map[string]any{},
	})
	require.NoError(t, err)

	require.Len(t, repo.logs, 1)
	require.NotNil(t, repo.logs[0].ResponseBody)
	body := *repo.logs[0].ResponseBody
	assert.True(t, strings.HasSuffix(body, "... [truncated]"))
	assert.Len(t, body, 100+len("... [truncated]"))
}

func TestDispatchValidatesRequest(t *testing.T) {
	dispatcher := newTestDispatcher(&memWebhookRepo{})

	_, err := dispatcher.Dispatch(context.Background(), &DeliveryRequest{EventType: "contact_intent"})
	assert.Error(t, err)

	_, err = dispatcher.Dispatch(context.Background(), &DeliveryRequest{Data: map[string]any{}})
	assert.Error(t, err)
}
