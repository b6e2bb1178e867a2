package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/driftline/behavior-analytics/internal/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// syncTasks runs submitted work inline so tests see emissions
// immediately.
type syncTasks struct{}

func (syncTasks) Submit(name string, fn func() error) error {
	return fn()
}

type recordingEmitter struct {
	mu        sync.Mutex
	sessionID string
	sent      []*ingest.EventPayload
}

func (e *recordingEmitter) Send(ctx context.Context, payload *ingest.EventPayload) (*Ack, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, payload)

	ack := &Ack{Status: "accepted", EventType: payload.EventType}
	if payload.EventType == ingest.EventTypeSessionStart {
		ack.SessionID = e.sessionID
	}
	return ack, nil
}

func (e *recordingEmitter) ofType(eventType string) []*ingest.EventPayload {
	e.mu.Lock()
	defer e.mu.Unlock()
	var matched []*ingest.EventPayload
	for _, payload := range e.sent {
		if payload.EventType == eventType {
			matched = append(matched, payload)
		}
	}
	return matched
}

func newTestClient(t *testing.T) (*Client, *recordingEmitter, *fakeClock, *ManualScheduler) {
	t.Helper()

	emitter := &recordingEmitter{sessionID: "11111111-2222-3333-4444-555555555555"}
	clock := newFakeClock()
	scheduler := &ManualScheduler{}

	client, err := NewClient(Config{Host: "driftline.dev"}, Deps{
		Emitter:   emitter,
		Clock:     clock,
		Scheduler: scheduler,
		Tasks:     syncTasks{},
	})
	require.NoError(t, err)

	return client, emitter, clock, scheduler
}

func TestStartIssuesSessionStart(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)

	err := client.Start(context.Background(), "/pricing", "https://www.google.com/search?q=x")
	require.NoError(t, err)

	starts := emitter.ofType(ingest.EventTypeSessionStart)
	require.Len(t, starts, 1)
	assert.Equal(t, "/pricing", starts[0].EntryPath)
	assert.Equal(t, ReferrerKnownDomain, starts[0].ReferrerType)
	assert.NotEmpty(t, starts[0].AnonymizedToken)
	assert.Equal(t, emitter.sessionID, client.SessionID())
}

func TestStartReusesCachedSession(t *testing.T) {
	emitter := &recordingEmitter{sessionID: "new-session"}
	sessions := &MemoryStore{}
	require.NoError(t, sessions.Save("cached-session"))

	client, err := NewClient(Config{}, Deps{
		Emitter:      emitter,
		SessionStore: sessions,
		Clock:        newFakeClock(),
		Scheduler:    &ManualScheduler{},
		Tasks:        syncTasks{},
	})
	require.NoError(t, err)

	require.NoError(t, client.Start(context.Background(), "/", ""))

	assert.Equal(t, "cached-session", client.SessionID())
	assert.Empty(t, emitter.ofType(ingest.EventTypeSessionStart))
}

func TestScrollDepthThresholds(t *testing.T) {
	client, emitter, clock, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	// 30% then 60%: crosses 25 and 50.
	client.OnScroll(930, 4000, 900)
	clock.Advance(300 * time.Millisecond)
	client.OnScroll(1860, 4000, 900)

	depths := emitter.ofType(ingest.EventTypeScrollDepth)
	require.Len(t, depths, 2)
	assert.Equal(t, 25.0, *depths[0].Depth)
	assert.Equal(t, 50.0, *depths[1].Depth)
	assert.Equal(t, emitter.sessionID, depths[0].SessionID)
}

func TestScrollDepthThrottled(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	// Two samples inside one throttle interval: only the first is
	// evaluated for depth.
	client.OnScroll(930, 4000, 900)
	client.OnScroll(1860, 4000, 900)

	require.Len(t, emitter.ofType(ingest.EventTypeScrollDepth), 1)
}

func TestRageScrollEmitted(t *testing.T) {
	client, emitter, clock, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	for _, top := range []float64{100, 50, 120, 60, 130} {
		client.OnScroll(top, 4000, 900)
		clock.Advance(100 * time.Millisecond)
	}

	rages := emitter.ofType(ingest.EventTypeRageScroll)
	require.Len(t, rages, 1)
	assert.Equal(t, 2.0, *rages[0].RageIntensity)
	assert.Equal(t, "/pricing", rages[0].PagePath)
}

func TestPauseReportedOnScrollResume(t *testing.T) {
	client, emitter, clock, scheduler := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.OnScroll(100, 4000, 900)

	// Reader stops for six seconds; the periodic check observes the
	// idle gap, and the next scroll reports it.
	clock.Advance(6 * time.Second)
	scheduler.Fire()
	client.OnScroll(200, 4000, 900)

	pauses := emitter.ofType(ingest.EventTypePause)
	require.Len(t, pauses, 1)
	assert.Equal(t, 6.0, *pauses[0].PauseSeconds)
}

func TestSectionDwellOnLeave(t *testing.T) {
	client, emitter, clock, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.SectionEnter("features")
	clock.Advance(4 * time.Second)
	client.SectionLeave("features")

	dwells := emitter.ofType(ingest.EventTypeSectionDwell)
	require.Len(t, dwells, 1)
	assert.Equal(t, "features", dwells[0].SectionID)
	assert.Equal(t, 4.0, *dwells[0].DwellSeconds)
}

func TestSectionDwellPeriodicFlush(t *testing.T) {
	client, emitter, clock, scheduler := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.SectionEnter("features")
	clock.Advance(6 * time.Second)
	scheduler.Fire()

	dwells := emitter.ofType(ingest.EventTypeSectionDwell)
	require.Len(t, dwells, 1)
	assert.Equal(t, 6.0, *dwells[0].DwellSeconds)

	// The timer keeps running, so the next flush reports the larger
	// total for the same section.
	clock.Advance(5 * time.Second)
	scheduler.Fire()

	dwells = emitter.ofType(ingest.EventTypeSectionDwell)
	require.Len(t, dwells, 2)
	assert.Equal(t, 11.0, *dwells[1].DwellSeconds)
}

func TestNavigateEmitsEarlyExitFromShallowPage(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.OnScroll(310, 4000, 900) // 10%
	client.Navigate("/docs")

	exits := emitter.ofType(ingest.EventTypeEarlyExit)
	require.Len(t, exits, 1)
	assert.Equal(t, "/pricing", exits[0].PagePath)
	assert.Equal(t, 10.0, *exits[0].Depth)
}

func TestNavigateFromDeepPageIsSilent(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.OnScroll(1860, 4000, 900) // 60%
	client.Navigate("/docs")

	assert.Empty(t, emitter.ofType(ingest.EventTypeEarlyExit))
}

func TestNavigateResetsDepthForNewPage(t *testing.T) {
	client, emitter, clock, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.OnScroll(1860, 4000, 900)
	client.Navigate("/docs")

	clock.Advance(time.Second)
	client.OnScroll(930, 4000, 900)

	depths := emitter.ofType(ingest.EventTypeScrollDepth)
	require.Len(t, depths, 2)
	assert.Equal(t, "/docs", depths[1].PagePath)
	assert.Equal(t, 25.0, *depths[1].Depth)
}

func TestHideClassifiesExit(t *testing.T) {
	tests := []struct {
		name      string
		scrollTop float64
		expected  string
	}{
		{"shallow page reads as bounce", 310, ingest.EventTypeEarlyExit},
		{"deep page reads as exit", 1860, ingest.EventTypeExit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, emitter, _, _ := newTestClient(t)
			require.NoError(t, client.Start(context.Background(), "/pricing", ""))

			client.OnScroll(tt.scrollTop, 4000, 900)
			client.OnHide()

			exits := emitter.ofType(tt.expected)
			require.Len(t, exits, 1)
			assert.NotNil(t, exits[0].Depth)
		})
	}
}

func TestContactIntent(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)
	require.NoError(t, client.Start(context.Background(), "/pricing", ""))

	client.ContactIntent()

	intents := emitter.ofType(ingest.EventTypeContactIntent)
	require.Len(t, intents, 1)
	assert.Equal(t, "/pricing", intents[0].PagePath)
}

func TestEventsBeforeStartAreDropped(t *testing.T) {
	client, emitter, _, _ := newTestClient(t)

	client.OnScroll(1860, 4000, 900)
	client.ContactIntent()
	client.OnHide()

	assert.Empty(t, emitter.sent)
}
