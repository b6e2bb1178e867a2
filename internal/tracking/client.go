package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/driftline/behavior-analytics/internal/ingest"
	"go.uber.org/zap"
)

// TaskRunner carries fire-and-forget emissions off the caller's path.
// A Submit error means the work was never scheduled.
type TaskRunner interface {
	Submit(name string, fn func() error) error
}

type clientState int

const (
	stateUninitialized clientState = iota
	stateSessionPending
	stateActive
)

type Config struct {
	ScrollThrottle     time.Duration
	DwellInterval      time.Duration
	DwellFlushMin      float64
	DwellLeaveMin      float64
	PauseCheckInterval time.Duration
	PauseThreshold     time.Duration
	PauseMinSeconds    float64
	PauseMaxSeconds    float64
	RageWindow         time.Duration
	RageMinChanges     int
	EarlyExitDepth     float64
	Host               string
}

func (c Config) withDefaults() Config {
	if c.ScrollThrottle <= 0 {
		c.ScrollThrottle = 250 * time.Millisecond
	}
	if c.DwellInterval <= 0 {
		c.DwellInterval = 5 * time.Second
	}
	if c.DwellFlushMin <= 0 {
		c.DwellFlushMin = 5
	}
	if c.DwellLeaveMin <= 0 {
		c.DwellLeaveMin = 1
	}
	if c.PauseCheckInterval <= 0 {
		c.PauseCheckInterval = time.Second
	}
	if c.PauseThreshold <= 0 {
		c.PauseThreshold = 2 * time.Second
	}
	if c.PauseMinSeconds <= 0 {
		c.PauseMinSeconds = 3
	}
	if c.PauseMaxSeconds <= 0 {
		c.PauseMaxSeconds = 300
	}
	if c.RageWindow <= 0 {
		c.RageWindow = 1500 * time.Millisecond
	}
	if c.RageMinChanges <= 0 {
		c.RageMinChanges = 4
	}
	if c.EarlyExitDepth <= 0 {
		c.EarlyExitDepth = 25
	}
	return c
}

// Deps are the collaborators of a Client. Clock and Scheduler default
// to real time when nil.
type Deps struct {
	Emitter      Emitter
	TokenStore   Store
	SessionStore Store
	Clock        Clock
	Scheduler    Scheduler
	Tasks        TaskRunner
	Logger       *zap.Logger
}

// Client converts continuous scroll and visibility signals into
// discrete semantic events and delivers them best-effort. One Client is
// constructed per page context; all methods are safe for concurrent use
// by the host's callbacks and timers.
type Client struct {
	cfg    Config
	deps   Deps
	token  string
	logger *zap.Logger

	mu          sync.Mutex
	state       clientState
	sessionID   string
	currentPage string

	depth    *depthTracker
	rage     *rageDetector
	pause    *pauseTracker
	sections *sectionTimers

	lastDepthEval time.Time
	stops         []func()
}

func NewClient(cfg Config, deps Deps) (*Client, error) {
	cfg = cfg.withDefaults()

	if deps.Clock == nil {
		deps.Clock = SystemClock
	}
	if deps.Scheduler == nil {
		deps.Scheduler = TickerScheduler{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		return nil, fmt.Errorf("emitter is required")
	}
	if deps.Tasks == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if deps.TokenStore == nil {
		deps.TokenStore = &MemoryStore{}
	}
	if deps.SessionStore == nil {
		deps.SessionStore = &MemoryStore{}
	}

	token, err := LoadOrCreateToken(deps.TokenStore)
	if err != nil {
		return nil, err
	}

	now := deps.Clock.Now()
	return &Client{
		cfg:      cfg,
		deps:     deps,
		token:    token,
		logger:   deps.Logger,
		state:    stateUninitialized,
		depth:    newDepthTracker(),
		rage:     newRageDetector(cfg.RageWindow, cfg.RageMinChanges),
		pause:    newPauseTracker(cfg.PauseThreshold, cfg.PauseMinSeconds, cfg.PauseMaxSeconds, now),
		sections: newSectionTimers(),
	}, nil
}

// Start resolves the session. A cached session id survives page
// navigation; otherwise session_start is issued and awaited, the only
// emission whose response the client reads. Periodic pause and dwell
// work starts afterwards.
func (c *Client) Start(ctx context.Context, entryPath, referrer string) error {
	c.mu.Lock()
	if c.state != stateUninitialized {
		c.mu.Unlock()
		return nil
	}
	c.state = stateSessionPending
	c.currentPage = entryPath
	c.mu.Unlock()

	cached, err := c.deps.SessionStore.Load()
	if err != nil {
		c.logger.Debug("failed to load cached session", zap.Error(err))
	}

	sessionID := cached
	if sessionID == "" {
		ack, err := c.deps.Emitter.Send(ctx, &ingest.EventPayload{
			EventType:       ingest.EventTypeSessionStart,
			AnonymizedToken: c.token,
			EntryPath:       entryPath,
			ReferrerType:    classifyReferrer(referrer, c.cfg.Host),
		})
		if err != nil {
			c.mu.Lock()
			c.state = stateUninitialized
			c.mu.Unlock()
			return fmt.Errorf("session start failed: %w", err)
		}
		sessionID = ack.SessionID

		if err := c.deps.SessionStore.Save(sessionID); err != nil {
			c.logger.Debug("failed to cache session", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.sessionID = sessionID
	c.state = stateActive
	c.stops = append(c.stops,
		c.deps.Scheduler.Every(c.cfg.PauseCheckInterval, c.checkPause),
		c.deps.Scheduler.Every(c.cfg.DwellInterval, c.flushDwell),
	)
	c.mu.Unlock()

	c.logger.Debug("tracking started",
		zap.String("session_id", sessionID),
		zap.String("entry_path", entryPath),
	)

	return nil
}

// OnScroll processes one scroll position sample. Rage and pause
// handling see every sample; depth evaluation is throttled so event
// volume stays bounded regardless of raw scroll frequency.
func (c *Client) OnScroll(scrollTop, pageHeight, viewportHeight float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}

	now := c.deps.Clock.Now()
	page := c.currentPage

	if intensity, fired := c.rage.Observe(scrollTop, now); fired {
		c.emit(ingest.EventTypeRageScroll, &ingest.EventPayload{
			PagePath:      page,
			RageIntensity: ptr(float64(clampIntensity(intensity))),
		})
	}

	if seconds, ok := c.pause.Resume(now); ok {
		c.emit(ingest.EventTypePause, &ingest.EventPayload{
			PagePath:     page,
			PauseSeconds: ptr(seconds),
		})
	}

	if now.Sub(c.lastDepthEval) >= c.cfg.ScrollThrottle {
		c.lastDepthEval = now
		depth := scrollDepthPercent(scrollTop, pageHeight, viewportHeight)
		if threshold, crossed := c.depth.Update(page, depth); crossed {
			c.emit(ingest.EventTypeScrollDepth, &ingest.EventPayload{
				PagePath: page,
				Depth:    ptr(threshold),
			})
		}
	}
}

// SectionEnter starts the dwell timer for a section that became
// visible.
func (c *Client) SectionEnter(sectionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections.Enter(sectionKey, c.deps.Clock.Now())
}

// SectionLeave stops the timer and emits the final dwell if long
// enough.
func (c *Client) SectionLeave(sectionKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seconds, ok := c.sections.Leave(sectionKey, c.deps.Clock.Now(), c.cfg.DwellLeaveMin); ok {
		c.emit(ingest.EventTypeSectionDwell, &ingest.EventPayload{
			SectionID:    sectionKey,
			PagePath:     c.currentPage,
			DwellSeconds: ptr(seconds),
		})
	}
}

// ContactIntent reports an explicit interest signal, a form focus or a
// CTA click.
func (c *Client) ContactIntent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}
	c.emit(ingest.EventTypeContactIntent, &ingest.EventPayload{
		PagePath: c.currentPage,
	})
}

// Navigate switches the current page within the same session. The page
// being left gets the early-exit check before depth tracking resets.
func (c *Client) Navigate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive || path == c.currentPage {
		return
	}

	prevDepth := c.depth.Depth(c.currentPage)
	if prevDepth < c.cfg.EarlyExitDepth {
		c.emit(ingest.EventTypeEarlyExit, &ingest.EventPayload{
			PagePath: c.currentPage,
			Depth:    ptr(prevDepth),
		})
	}

	c.currentPage = path
	c.depth.Reset(path)
	c.sections.Clear()
}

// OnHide classifies the exit when the tab is hidden or unloaded: a page
// abandoned above the early-exit depth reads as a bounce, anything
// deeper as a normal exit.
func (c *Client) OnHide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateActive {
		return
	}

	depth := c.depth.Depth(c.currentPage)
	eventType := ingest.EventTypeExit
	if depth < c.cfg.EarlyExitDepth {
		eventType = ingest.EventTypeEarlyExit
	}
	c.emit(eventType, &ingest.EventPayload{
		PagePath: c.currentPage,
		Depth:    ptr(depth),
	})
}

// Close releases the periodic timers. The session cache survives; a new
// Client on the next page load resumes the same session.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stop := range c.stops {
		stop()
	}
	c.stops = nil
	c.state = stateUninitialized
}

func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) checkPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pause.Check(c.deps.Clock.Now())
}

func (c *Client) flushDwell() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, dwell := range c.sections.Flush(c.deps.Clock.Now(), c.cfg.DwellFlushMin) {
		c.emit(ingest.EventTypeSectionDwell, &ingest.EventPayload{
			SectionID:    dwell.key,
			PagePath:     c.currentPage,
			DwellSeconds: ptr(dwell.seconds),
		})
	}
}

// emit fills in the identity fields and submits the network call as a
// background task. Delivery is at-most-once: failures are logged at
// debug and never retried, and the page is never blocked.
func (c *Client) emit(eventType string, payload *ingest.EventPayload) {
	payload.EventType = eventType
	payload.AnonymizedToken = c.token
	payload.SessionID = c.sessionID

	err := c.deps.Tasks.Submit("emit-"+eventType, func() error {
		if _, err := c.deps.Emitter.Send(context.Background(), payload); err != nil {
			c.logger.Debug("event delivery failed",
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("event not scheduled",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func clampIntensity(intensity int) int {
	if intensity < 1 {
		return 1
	}
	if intensity > 10 {
		return 10
	}
	return intensity
}

func ptr(v float64) *float64 {
	return &v
}
