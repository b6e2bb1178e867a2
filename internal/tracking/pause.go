package tracking

import (
	"math"
	"time"
)

// pauseTracker models "stopped to read": idle time past the threshold
// accumulates, and the pause is reported once scrolling resumes.
// Micro-pauses below the minimum are discarded.
type pauseTracker struct {
	threshold  time.Duration
	minSeconds float64
	maxSeconds float64

	lastScroll  time.Time
	accumulated float64
}

func newPauseTracker(threshold time.Duration, minSeconds, maxSeconds float64, start time.Time) *pauseTracker {
	return &pauseTracker{
		threshold:  threshold,
		minSeconds: minSeconds,
		maxSeconds: maxSeconds,
		lastScroll: start,
	}
}

// Check runs on the periodic tick and accumulates idle time once it
// exceeds the threshold.
func (p *pauseTracker) Check(now time.Time) {
	idle := now.Sub(p.lastScroll).Seconds()
	if idle >= p.threshold.Seconds() {
		p.accumulated = idle
	}
}

// Resume is called when scrolling restarts. It reports the accumulated
// pause if it reached the minimum, capped at the maximum, and resets
// the accumulator either way.
func (p *pauseTracker) Resume(now time.Time) (float64, bool) {
	reported := 0.0
	ok := false

	if p.accumulated >= p.minSeconds {
		reported = math.Min(p.accumulated, p.maxSeconds)
		ok = true
	}

	p.lastScroll = now
	p.accumulated = 0

	return reported, ok
}
