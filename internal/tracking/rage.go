package tracking

import (
	"math"
	"time"
)

type scrollDirection int

const (
	directionNone scrollDirection = iota
	directionUp
	directionDown
)

// rageDetector spots rapid back-and-forth scrolling. It is a
// sliding-window burst detector: only direction reversals inside the
// window count, so isolated reversals never accumulate into a trigger.
type rageDetector struct {
	window     time.Duration
	minChanges int

	lastY         float64
	lastDirection scrollDirection
	changes       []time.Time
}

func newRageDetector(window time.Duration, minChanges int) *rageDetector {
	return &rageDetector{
		window:     window,
		minChanges: minChanges,
	}
}

// Observe processes one scroll position sample. When enough reversals
// land inside the window it reports an intensity on a 1-10 scale and
// clears the list so the same burst cannot re-trigger.
func (r *rageDetector) Observe(y float64, now time.Time) (int, bool) {
	direction := directionUp
	if y > r.lastY {
		direction = directionDown
	}

	fired := false
	intensity := 0

	if r.lastDirection != directionNone && direction != r.lastDirection {
		valid := r.changes[:0]
		for _, t := range r.changes {
			if now.Sub(t) < r.window {
				valid = append(valid, t)
			}
		}
		valid = append(valid, now)
		r.changes = valid

		if len(r.changes) >= r.minChanges {
			intensity = int(math.Min(10, math.Ceil(float64(len(r.changes))/2)))
			r.changes = nil
			fired = true
		}
	}

	r.lastY = y
	r.lastDirection = direction

	return intensity, fired
}
