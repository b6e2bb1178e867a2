package tracking

import (
	"math"
	"time"
)

// sectionTimers maps section keys to the time the section became
// visible. Entries are added and removed by the host's visibility
// callbacks; the periodic flush reports sections still being read.
type sectionTimers struct {
	entries map[string]time.Time
}

func newSectionTimers() *sectionTimers {
	return &sectionTimers{entries: make(map[string]time.Time)}
}

func (t *sectionTimers) Enter(key string, now time.Time) {
	t.entries[key] = now
}

// Leave removes the timer and reports the final dwell if the section
// was visible for at least minSeconds.
func (t *sectionTimers) Leave(key string, now time.Time, minSeconds float64) (float64, bool) {
	start, ok := t.entries[key]
	if !ok {
		return 0, false
	}
	delete(t.entries, key)

	dwell := math.Round(now.Sub(start).Seconds())
	if dwell < minSeconds {
		return 0, false
	}
	return dwell, true
}

type sectionDwell struct {
	key     string
	seconds float64
}

// Flush reports every section still observed for at least minSeconds.
// Timers are not reset, so a section being read across several flushes
// reports its growing total each time.
func (t *sectionTimers) Flush(now time.Time, minSeconds float64) []sectionDwell {
	var dwells []sectionDwell
	for key, start := range t.entries {
		seconds := math.Round(now.Sub(start).Seconds())
		if seconds >= minSeconds {
			dwells = append(dwells, sectionDwell{key: key, seconds: seconds})
		}
	}
	return dwells
}

func (t *sectionTimers) Clear() {
	t.entries = make(map[string]time.Time)
}
