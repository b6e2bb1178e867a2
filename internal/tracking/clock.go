package tracking

import "time"

// Clock abstracts wall time so detectors can run on virtual time in
// tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the real wall clock.
var SystemClock Clock = systemClock{}

// Scheduler drives the client's periodic work (pause checks, dwell
// flushes). The returned stop function releases the timer.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler runs periodic work on real tickers.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

// ManualScheduler collects periodic functions and fires them only when
// told to, for deterministic tests without wall-clock sleeps.
type ManualScheduler struct {
	jobs []func()
}

func (s *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	s.jobs = append(s.jobs, fn)
	return func() {}
}

// Fire runs every registered periodic function once.
func (s *ManualScheduler) Fire() {
	for _, job := range s.jobs {
		job()
	}
}
