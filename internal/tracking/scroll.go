package tracking

import "math"

// Thresholds at which scroll_depth events fire, each at most once per
// page visit.
var depthThresholds = []float64{25, 50, 75, 100}

// depthTracker keeps a per-page high-water mark of scroll depth and
// reports threshold crossings. Depth events are monotonically
// increasing per page; a jump across several thresholds reports only
// the lowest uncrossed one, and thresholds the jump skipped never
// fire.
type depthTracker struct {
	highWater map[string]float64
}

func newDepthTracker() *depthTracker {
	return &depthTracker{highWater: make(map[string]float64)}
}

// Update records a new depth sample for the page. Returns the crossed
// threshold when the sample passes one the page had not reached before.
func (t *depthTracker) Update(page string, depth float64) (float64, bool) {
	prev := t.highWater[page]
	if depth <= prev {
		return 0, false
	}
	t.highWater[page] = depth

	for _, threshold := range depthThresholds {
		if depth >= threshold && prev < threshold {
			return threshold, true
		}
	}
	return 0, false
}

// Depth returns the page's high-water mark.
func (t *depthTracker) Depth(page string) float64 {
	return t.highWater[page]
}

// Reset clears the mark for a freshly entered page.
func (t *depthTracker) Reset(page string) {
	t.highWater[page] = 0
}

// scrollDepthPercent normalizes a scroll position to 0-100 of the
// scrollable height. Pages shorter than the viewport count as fully
// read.
func scrollDepthPercent(scrollTop, pageHeight, viewportHeight float64) float64 {
	scrollable := pageHeight - viewportHeight
	if scrollable <= 0 {
		return 100
	}
	return math.Min(100, math.Round(scrollTop/scrollable*100))
}
