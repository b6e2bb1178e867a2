package ingest

// MetricsDelta is the contribution of one accepted event to its
// session's rolling aggregate. Computed here, applied atomically by the
// repository in a single update.
type MetricsDelta struct {
	DwellSeconds  float64
	PauseSeconds  float64
	Depth         float64
	RageEvent     bool
	EarlyExit     bool
	ContactIntent bool
}

func deltaFor(payload *EventPayload) MetricsDelta {
	delta := MetricsDelta{
		RageEvent:     payload.EventType == EventTypeRageScroll,
		EarlyExit:     payload.EventType == EventTypeEarlyExit,
		ContactIntent: payload.EventType == EventTypeContactIntent,
	}

	if payload.DwellSeconds != nil {
		delta.DwellSeconds = *payload.DwellSeconds
	}
	if payload.PauseSeconds != nil {
		delta.PauseSeconds = *payload.PauseSeconds
	}
	if payload.Depth != nil {
		delta.Depth = *payload.Depth
	}

	return delta
}
