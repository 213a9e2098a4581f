package detect

// Detector is the contract every analyzer (D1-D10) implements. Observe must
// be safe for one-shot, concurrent invocation per event — any cross-event
// memory lives in the detector's own fields of internal/detect/state types,
// never in locals.
type Detector interface {
	// ID is the stable analyzer identifier used in Verdict.Analyzer and in
	// the Dispatch Router's event->detector maps.
	ID() string
	// Observe classifies a single event, returning zero or more verdicts.
	// Most detectors return at most one; D1 may return two (path-traversal
	// and sensitive-file are independent checks on the same event).
	Observe(ev Event) []Verdict
	// Reset clears all per-session state. Called between target runs; the
	// spec guarantees no persistent event archive across sessions.
	Reset()
}

// WindowOf returns the integer bucket for ts under the given window width
// in seconds: floor(ts / width).
func WindowOf(ts float64, width float64) int64 {
	return int64(ts / width)
}
