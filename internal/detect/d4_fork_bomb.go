package detect

import (
	"fmt"

	"github.com/qguardian/qguardian/internal/detect/state"
)

const forkBombWindowWidth = 2.0 // seconds
const forkBombThreshold = 50

// ForkBomb (D4) counts TRACK_FORK events per 2s window and alerts once the
// count exceeds the configured threshold, at most once per window. Grounded
// on Wrapper/analyzers/ForkBomb.py.
type ForkBomb struct {
	counts    *state.WindowCounts
	alerted   *state.AlertedSet
	Threshold int
}

func NewForkBomb() *ForkBomb {
	return &ForkBomb{
		counts:    state.NewWindowCounts(),
		alerted:   state.NewAlertedSet(),
		Threshold: forkBombThreshold,
	}
}

func (d *ForkBomb) ID() string { return "ForkBomb" }

func (d *ForkBomb) Observe(ev Event) []Verdict {
	if ev.Kind != "TRACK_FORK" {
		return nil
	}
	window := WindowOf(ev.TS, forkBombWindowWidth)
	count := d.counts.Incr(window)
	if count <= int64(d.Threshold) {
		return nil
	}
	if !d.alerted.MarkIfAbsent(window, 0) {
		return nil
	}
	return []Verdict{{
		Level:       LevelHigh,
		CVSSVector:  "CVSS:3.1/AV:L/AC:L/PR:L/UI:N/S:U/C:N/I:N/A:H",
		Description: "Resource Exhaustion: fork rate exceeded threshold in window",
		PID:         ev.PID,
		Evidence:    fmt.Sprintf("%d forks in window %d (threshold %d)", count, window, d.Threshold),
		Analyzer:    d.ID(),
	}}
}

func (d *ForkBomb) Reset() {
	d.counts.Reset()
	d.alerted.Reset()
}
