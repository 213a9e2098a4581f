package detect

import (
	"fmt"

	"github.com/qguardian/qguardian/internal/detect/state"
)

const raceWindowWidth = 2.0 // seconds
const raceThreshold = 5

// RaceCondition (D7) detects the Dirty-COW shape: repeated MADVISE
// MADV_DONTNEED paired with repeated WRITE within the same window. Grounded
// on Wrapper/analyzers/RaceCondition.py.
//
// spec.md §9 flags an inconsistency across source variants: one filters
// WRITE to filename=="/proc/self/mem", another counts all WRITEs. This
// implementation adopts the filtered form by default (the attack requires
// writing through the victim's own /proc/self/mem mapping) but exposes
// FilterToProcSelfMem so the behavior is explicit and configurable rather
// than guessed.
type RaceCondition struct {
	FilterToProcSelfMem bool
	Threshold           int

	madvise *state.WindowCounts
	write   *state.WindowCounts
	alerted *state.AlertedSet
}

func NewRaceCondition() *RaceCondition {
	return &RaceCondition{
		FilterToProcSelfMem: true,
		Threshold:           raceThreshold,
		madvise:             state.NewWindowCounts(),
		write:               state.NewWindowCounts(),
		alerted:             state.NewAlertedSet(),
	}
}

func (d *RaceCondition) ID() string { return "RaceCondition" }

func (d *RaceCondition) Observe(ev Event) []Verdict {
	window := WindowOf(ev.TS, raceWindowWidth)

	switch ev.Kind {
	case "MADVISE":
		if ev.Str("advice") != "MADV_DONTNEED" {
			return nil
		}
		d.madvise.Incr(window)
	case "WRITE":
		if d.FilterToProcSelfMem {
			file := ev.Str("file")
			if file == "" {
				file = ev.Str("filename")
			}
			if file != "/proc/self/mem" {
				return nil
			}
		}
		d.write.Incr(window)
	default:
		return nil
	}

	madviseCount := d.madvise.Get(window)
	writeCount := d.write.Get(window)
	if madviseCount <= int64(d.Threshold) || writeCount <= int64(d.Threshold) {
		return nil
	}
	if !d.alerted.MarkIfAbsent(window, 0) {
		return nil
	}
	return []Verdict{{
		Level:       LevelHigh,
		CVSSVector:  "CVSS:3.1/AV:L/AC:H/PR:L/UI:N/S:U/C:N/I:H/A:H",
		Description: "Race Condition: Dirty-COW shaped madvise/write pattern",
		PID:         ev.PID,
		Evidence:    fmt.Sprintf("madvise=%d write=%d in window %d (threshold %d)", madviseCount, writeCount, window, d.Threshold),
		Analyzer:    d.ID(),
	}}
}

func (d *RaceCondition) Reset() {
	d.madvise.Reset()
	d.write.Reset()
	d.alerted.Reset()
}
