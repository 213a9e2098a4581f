package detect

import (
	"fmt"

	"github.com/qguardian/qguardian/internal/detect/state"
)

const abnormalSignalWindowWidth = 5.0 // seconds
const abnormalSignalThreshold = 1

// suspiciousSignals are the typically-fatal signals that a process
// deliberately catching is itself suspicious: SIGILL, SIGTRAP, SIGBUS,
// SIGFPE, SIGSEGV.
var suspiciousSignals = map[int64]bool{4: true, 5: true, 7: true, 8: true, 11: true}

// AbnormalSignal (D9) alerts the first time, per window per pid, a process
// handles one of the suspicious signals above — grounded on
// Wrapper/analyzers/AbnormalSignalHandling.py. The Python threshold of 1
// means this is effectively first-occurrence-per-window, kept as-is.
type AbnormalSignal struct {
	counts    *state.WindowPIDCounts
	alerted   *state.AlertedSet
	Threshold int
}

func NewAbnormalSignal() *AbnormalSignal {
	return &AbnormalSignal{
		counts:    state.NewWindowPIDCounts(),
		alerted:   state.NewAlertedSet(),
		Threshold: abnormalSignalThreshold,
	}
}

func (d *AbnormalSignal) ID() string { return "AbnormalSignal" }

func (d *AbnormalSignal) Observe(ev Event) []Verdict {
	if ev.Kind != "SIGNAL_GENERATE" {
		return nil
	}
	sig := ev.Int("sig")
	if !suspiciousSignals[sig] {
		return nil
	}
	window := WindowOf(ev.TS, abnormalSignalWindowWidth)
	count := d.counts.Incr(window, ev.PID)
	if count < int64(d.Threshold) {
		return nil
	}
	if !d.alerted.MarkIfAbsent(window, ev.PID) {
		return nil
	}
	return []Verdict{{
		Level:       LevelLow,
		CVSSVector:  "CVSS:3.1/AV:L/AC:H/PR:L/UI:N/S:U/C:L/I:L/A:L",
		Description: "Abnormal Signal Handling: process caught a typically-fatal signal",
		PID:         ev.PID,
		Evidence:    fmt.Sprintf("handled %d suspicious signal(s) (last SIG=%d) within %.0fs window", count, sig, abnormalSignalWindowWidth),
		Analyzer:    d.ID(),
	}}
}

func (d *AbnormalSignal) Reset() {
	d.counts.Reset()
	d.alerted.Reset()
}
