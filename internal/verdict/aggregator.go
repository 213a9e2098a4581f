// Package verdict implements the Verdict Aggregator (C5): it fuses the
// Dispatch Router's per-detector output for a single event into one framed
// report block and selects the high-risk subset handed to the Containment
// Controller.
package verdict

import (
	"fmt"
	"strings"
	"sync"

	"github.com/qguardian/qguardian/internal/detect"
)

// HighThreshold is the default level at which a verdict is escalated to the
// Containment Controller's high-risk list (spec.md §2: "level ≥
// HIGH_THRESHOLD implies containment action attempted").
const HighThreshold = 9.0

// delimiter frames one report block for the downstream Report Sink Adapter:
// exactly fifty '=' characters.
const delimiter = "=================================================="

// Report is one event's aggregated output.
type Report struct {
	Text        string
	HighRisk    []detect.Verdict
	AllVerdicts []detect.Verdict
}

// Aggregator accumulates the session-scoped seen_pids set across every
// report it builds. It is the single writer of that set (spec.md §5).
type Aggregator struct {
	Target string // target binary name, named in the report header

	mu        sync.Mutex
	seenPIDs  map[int64]struct{}
}

func NewAggregator(target string) *Aggregator {
	return &Aggregator{
		Target:   target,
		seenPIDs: make(map[int64]struct{}),
	}
}

// Build drops error verdicts (Level < 0), records every remaining verdict's
// PID into seen_pids, and frames the rest into a report block. It returns
// (Report{}, false) when nothing survives filtering — no report is produced for
// an event with no real findings.
func (a *Aggregator) Build(verdicts []detect.Verdict) (Report, bool) {
	var kept []detect.Verdict
	for _, v := range verdicts {
		if v.IsError() {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return Report{}, false
	}

	a.mu.Lock()
	var highRisk []detect.Verdict
	for _, v := range kept {
		if v.PID > 0 {
			a.seenPIDs[v.PID] = struct{}{}
		}
		if v.Level >= HighThreshold && v.PID > 0 {
			highRisk = append(highRisk, v)
		}
	}
	a.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Target: %s\n", a.Target)
	b.WriteString(strings.Repeat("-", 50))
	b.WriteByte('\n')
	for _, v := range kept {
		fmt.Fprintf(&b, "analyzer=%s level=%.1f pid=%d cvss=%q description=%q evidence=%q\n",
			v.Analyzer, v.Level, v.PID, v.CVSSVector, v.Description, v.Evidence)
	}
	b.WriteString(delimiter)
	b.WriteByte('\n')

	return Report{Text: b.String(), HighRisk: highRisk, AllVerdicts: kept}, true
}

// SeenPIDs returns a snapshot of every PID recorded across all reports built
// so far, used by the operator sweep escape hatch in internal/sandbox.
func (a *Aggregator) SeenPIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int64, 0, len(a.seenPIDs))
	for pid := range a.seenPIDs {
		out = append(out, pid)
	}
	return out
}
