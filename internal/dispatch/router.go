// Package dispatch implements the Dispatch Router (C4): it maps each parsed
// event to the detectors that care about it and runs them concurrently on a
// bounded worker pool, honoring a per-invocation timeout and the strict
// event-N-before-event-N+1 aggregation ordering.
package dispatch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/qguardian/qguardian/internal/detect"
)

const defaultWorkerLimit = 10
const detectorTimeout = 5 * time.Second

// Router holds the two static event->detector maps described in spec.md
// §4.4 and §9's open question: the source ships two slightly different
// event-to-detector maps across variants, so this Router registers the
// superset — a detector simply ignores event kinds it does not recognize.
type Router struct {
	byEvent map[string][]detect.Detector
	byEvt   map[string][]detect.Detector
	sem     *semaphore.Weighted
}

// DetectorConfig carries the operator-tunable thresholds spec.md's Open
// Questions mark as implementer-configurable. A zero int or nil pointer
// leaves the corresponding detector's own built-in default untouched.
type DetectorConfig struct {
	ForkBombThreshold        int
	RaceConditionThreshold   int
	FilterWriteToProcSelfMem *bool
}

// New builds a Router wired with one instance of every detector (C2) and a
// worker pool bounded to limit concurrent detector invocations. A limit of
// 0 selects the spec default of 10.
func New(limit int, dc DetectorConfig) *Router {
	if limit <= 0 {
		limit = defaultWorkerLimit
	}

	accessControl := detect.NewAccessControl()
	commandInjection := detect.NewCommandInjection()
	filelessExecution := detect.NewFilelessExecution()
	forkBomb := detect.NewForkBomb()
	informationLeak := detect.NewInformationLeak()
	memoryCorruption := detect.NewMemoryCorruption()
	raceCondition := detect.NewRaceCondition()
	reverseShell := detect.NewReverseShell()
	abnormalSignal := detect.NewAbnormalSignal()
	reconnaissance := detect.NewReconnaissance()

	if dc.ForkBombThreshold > 0 {
		forkBomb.Threshold = dc.ForkBombThreshold
	}
	if dc.RaceConditionThreshold > 0 {
		raceCondition.Threshold = dc.RaceConditionThreshold
	}
	if dc.FilterWriteToProcSelfMem != nil {
		raceCondition.FilterToProcSelfMem = *dc.FilterWriteToProcSelfMem
	}

	r := &Router{
		sem: semaphore.NewWeighted(int64(limit)),
		byEvent: map[string][]detect.Detector{
			"SETUID":        {accessControl},
			"SETGID":        {accessControl},
			"SETREUID":      {accessControl},
			"SETRESUID":     {accessControl},
			"TRACK_OPENAT":  {accessControl},
			"EXEC":          {commandInjection, filelessExecution},
			"TRACK_FORK":    {forkBomb},
			"RECVFROM":      {informationLeak},
			"SENDTO":        {informationLeak},
			"READ":          {informationLeak},
			"WRITE":         {informationLeak, raceCondition},
			"MPROTECT":      {memoryCorruption},
			"MADVISE":       {raceCondition},
			"CONNECT":       {reverseShell},
			"DUP2":          {reverseShell},
			"SIGNAL_GENERATE": {abnormalSignal},
			"READLINKAT":    {reconnaissance},
		},
		byEvt: map[string][]detect.Detector{
			"MMAP_SUM": {memoryCorruption},
		},
	}
	return r
}

// Detectors returns every detector registered with this Router, used by the
// Session Orchestrator to call Reset() between target runs.
func (r *Router) Detectors() []detect.Detector {
	seen := map[string]detect.Detector{}
	for _, ds := range r.byEvent {
		for _, d := range ds {
			seen[d.ID()] = d
		}
	}
	for _, ds := range r.byEvt {
		for _, d := range ds {
			seen[d.ID()] = d
		}
	}
	out := make([]detect.Detector, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

// DetectorsReset clears every registered detector's per-session state,
// called between target runs (spec.md §5: "no persistent event archive
// across sessions").
func (r *Router) DetectorsReset() {
	for _, d := range r.Detectors() {
		d.Reset()
	}
}

// matching computes the union of detectors registered for ev's "event" and
// "evt" discriminators, deduplicated by analyzer id (a detector that
// happens to be registered under both keys must still run once).
func (r *Router) matching(ev detect.Event) []detect.Detector {
	byID := map[string]detect.Detector{}
	for _, d := range r.byEvent[ev.Kind] {
		byID[d.ID()] = d
	}
	for _, d := range r.byEvt[ev.SubKind] {
		byID[d.ID()] = d
	}
	if len(byID) == 0 {
		return nil
	}
	out := make([]detect.Detector, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	return out
}

// Dispatch runs every detector matching ev concurrently on the bounded
// worker pool and blocks until all have returned or timed out, so that the
// caller (the Verdict Aggregator via the Session Orchestrator) can finish
// framing event N's report before event N+1 is read. A detector that
// exceeds detectorTimeout yields a synthetic error verdict (Level -1); this
// never aborts the dispatch for other detectors of the same event.
func (r *Router) Dispatch(ctx context.Context, ev detect.Event) []detect.Verdict {
	detectors := r.matching(ev)
	if len(detectors) == 0 {
		return nil
	}

	results := make([][]detect.Verdict, len(detectors))
	g, gctx := errgroup.WithContext(ctx)

	for i, d := range detectors {
		i, d := i, d
		g.Go(func() error {
			if err := r.sem.Acquire(gctx, 1); err != nil {
				results[i] = []detect.Verdict{errorVerdict(d, ev)}
				return nil
			}
			defer r.sem.Release(1)
			results[i] = r.invoke(d, ev)
			return nil
		})
	}
	// Invocation errors never abort sibling detectors; Dispatch itself
	// cannot fail, so the returned error is always nil.
	_ = g.Wait()

	var out []detect.Verdict
	for _, vs := range results {
		out = append(out, vs...)
	}
	return out
}

// invoke runs a single detector with a 5 s wall-clock budget, in its own
// goroutine so a detector that never returns cannot wedge the pool.
func (r *Router) invoke(d detect.Detector, ev detect.Event) []detect.Verdict {
	done := make(chan []detect.Verdict, 1)
	go func() {
		done <- d.Observe(ev)
	}()
	select {
	case v := <-done:
		return v
	case <-time.After(detectorTimeout):
		return []detect.Verdict{errorVerdict(d, ev)}
	}
}

func errorVerdict(d detect.Detector, ev detect.Event) detect.Verdict {
	return detect.Verdict{
		Level:       -1,
		Description: "detector timeout or invocation error",
		PID:         ev.PID,
		Analyzer:    d.ID(),
	}
}
