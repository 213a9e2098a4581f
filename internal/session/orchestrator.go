// Package session implements the Session Orchestrator (C7): the per-target
// state machine that spawns the tracer and emulator, drives the Parser and
// Dispatch Router, and releases every acquired resource in reverse order on
// failure. Grounded in the teacher's SandboxExecutor availability-check and
// demo-mode degrade pattern (internal/gvisor/sandbox_executor.go).
package session

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qguardian/qguardian/internal/detect"
	"github.com/qguardian/qguardian/internal/dispatch"
	"github.com/qguardian/qguardian/internal/eventstream"
	"github.com/qguardian/qguardian/internal/report"
	"github.com/qguardian/qguardian/internal/sandbox"
	"github.com/qguardian/qguardian/internal/verdict"
)

// TracerSource is an in-process alternative to spawning an external tracer
// subprocess (internal/devtracer.Tracer implements it). When set on
// Config, the Session reads events from it instead of a tracer stdout
// pipe.
type TracerSource interface {
	Start()
	Read(p []byte) (int, error)
	Close() error
}

// State is one node of the INIT -> TRACER_SPAWNED -> SANDBOX_READY ->
// EMULATOR_RUNNING -> DRAIN -> CLEANED state machine (spec.md §4.7).
type State int

const (
	Init State = iota
	TracerSpawned
	SandboxReady
	EmulatorRunning
	Drain
	Cleaned
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case TracerSpawned:
		return "TRACER_SPAWNED"
	case SandboxReady:
		return "SANDBOX_READY"
	case EmulatorRunning:
		return "EMULATOR_RUNNING"
	case Drain:
		return "DRAIN"
	case Cleaned:
		return "CLEANED"
	}
	return "UNKNOWN"
}

const tracerReadinessWait = 1 * time.Second
const drainGracePeriod = 1 * time.Second
const defaultSessionTimeout = 60 * time.Second
const tracerSourcePollInterval = 10 * time.Millisecond

// Config parameterizes one target run.
type Config struct {
	TargetBinary   string
	TracerCommand  []string // external tracer argv; TargetBinary is appended
	TracerSource   TracerSource // in-process tracer (e.g. devtracer.Tracer); takes priority over TracerCommand
	EmulatorCmd    func(target string) *exec.Cmd
	SessionTimeout time.Duration
	Limits         sandbox.Limits
	ForkMax        int
	WorkerLimit    int
	DetectorConfig dispatch.DetectorConfig
	Sink           *report.Sink

	// RequireCgroup fails the session immediately if sandbox.Acquire could
	// not obtain a live cgroup handle, instead of degrading to unconfined
	// execution (spec.md §7, SandboxAcquisitionFailure).
	RequireCgroup bool

	// OnReport, when set, is invoked once per emitted report after it is
	// written to Sink. Callers use it to persist, broadcast, or publish the
	// report without the Session itself knowing about those sinks.
	OnReport func(rep verdict.Report)
}

// Session drives one target binary through the full state machine.
type Session struct {
	cfg          Config
	id           string
	state        State
	aggregator   *verdict.Aggregator
	router       *dispatch.Router
	controller   *sandbox.Controller
	tracer       *exec.Cmd
	tracerReader *bufio.Reader
	emulator     *exec.Cmd
	abortedBy    string

	pendingTracerBytes []byte
}

func New(cfg Config) *Session {
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = defaultSessionTimeout
	}
	return &Session{
		cfg:        cfg,
		id:         uuid.NewString(),
		state:      Init,
		aggregator: verdict.NewAggregator(cfg.TargetBinary),
		router:     dispatch.New(cfg.WorkerLimit, cfg.DetectorConfig),
	}
}

func (s *Session) State() State { return s.state }

// ID returns the identifier generated for this session in New.
func (s *Session) ID() string { return s.id }

// Run executes the full state machine. A failure at any step releases every
// resource acquired so far in reverse order before returning the error.
func (s *Session) Run(ctx context.Context) error {
	defer s.router.DetectorsReset()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SessionTimeout)
	defer cancel()

	if err := s.spawnTracer(); err != nil {
		return fmt.Errorf("spawn tracer: %w", err)
	}
	s.state = TracerSpawned

	s.controller = sandbox.Acquire(sessionName(s.cfg.TargetBinary), s.cfg.Limits)
	if s.cfg.RequireCgroup && s.controller.Handle == nil {
		s.releaseAfter(TracerSpawned)
		return fmt.Errorf("sandbox acquisition failure: no cgroup hierarchy available and --cgroup was required")
	}
	s.state = SandboxReady

	if err := s.spawnEmulator(ctx); err != nil {
		s.releaseAfter(TracerSpawned)
		return fmt.Errorf("spawn emulator: %w", err)
	}
	s.state = EmulatorRunning

	s.controller.StartWatchdog(ctx, func() { s.abortedBy = "watchdog" })
	defer s.controller.StopWatchdog()

	runErr := s.pumpEvents(ctx)

	s.state = Drain
	s.drain()

	s.state = Cleaned
	s.controller.Cleanup()
	s.killSurvivors()

	return runErr
}

func sessionName(target string) string {
	return "qguardian-" + strings.ReplaceAll(target, "/", "_")
}

func (s *Session) spawnTracer() error {
	if s.cfg.TracerSource != nil {
		s.cfg.TracerSource.Start()
		return nil
	}
	if len(s.cfg.TracerCommand) == 0 {
		return fmt.Errorf("no tracer command configured")
	}
	argv := append(append([]string{}, s.cfg.TracerCommand[1:]...), s.cfg.TargetBinary)
	s.tracer = exec.Command(s.cfg.TracerCommand[0], argv...)
	stdout, err := s.tracer.StdoutPipe()
	if err != nil {
		return err
	}
	s.tracerReader = bufio.NewReader(stdout)
	if err := s.tracer.Start(); err != nil {
		return err
	}
	s.awaitTracerReady()
	return nil
}

// awaitTracerReady waits up to tracerReadinessWait for the tracer's
// "Attaching" banner line, falling back to a timed pause if the line never
// arrives (spec.md §4.7: "confirmed by line 'Attaching' when available,
// else timed pause"). Lines consumed here are gone for good — readiness
// detection and the event loop share the same underlying pipe, so any
// non-banner bytes read while waiting are buffered and replayed to the
// event loop via readTracerChunk.
func (s *Session) awaitTracerReady() {
	type lineResult struct {
		line string
		err  error
	}
	lines := make(chan lineResult, 1)
	go func() {
		line, err := s.tracerReader.ReadString('\n')
		lines <- lineResult{line, err}
	}()
	select {
	case res := <-lines:
		if res.err == nil && strings.Contains(res.line, "Attaching") {
			return
		}
		if res.err == nil {
			s.pendingTracerBytes = append(s.pendingTracerBytes, []byte(res.line)...)
		}
	case <-time.After(tracerReadinessWait):
	}
}

func (s *Session) spawnEmulator(ctx context.Context) error {
	s.emulator = s.cfg.EmulatorCmd(s.cfg.TargetBinary)
	s.emulator.SysProcAttr = sandbox.PreExecSysProcAttr()
	if err := sandbox.WithForkCeiling(s.cfg.ForkMax, s.emulator.Start); err != nil {
		return err
	}
	if err := s.controller.Enroll(s.emulator.Process.Pid); err != nil {
		slog.Warn("cgroup enrollment failed", "error", err)
	}
	return nil
}

// pumpEvents runs the Parser over the tracer's stdout, dispatching each
// event to the Router and building/writing a report per event before the
// next event is read — the ordering guarantee of spec.md §5.
func (s *Session) pumpEvents(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- eventstream.Run(s.readTracerChunk, func(obj []byte) {
			s.handleCandidate(ctx, obj)
		})
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handleCandidate(ctx context.Context, obj []byte) {
	ev, err := detect.ParseEvent(obj)
	if err != nil {
		return // malformed fragments are dropped silently
	}
	verdicts := s.router.Dispatch(ctx, ev)
	rep, ok := s.aggregator.Build(verdicts)
	if !ok {
		return
	}
	if s.cfg.Sink != nil {
		if err := s.cfg.Sink.Write(rep.Text); err != nil {
			slog.Warn("report sink write failed", "error", err)
		}
	}
	if s.cfg.OnReport != nil {
		s.cfg.OnReport(rep)
	}
	for _, hr := range rep.HighRisk {
		if err := s.controller.Contain(hr.PID); err != nil {
			slog.Warn("containment action failed", "pid", hr.PID, "error", err)
		}
	}
}

// drain gives the emulator's exit a grace period during which the Parser
// keeps consuming buffered tracer output, then requests tracer termination
// and reads until EOF so terminal events are not lost (spec.md §4.7).
func (s *Session) drain() {
	if s.emulator != nil {
		_ = s.emulator.Wait()
	}
	time.Sleep(drainGracePeriod)
	s.stopTracer()
}

func (s *Session) killSurvivors() {
	s.stopTracer()
	if s.tracer != nil && s.tracer.Process != nil {
		_ = s.tracer.Wait()
	}
	if s.emulator != nil && s.emulator.Process != nil {
		_ = s.emulator.Process.Kill()
	}
}

func (s *Session) stopTracer() {
	if s.cfg.TracerSource != nil {
		if err := s.cfg.TracerSource.Close(); err != nil {
			slog.Warn("tracer source close failed", "error", err)
		}
		return
	}
	if s.tracer != nil && s.tracer.Process != nil {
		_ = s.tracer.Process.Kill()
	}
}

// releaseAfter is the failure-branch resource release: it tears down
// whatever was acquired through `upTo` in reverse order.
func (s *Session) releaseAfter(upTo State) {
	switch upTo {
	case TracerSpawned:
		if s.controller != nil {
			s.controller.Cleanup()
		}
		fallthrough
	case Init:
		s.stopTracer()
	}
}

// readTracerChunk is the eventstream.Run read function: it first replays
// any bytes buffered during awaitTracerReady, then reads from the
// in-process TracerSource if configured, else the shared tracer stdout
// reader.
func (s *Session) readTracerChunk(buf []byte) (int, error) {
	if len(s.pendingTracerBytes) > 0 {
		n := copy(buf, s.pendingTracerBytes)
		s.pendingTracerBytes = s.pendingTracerBytes[n:]
		return n, nil
	}
	if s.cfg.TracerSource != nil {
		n, err := s.cfg.TracerSource.Read(buf)
		if n == 0 && err == nil {
			// TracerSource.Read is non-blocking; back off briefly so an idle
			// ring buffer doesn't spin eventstream.Run at full CPU.
			time.Sleep(tracerSourcePollInterval)
		}
		return n, err
	}
	return s.tracerReader.Read(buf)
}
