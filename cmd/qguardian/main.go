// Command qguardian runs the Runtime Syscall Detection & Containment
// Engine over every target binary in a directory: one tracer/emulator pair
// per target, under cgroup containment, with detector verdicts reported,
// persisted, and optionally fanned out to remote collectors and operator
// dashboards.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/qguardian/qguardian/internal/audit"
	"github.com/qguardian/qguardian/internal/config"
	"github.com/qguardian/qguardian/internal/devtracer"
	"github.com/qguardian/qguardian/internal/dispatch"
	"github.com/qguardian/qguardian/internal/grpcverdict"
	"github.com/qguardian/qguardian/internal/opsbridge"
	"github.com/qguardian/qguardian/internal/remote"
	"github.com/qguardian/qguardian/internal/report"
	"github.com/qguardian/qguardian/internal/sandbox"
	"github.com/qguardian/qguardian/internal/session"
	"github.com/qguardian/qguardian/internal/telemetry/metrics"
	"github.com/qguardian/qguardian/internal/verdict"
)

func main() {
	if err := run(); err != nil {
		slog.Error("qguardian: fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		requireCgroup = flag.Bool("cgroup", false, "fail the session if no cgroup hierarchy can be acquired")
		memoryLimit   = flag.String("memory-limit", "", "overrides session.memory_limit (e.g. 2G)")
		cpuQuotaUS    = flag.Int("cpu-quota", 0, "overrides session.cpu_quota_us")
		pidsMax       = flag.Int("pids-max", 0, "overrides session.pids_max")
		forkMax       = flag.Int("fork-max", 0, "overrides session.fork_max")
		timeoutSec    = flag.Int("timeout", 0, "overrides session.timeout_sec")
		tracerMode    = flag.String("tracer", "", "external|ebpf-dev, overrides tracer.mode")
		tracerCmd     = flag.String("tracer-cmd", "", "external tracer argv, space-separated")
		emulator      = flag.String("emulator", "", "emulator binary invoked as '<emulator> <target>'; empty execs the target directly")
		auditBackend  = flag.String("audit-backend", "", "postgres|spanner|none, overrides audit.backend")
		pubsubTopic   = flag.String("pubsub-topic", "", "overrides pubsub.topic_id")
		opsAddr       = flag.String("ops-addr", "", "overrides ops.addr")
		grpcAddr      = flag.String("grpc-addr", "", "overrides grpc.addr; empty disables the gRPC verdict service")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		return fmt.Errorf("usage: qguardian [flags] <target-directory>")
	}
	targetDir := flag.Arg(0)

	cfg := config.Get()
	applyFlagOverrides(cfg, flagOverrides{
		memoryLimit:  *memoryLimit,
		cpuQuotaUS:   *cpuQuotaUS,
		pidsMax:      *pidsMax,
		forkMax:      *forkMax,
		timeoutSec:   *timeoutSec,
		tracerMode:   *tracerMode,
		auditBackend: *auditBackend,
		pubsubTopic:  *pubsubTopic,
		opsAddr:      *opsAddr,
		grpcAddr:     *grpcAddr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, err := listTargets(targetDir)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("no target binaries found in %s", targetDir)
	}

	reg := metrics.New()
	opsServer := metrics.NewServer(cfg.Ops.Addr, reg)
	opsServer.Start()
	defer opsServer.Shutdown(context.Background())

	store, err := audit.NewStore(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("build audit store: %w", err)
	}
	defer store.Close()

	bridge := opsbridge.New()
	defer bridge.Close()

	var publisher *remote.VerdictPublisher
	if cfg.PubSub.Enabled {
		publisher, err = remote.NewVerdictPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			slog.Warn("pubsub publisher unavailable, continuing without remote fan-out", "error", err)
		} else {
			defer publisher.Close()
		}
	}

	var grpcServer *grpcServerHandle
	if cfg.GRPC.Addr != "" {
		grpcServer, err = startGRPCVerdictService(cfg, store)
		if err != nil {
			slog.Warn("grpc verdict service unavailable", "error", err)
		} else {
			defer grpcServer.stop()
		}
	}

	sink := report.NewSink(os.Stdout)

	tracerArgv, err := resolveTracerCommand(cfg, *tracerCmd)
	if err != nil {
		return err
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		runTarget(ctx, target, cfg, tracerArgv, *emulator, *requireCgroup, sink, reg, store, bridge, publisher)
	}

	return nil
}

type flagOverrides struct {
	memoryLimit  string
	cpuQuotaUS   int
	pidsMax      int
	forkMax      int
	timeoutSec   int
	tracerMode   string
	auditBackend string
	pubsubTopic  string
	opsAddr      string
	grpcAddr     string
}

func applyFlagOverrides(cfg *config.Config, o flagOverrides) {
	if o.memoryLimit != "" {
		cfg.Session.MemoryLimit = o.memoryLimit
	}
	if o.cpuQuotaUS > 0 {
		cfg.Session.CPUQuotaUS = o.cpuQuotaUS
	}
	if o.pidsMax > 0 {
		cfg.Session.PidsMax = o.pidsMax
	}
	if o.forkMax > 0 {
		cfg.Session.ForkMax = o.forkMax
	}
	if o.timeoutSec > 0 {
		cfg.Session.TimeoutSec = o.timeoutSec
	}
	if o.tracerMode != "" {
		cfg.Tracer.Mode = o.tracerMode
	}
	if o.auditBackend != "" {
		cfg.Audit.Backend = o.auditBackend
	}
	if o.pubsubTopic != "" {
		cfg.PubSub.TopicID = o.pubsubTopic
		cfg.PubSub.Enabled = true
	}
	if o.opsAddr != "" {
		cfg.Ops.Addr = o.opsAddr
	}
	if o.grpcAddr != "" {
		cfg.GRPC.Addr = o.grpcAddr
	}
}

func listTargets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var targets []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Mode()&0o111 == 0 {
			continue
		}
		targets = append(targets, filepath.Join(dir, e.Name()))
	}
	return targets, nil
}

func resolveTracerCommand(cfg *config.Config, override string) ([]string, error) {
	if cfg.Tracer.Mode == "ebpf-dev" {
		return nil, nil // dev tracer does not exec an external process
	}
	if override != "" {
		return strings.Fields(override), nil
	}
	if len(cfg.Tracer.Command) > 0 {
		return cfg.Tracer.Command, nil
	}
	return nil, fmt.Errorf("no tracer command configured (set tracer.command or --tracer-cmd, or --tracer ebpf-dev)")
}

func runTarget(
	ctx context.Context,
	target string,
	cfg *config.Config,
	tracerArgv []string,
	emulator string,
	requireCgroup bool,
	sink *report.Sink,
	reg *metrics.Registry,
	store audit.Store,
	bridge *opsbridge.Bridge,
	publisher *remote.VerdictPublisher,
) {
	start := time.Now()
	slog.Info("starting session", "target", target)

	var tracerSource session.TracerSource
	if cfg.Tracer.Mode == "ebpf-dev" {
		tr, err := devtracer.New()
		if err != nil {
			slog.Warn("dev tracer unavailable for this target, skipping", "target", target, "error", err)
			return
		}
		tracerSource = tr
	}

	sessionID := uuid.NewString()

	sessCfg := session.Config{
		TargetBinary:  target,
		TracerCommand: tracerArgv,
		TracerSource:  tracerSource,
		EmulatorCmd: func(t string) *exec.Cmd {
			if emulator == "" {
				return exec.Command(t)
			}
			return exec.Command(emulator, t)
		},
		SessionTimeout: time.Duration(cfg.Session.TimeoutSec) * time.Second,
		Limits: sandbox.Limits{
			MemoryLimit: cfg.Session.MemoryLimit,
			CPUQuotaUS:  cfg.Session.CPUQuotaUS,
			PIDsMax:     cfg.Session.PidsMax,
		},
		ForkMax:     cfg.Session.ForkMax,
		WorkerLimit: cfg.Session.WorkerLimit,
		DetectorConfig: dispatch.DetectorConfig{
			ForkBombThreshold:        cfg.Detectors.ForkBombThreshold,
			RaceConditionThreshold:   cfg.Detectors.RaceConditionThreshold,
			FilterWriteToProcSelfMem: cfg.Detectors.FilterWriteToProcSelfMem,
		},
		Sink:          sink,
		RequireCgroup: requireCgroup,
		OnReport: func(rep verdict.Report) {
			fanOutReport(ctx, sessionID, target, rep, store, bridge, publisher)
		},
	}

	sess := session.New(sessCfg)
	err := sess.Run(ctx)

	reg.ObserveSession(time.Since(start), sess.State().String())
	if err != nil {
		slog.Warn("session ended with error", "target", target, "error", err)
	}
}

// fanOutReport persists every verdict that reached the Aggregator to the
// Audit Ledger (SPEC_FULL.md §3: "written by C11 for every verdict that
// reaches the Aggregator, not just high-risk"), and broadcasts/publishes
// the report when it carries high-risk findings. Each sink is best-effort
// and failures are logged, never escalated to the session (spec.md §7:
// ledger/telemetry failures never delay or abort containment).
func fanOutReport(ctx context.Context, sessionID, target string, rep verdict.Report, store audit.Store, bridge *opsbridge.Bridge, publisher *remote.VerdictPublisher) {
	if store != nil && len(rep.AllVerdicts) > 0 {
		go func() {
			if err := store.RecordVerdicts(ctx, sessionID, rep.AllVerdicts); err != nil {
				slog.Warn("audit store write failed", "session", sessionID, "error", err)
			}
		}()
	}

	if len(rep.HighRisk) == 0 {
		return
	}
	if bridge != nil {
		go bridge.Broadcast(target, rep)
	}
	if publisher != nil {
		go publisher.Publish(target, rep)
	}
}

type grpcServerHandle struct {
	stopFn func()
}

func (h *grpcServerHandle) stop() { h.stopFn() }

func startGRPCVerdictService(cfg *config.Config, store audit.Store) (*grpcServerHandle, error) {
	srv := grpcverdict.NewServer(store)
	grpcSrv, lis, err := grpcverdict.Listen(cfg.GRPC.Addr, srv, cfg.GRPC.SpiffeSocket)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			slog.Warn("grpc verdict service stopped", "error", err)
		}
	}()
	return &grpcServerHandle{stopFn: grpcSrv.GracefulStop}, nil
}
