// Package sandbox implements the Containment Controller (C6): cgroup scope
// acquisition, emulator enrollment, idempotent termination, cleanup, a
// watchdog, and the safe-termination fallback path for hosts without a
// usable cgroup hierarchy.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"time"
)

var watchdogInterval = 5 * time.Second
const defaultPIDsCeiling = 500
const cleanupSettleInterval = 100 * time.Millisecond

// Limits configures the resource ceilings applied to an acquired scope.
type Limits struct {
	MemoryLimit string // e.g. "2G", written as-is to memory.max
	CPUQuotaUS  int    // 0 disables the cpu controller limit
	PIDsMax     int    // 0 disables the pids controller limit
	PIDsCeiling int    // watchdog abort threshold; 0 selects defaultPIDsCeiling
}

// Controller owns one acquired cgroup scope for one target session. If no
// cgroup hierarchy could be acquired at all (neither v2 nor v1 — e.g.
// running unprivileged, or on a host without cgroups mounted), Handle is
// nil and the Controller falls back to killing process groups directly,
// mirroring the teacher's SandboxExecutor "demo mode" degrade when runsc is
// unavailable (internal/gvisor/sandbox_executor.go).
type Controller struct {
	Handle Handle
	limits Limits

	mu             sync.Mutex
	terminated     bool
	hiddenFailures map[int]error
	watchdogCancel context.CancelFunc
	onWatchdogTrip func()
}

// Acquire attempts cgroup v2 first, falling back to v1, per spec.md §4.6.
// name should be unique per session (e.g. "qguardian-<session-id>").
func Acquire(name string, limits Limits) *Controller {
	if h, err := AcquireV2(name, limits.MemoryLimit, limits.CPUQuotaUS, limits.PIDsMax); err == nil {
		return &Controller{Handle: h, limits: limits, hiddenFailures: make(map[int]error)}
	} else {
		slog.Warn("cgroup v2 acquisition failed, falling back to v1", "error", err)
	}
	if h, err := AcquireV1(name, limits.MemoryLimit, limits.CPUQuotaUS, limits.PIDsMax); err == nil {
		return &Controller{Handle: h, limits: limits, hiddenFailures: make(map[int]error)}
	} else {
		slog.Warn("cgroup v1 acquisition failed, running without cgroup containment", "error", err)
	}
	return &Controller{limits: limits, hiddenFailures: make(map[int]error)}
}

// PreExecSysProcAttr returns the SysProcAttr an emulator's exec.Cmd should
// carry before Start: a process-group leader (so the safe-termination
// fallback can signal the whole group). It does not set RLIMIT_NPROC;
// WithForkCeiling applies the fork ceiling around Start.
func PreExecSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// ApplyForkCeiling sets RLIMIT_NPROC for the current process. WithForkCeiling
// calls it on the parent just before the emulator is forked.
func ApplyForkCeiling(forkMax int) error {
	if forkMax <= 0 {
		return nil
	}
	limit := syscall.Rlimit{Cur: uint64(forkMax), Max: uint64(forkMax)}
	return syscall.Setrlimit(syscall.RLIMIT_NPROC, &limit)
}

// WithForkCeiling sets RLIMIT_NPROC on the calling process, runs spawn (the
// exec.Cmd.Start call that forks the emulator, which inherits the limit
// across fork), and restores the previous limit once spawn returns. Go's
// os/exec has no preexec_fn hook to set a child-only limit between fork and
// exec, so this is the idiomatic substitute: the limit is only ever in
// effect on the parent for the instant it takes to fork.
func WithForkCeiling(forkMax int, spawn func() error) error {
	if forkMax <= 0 {
		return spawn()
	}
	var previous syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NPROC, &previous); err != nil {
		return spawn()
	}
	if err := ApplyForkCeiling(forkMax); err != nil {
		slog.Warn("failed to apply fork ceiling", "error", err)
		return spawn()
	}
	defer func() {
		if err := syscall.Setrlimit(syscall.RLIMIT_NPROC, &previous); err != nil {
			slog.Warn("failed to restore rlimit after fork ceiling", "error", err)
		}
	}()
	return spawn()
}

// Enroll writes pid into the acquired cgroup's cgroup.procs file(s). If no
// cgroup handle was acquired this is a no-op — the emulator simply runs
// unconfined, degraded like the rest of the fallback path.
func (c *Controller) Enroll(pid int) error {
	if c.Handle == nil {
		return nil
	}
	time.Sleep(20 * time.Millisecond) // brief wait for process init, per spec.md §4.6
	return c.Handle.Enroll(pid)
}

// Terminate delivers SIGKILL to every PID currently in the cgroup scope.
// It is idempotent: once the scope is drained (or was never acquired),
// repeated calls are no-ops.
func (c *Controller) Terminate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminateLocked()
}

func (c *Controller) terminateLocked() error {
	if c.Handle == nil {
		c.terminated = true
		return nil
	}
	pids, err := c.Handle.PIDs()
	if err != nil {
		return fmt.Errorf("read cgroup pids: %w", err)
	}
	for _, pid := range pids {
		if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			slog.Warn("sigkill failed", "pid", pid, "error", err)
		}
		var ws syscall.WaitStatus
		_, _ = syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
	}
	c.terminated = true
	return nil
}

// Cleanup re-invokes Terminate, waits a short settle interval, then removes
// every directory owned by the handle. ENOENT/EROFS/EBUSY are swallowed by
// Handle.Cleanup; other errors are logged, never escalated (spec.md §7:
// containment failures are non-aborting).
func (c *Controller) Cleanup() {
	if err := c.Terminate(); err != nil {
		slog.Warn("containment terminate failed during cleanup", "error", err)
	}
	time.Sleep(cleanupSettleInterval)
	if c.Handle == nil {
		return
	}
	if err := c.Handle.Cleanup(); err != nil {
		slog.Error("containment cgroup cleanup failed", "error", err)
	}
}

// StartWatchdog launches the 5 s polling loop over the scope's pid count;
// memory usage is not read. onTrip is called
// (with Terminate already invoked) the first time the pids ceiling is
// exceeded; the Session Orchestrator uses it to mark the session
// aborted-by-watchdog. Safe to call at most once per Controller.
func (c *Controller) StartWatchdog(ctx context.Context, onTrip func()) {
	if c.Handle == nil {
		return // nothing to watch without an acquired scope
	}
	wctx, cancel := context.WithCancel(ctx)
	c.watchdogCancel = cancel
	c.onWatchdogTrip = onTrip

	ceiling := int64(c.limits.PIDsCeiling)
	if ceiling <= 0 {
		ceiling = int64(defaultPIDsCeiling)
	}

	go func() {
		ticker := time.NewTicker(watchdogInterval)
		defer ticker.Stop()
		for {
			select {
			case <-wctx.Done():
				return
			case <-ticker.C:
				pidsCurrent, err := c.Handle.PIDsCurrent()
				if err != nil {
					continue
				}
				if pidsCurrent > ceiling {
					slog.Warn("watchdog tripped: pids ceiling exceeded", "pids_current", pidsCurrent, "ceiling", ceiling)
					_ = c.Terminate()
					if c.onWatchdogTrip != nil {
						c.onWatchdogTrip()
					}
					return
				}
			}
		}
	}()
}

// StopWatchdog cancels the watchdog goroutine, if running.
func (c *Controller) StopWatchdog() {
	if c.watchdogCancel != nil {
		c.watchdogCancel()
	}
}

// Contain implements the safe-termination path requested by the Verdict
// Aggregator for a high-risk verdict: prefer full-cgroup collapse, falling
// back to killing the offending PID's process group. A process group that
// cannot be resolved is recorded in hiddenFailures rather than silently
// dropped (spec.md §4.6).
func (c *Controller) Contain(pid int64) error {
	if c.Handle != nil {
		return c.Terminate()
	}
	pgid, err := syscall.Getpgid(int(pid))
	if err != nil {
		c.mu.Lock()
		c.hiddenFailures[int(pid)] = err
		c.mu.Unlock()
		return fmt.Errorf("resolve process group for pid %d: %w", pid, err)
	}
	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		c.mu.Lock()
		c.hiddenFailures[int(pid)] = err
		c.mu.Unlock()
		return fmt.Errorf("kill process group %d: %w", pgid, err)
	}
	return nil
}

// HiddenFailures returns every PID whose containment could not be resolved
// to a killable process group, surfaced to the operator for the emergency
// sweep below.
func (c *Controller) HiddenFailures() map[int]error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]error, len(c.hiddenFailures))
	for k, v := range c.hiddenFailures {
		out[k] = v
	}
	return out
}

// OperatorSweep is the emergency escape hatch: on explicit operator
// consent, SIGKILL every PID in seenPIDs regardless of cgroup or process
// group membership. Used only when HiddenFailures is non-empty and an
// operator has decided the risk of over-killing is acceptable.
func (c *Controller) OperatorSweep(seenPIDs []int64) {
	for _, pid := range seenPIDs {
		if err := syscall.Kill(int(pid), syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			slog.Warn("operator sweep kill failed", "pid", pid, "error", err)
		}
	}
}
