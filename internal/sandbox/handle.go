package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const cgroupPeriodUS = 100_000

// Handle abstracts the two cgroup hierarchy shapes the Containment
// Controller may acquire: a single path under cgroup v2, or one path per
// controller under cgroup v1. Both shapes support the same operations
// (spec.md §4.6: "Return a handle whose concrete type is either a single
// path (v2) or a mapping controller -> path (v1). Both shapes share the
// operations below.").
type Handle interface {
	// Enroll writes pid into every cgroup.procs file covered by the handle.
	Enroll(pid int) error
	// PIDs reads every PID currently present in the handle's process list(s).
	PIDs() ([]int, error)
	// MemoryCurrent reads the handle's current memory usage in bytes.
	MemoryCurrent() (int64, error)
	// PIDsCurrent reads the handle's current process count.
	PIDsCurrent() (int64, error)
	// Cleanup removes every directory owned by the handle. ENOENT, EROFS,
	// and EBUSY are swallowed; other errors are returned.
	Cleanup() error
}

// V2Handle is a single cgroup v2 subdirectory with memory, cpu, and pids
// controllers enabled through subtree_control.
type V2Handle struct {
	Path string
}

// AcquireV2 scans /proc/mounts for a cgroup2 mount, creates a subdirectory
// named name under it, enables the memory/cpu/pids controllers, and writes
// the given limits. cpuQuotaUS <= 0 leaves cpu.max at its default ("max").
func AcquireV2(name string, memoryLimit string, cpuQuotaUS int, pidsMax int) (*V2Handle, error) {
	mount, err := findCgroup2Mount()
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(mount, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir cgroup v2 subtree: %w", err)
	}
	if err := enableControllers(mount, "memory cpu pids"); err != nil {
		return nil, fmt.Errorf("enable v2 controllers: %w", err)
	}
	if memoryLimit != "" {
		if err := writeFile(filepath.Join(dir, "memory.max"), memoryLimit); err != nil {
			return nil, fmt.Errorf("write memory.max: %w", err)
		}
	}
	if cpuQuotaUS > 0 {
		quota := fmt.Sprintf("%d %d", cpuQuotaUS, cgroupPeriodUS)
		if err := writeFile(filepath.Join(dir, "cpu.max"), quota); err != nil {
			return nil, fmt.Errorf("write cpu.max: %w", err)
		}
	}
	if pidsMax > 0 {
		if err := writeFile(filepath.Join(dir, "pids.max"), strconv.Itoa(pidsMax)); err != nil {
			return nil, fmt.Errorf("write pids.max: %w", err)
		}
	}
	return &V2Handle{Path: dir}, nil
}

func (h *V2Handle) Enroll(pid int) error {
	return writeFile(filepath.Join(h.Path, "cgroup.procs"), strconv.Itoa(pid))
}

func (h *V2Handle) PIDs() ([]int, error) {
	return readPIDs(filepath.Join(h.Path, "cgroup.procs"))
}

func (h *V2Handle) MemoryCurrent() (int64, error) {
	return readInt64(filepath.Join(h.Path, "memory.current"))
}

func (h *V2Handle) PIDsCurrent() (int64, error) {
	return readInt64(filepath.Join(h.Path, "pids.current"))
}

func (h *V2Handle) Cleanup() error {
	return swallowRmdirErrors(os.Remove(h.Path))
}

// V1Handle is one subdirectory per available controller under the legacy
// per-controller cgroup v1 hierarchy.
type V1Handle struct {
	Paths map[string]string // controller -> path, e.g. "memory" -> ".../memory/qguardian-123"
}

// AcquireV1 creates one subdirectory per controller in {"memory","cpu","pids"}
// under /sys/fs/cgroup/<controller> and writes the equivalent v1 limit
// files. A controller whose hierarchy does not exist on this host is
// skipped rather than failing the whole acquisition.
func AcquireV1(name string, memoryLimit string, cpuQuotaUS int, pidsMax int) (*V1Handle, error) {
	h := &V1Handle{Paths: make(map[string]string)}
	for _, controller := range []string{"memory", "cpu", "pids"} {
		root := filepath.Join("/sys/fs/cgroup", controller)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			continue
		}
		h.Paths[controller] = dir
	}
	if len(h.Paths) == 0 {
		return nil, fmt.Errorf("no cgroup v1 controller hierarchies available")
	}
	if dir, ok := h.Paths["memory"]; ok && memoryLimit != "" {
		bytes, err := parseMemoryLimit(memoryLimit)
		if err == nil {
			_ = writeFile(filepath.Join(dir, "memory.limit_in_bytes"), strconv.FormatInt(bytes, 10))
		}
	}
	if dir, ok := h.Paths["cpu"]; ok && cpuQuotaUS > 0 {
		_ = writeFile(filepath.Join(dir, "cpu.cfs_quota_us"), strconv.Itoa(cpuQuotaUS))
		_ = writeFile(filepath.Join(dir, "cpu.cfs_period_us"), strconv.Itoa(cgroupPeriodUS))
	}
	if dir, ok := h.Paths["pids"]; ok && pidsMax > 0 {
		_ = writeFile(filepath.Join(dir, "pids.max"), strconv.Itoa(pidsMax))
	}
	return h, nil
}

func (h *V1Handle) Enroll(pid int) error {
	var lastErr error
	for _, dir := range h.Paths {
		if err := writeFile(filepath.Join(dir, "cgroup.procs"), strconv.Itoa(pid)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (h *V1Handle) PIDs() ([]int, error) {
	dir, ok := h.Paths["pids"]
	if !ok {
		for _, d := range h.Paths {
			dir = d
			break
		}
	}
	if dir == "" {
		return nil, nil
	}
	return readPIDs(filepath.Join(dir, "cgroup.procs"))
}

func (h *V1Handle) MemoryCurrent() (int64, error) {
	dir, ok := h.Paths["memory"]
	if !ok {
		return 0, nil
	}
	return readInt64(filepath.Join(dir, "memory.usage_in_bytes"))
}

func (h *V1Handle) PIDsCurrent() (int64, error) {
	dir, ok := h.Paths["pids"]
	if !ok {
		return 0, nil
	}
	return readInt64(filepath.Join(dir, "pids.current"))
}

func (h *V1Handle) Cleanup() error {
	var lastErr error
	for _, dir := range h.Paths {
		if err := swallowRmdirErrors(os.Remove(dir)); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func swallowRmdirErrors(err error) error {
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	if pe, ok := err.(*os.PathError); ok {
		switch pe.Err.Error() {
		case "read-only file system", "device or resource busy":
			return nil
		}
	}
	return err
}

func findCgroup2Mount() (string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return "", fmt.Errorf("read /proc/mounts: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 3 && fields[2] == "cgroup2" {
			return fields[1], nil
		}
	}
	return "", fmt.Errorf("no cgroup2 mount found")
}

func enableControllers(mount, controllers string) error {
	entry := ""
	for _, c := range strings.Fields(controllers) {
		entry += "+" + c + " "
	}
	return writeFile(filepath.Join(mount, "cgroup.subtree_control"), strings.TrimSpace(entry))
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func readInt64(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func readPIDs(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []int
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			continue
		}
		out = append(out, pid)
	}
	return out, nil
}

// parseMemoryLimit converts a "2G"/"512M"/"1024" style limit string into
// bytes for the v1 memory.limit_in_bytes file.
func parseMemoryLimit(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory limit")
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'G', 'g':
		mult = 1 << 30
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1 << 20
		s = s[:len(s)-1]
	case 'K', 'k':
		mult = 1 << 10
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}
