// Package config loads qguardian's configuration from a YAML file, a
// .env file, and environment overrides, in that order of increasing
// precedence — adapted from the teacher's Config/applyEnvOverrides
// singleton pattern (internal/config/config.go in the original tree).
package config

import (
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Tracer     TracerConfig     `yaml:"tracer"`
	Session    SessionConfig    `yaml:"session"`
	Detectors  DetectorsConfig  `yaml:"detectors"`
	Ops        OpsConfig        `yaml:"ops"`
	Audit      AuditConfig      `yaml:"audit"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
	OpsBridge  OpsBridgeConfig  `yaml:"ops_bridge"`
	Seal       SealConfig       `yaml:"seal"`
	GRPC       GRPCConfig       `yaml:"grpc"`
}

// TracerConfig selects and configures the external (or dev) tracer.
type TracerConfig struct {
	Mode    string   `yaml:"mode"` // "external" | "ebpf-dev"
	Command []string `yaml:"command"`
}

// SessionConfig mirrors the CLI surface of spec.md §4.7's "minimum" flags.
type SessionConfig struct {
	CgroupName  string `yaml:"cgroup_name"`
	MemoryLimit string `yaml:"memory_limit"`
	CPUQuotaUS  int    `yaml:"cpu_quota_us"`
	PidsMax     int    `yaml:"pids_max"`
	ForkMax     int    `yaml:"fork_max"`
	TimeoutSec  int    `yaml:"timeout_sec"`
	WorkerLimit int    `yaml:"worker_limit"`
}

// DetectorsConfig exposes the per-detector thresholds this spec's Open
// Questions mark as implementer-configurable rather than hardcoded.
// FilterWriteToProcSelfMem is a pointer so "absent from YAML/env" (nil,
// keep the detector's own built-in default) is distinguishable from an
// operator explicitly setting it to false.
type DetectorsConfig struct {
	ForkBombThreshold        int   `yaml:"fork_bomb_threshold"`
	RaceConditionThreshold   int   `yaml:"race_condition_threshold"`
	FilterWriteToProcSelfMem *bool `yaml:"filter_write_to_proc_self_mem"`
}

// OpsConfig configures the HTTP listener serving /metrics and /healthz.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// AuditConfig selects the Audit Ledger backend.
type AuditConfig struct {
	Backend string        `yaml:"backend"` // "postgres" | "spanner" | "none"
	DSN     string        `yaml:"dsn"`
	Spanner SpannerConfig `yaml:"spanner"`
}

type SpannerConfig struct {
	ProjectID  string `yaml:"project_id"`
	InstanceID string `yaml:"instance_id"`
	DatabaseID string `yaml:"database_id"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"project_id"`
	TopicID   string `yaml:"topic_id"`
	Enabled   bool   `yaml:"enabled"`
}

type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	Enabled    bool   `yaml:"enabled"`
}

type OpsBridgeConfig struct {
	Enabled bool `yaml:"enabled"`
}

type SealConfig struct {
	KeyHex string `yaml:"key_hex"`
}

type GRPCConfig struct {
	Addr         string `yaml:"addr"`
	SpiffeSocket string `yaml:"spiffe_socket"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide singleton configuration, loading it from
// CONFIG_PATH (default "qguardian.yaml") on first access.
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("no .env file loaded", "error", err)
		}
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "qguardian.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		cfg.applyDefaults()
		instance = cfg
	})
	return instance
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Tracer.Mode = getEnv("QGUARDIAN_TRACER", c.Tracer.Mode)

	c.Session.MemoryLimit = getEnv("QGUARDIAN_MEMORY_LIMIT", c.Session.MemoryLimit)
	if v := getEnvInt("QGUARDIAN_CPU_QUOTA_US", 0); v > 0 {
		c.Session.CPUQuotaUS = v
	}
	if v := getEnvInt("QGUARDIAN_PIDS_MAX", 0); v > 0 {
		c.Session.PidsMax = v
	}
	if v := getEnvInt("QGUARDIAN_FORK_MAX", 0); v > 0 {
		c.Session.ForkMax = v
	}
	if v := getEnvInt("QGUARDIAN_TIMEOUT_SEC", 0); v > 0 {
		c.Session.TimeoutSec = v
	}

	if v := getEnvInt("QGUARDIAN_FORK_BOMB_THRESHOLD", 0); v > 0 {
		c.Detectors.ForkBombThreshold = v
	}
	if v := getEnvInt("QGUARDIAN_RACE_CONDITION_THRESHOLD", 0); v > 0 {
		c.Detectors.RaceConditionThreshold = v
	}
	if raw := os.Getenv("QGUARDIAN_RACE_FILTER_PROC_SELF_MEM"); raw != "" {
		v := raw == "true" || raw == "1"
		c.Detectors.FilterWriteToProcSelfMem = &v
	}

	c.Ops.Addr = getEnv("QGUARDIAN_OPS_ADDR", c.Ops.Addr)

	c.Audit.Backend = getEnv("QGUARDIAN_AUDIT_BACKEND", c.Audit.Backend)
	c.Audit.DSN = getEnv("QGUARDIAN_AUDIT_DSN", c.Audit.DSN)
	c.Audit.Spanner.ProjectID = getEnv("SPANNER_PROJECT_ID", c.Audit.Spanner.ProjectID)
	c.Audit.Spanner.InstanceID = getEnv("SPANNER_INSTANCE_ID", c.Audit.Spanner.InstanceID)
	c.Audit.Spanner.DatabaseID = getEnv("SPANNER_DATABASE_ID", c.Audit.Spanner.DatabaseID)

	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.PubSub.ProjectID = projectID
		c.CloudTasks.ProjectID = projectID
	}
	c.PubSub.TopicID = getEnv("QGUARDIAN_PUBSUB_TOPIC", c.PubSub.TopicID)
	c.PubSub.Enabled = getEnvBool("QGUARDIAN_PUBSUB_ENABLED", c.PubSub.Enabled)

	c.GRPC.Addr = getEnv("QGUARDIAN_GRPC_ADDR", c.GRPC.Addr)
	c.GRPC.SpiffeSocket = getEnv("SPIFFE_ENDPOINT_SOCKET", c.GRPC.SpiffeSocket)

	c.Seal.KeyHex = getEnv("QGUARDIAN_SEAL_KEY", c.Seal.KeyHex)
}

func (c *Config) applyDefaults() {
	if c.Tracer.Mode == "" {
		c.Tracer.Mode = "external"
	}
	if c.Session.MemoryLimit == "" {
		c.Session.MemoryLimit = "2G"
	}
	if c.Session.CPUQuotaUS == 0 {
		c.Session.CPUQuotaUS = 200_000
	}
	if c.Session.PidsMax == 0 {
		c.Session.PidsMax = 1000
	}
	if c.Session.ForkMax == 0 {
		c.Session.ForkMax = 50
	}
	if c.Session.TimeoutSec == 0 {
		c.Session.TimeoutSec = 60
	}
	if c.Session.WorkerLimit == 0 {
		c.Session.WorkerLimit = 10
	}
	if c.Detectors.ForkBombThreshold == 0 {
		c.Detectors.ForkBombThreshold = 50
	}
	if c.Detectors.RaceConditionThreshold == 0 {
		c.Detectors.RaceConditionThreshold = 5
	}
	if c.Ops.Addr == "" {
		c.Ops.Addr = ":9090"
	}
	if c.Audit.Backend == "" {
		if c.Audit.DSN != "" {
			c.Audit.Backend = "postgres"
		} else {
			c.Audit.Backend = "none"
		}
	}
	if c.PubSub.TopicID == "" {
		c.PubSub.TopicID = "qguardian-verdicts"
	}
	if c.CloudTasks.LocationID == "" {
		c.CloudTasks.LocationID = "us-central1"
	}
	if c.CloudTasks.QueueID == "" {
		c.CloudTasks.QueueID = "qguardian-cleanup-verify"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
