package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qguardian/qguardian/internal/config"
	"github.com/qguardian/qguardian/internal/detect"
	"github.com/qguardian/qguardian/internal/verdict"
)

func TestListTargets_SkipsDirsAndNonExecutables(t *testing.T) {
	dir := t.TempDir()

	exe := filepath.Join(dir, "victim")
	require.NoError(t, os.WriteFile(exe, []byte("#!/bin/sh\n"), 0o755))

	notExe := filepath.Join(dir, "readme.txt")
	require.NoError(t, os.WriteFile(notExe, []byte("hi"), 0o644))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))

	targets, err := listTargets(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{exe}, targets)
}

func TestListTargets_MissingDirectoryErrors(t *testing.T) {
	_, err := listTargets(filepath.Join(t.TempDir(), "does-not-exist"))
	assert.Error(t, err)
}

func TestApplyFlagOverrides_OnlyAppliesNonZeroValues(t *testing.T) {
	cfg := &config.Config{}
	cfg.Session.MemoryLimit = "2G"
	cfg.Session.CPUQuotaUS = 200000

	applyFlagOverrides(cfg, flagOverrides{
		pidsMax:    500,
		tracerMode: "ebpf-dev",
	})

	assert.Equal(t, "2G", cfg.Session.MemoryLimit, "unset override must not clobber an existing value")
	assert.Equal(t, 200000, cfg.Session.CPUQuotaUS)
	assert.Equal(t, 500, cfg.Session.PidsMax)
	assert.Equal(t, "ebpf-dev", cfg.Tracer.Mode)
}

func TestApplyFlagOverrides_PubsubTopicEnablesPubsub(t *testing.T) {
	cfg := &config.Config{}
	applyFlagOverrides(cfg, flagOverrides{pubsubTopic: "qguardian-verdicts"})

	assert.Equal(t, "qguardian-verdicts", cfg.PubSub.TopicID)
	assert.True(t, cfg.PubSub.Enabled)
}

func TestResolveTracerCommand_EbpfDevSkipsExternalCommand(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tracer.Mode = "ebpf-dev"
	cfg.Tracer.Command = []string{"tracer-binary"}

	argv, err := resolveTracerCommand(cfg, "")
	require.NoError(t, err)
	assert.Nil(t, argv)
}

func TestResolveTracerCommand_OverrideWinsOverConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tracer.Command = []string{"configured-tracer"}

	argv, err := resolveTracerCommand(cfg, "cli-tracer")
	require.NoError(t, err)
	assert.Equal(t, []string{"cli-tracer"}, argv)
}

func TestResolveTracerCommand_FallsBackToConfigCommand(t *testing.T) {
	cfg := &config.Config{}
	cfg.Tracer.Command = []string{"configured-tracer", "--flag"}

	argv, err := resolveTracerCommand(cfg, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"configured-tracer", "--flag"}, argv)
}

func TestResolveTracerCommand_ErrorsWithNothingConfigured(t *testing.T) {
	cfg := &config.Config{}
	_, err := resolveTracerCommand(cfg, "")
	assert.Error(t, err)
}

func TestFanOutReport_NoSinksConfiguredIsANoop(t *testing.T) {
	fanOutReport(context.Background(), "session-1", "target", verdict.Report{}, nil, nil, nil)
}

type recordingStore struct {
	mu        sync.Mutex
	sessionID string
	verdicts  []detect.Verdict
	recorded  chan struct{}
}

func (s *recordingStore) RecordVerdict(ctx context.Context, sessionID string, v detect.Verdict) error {
	return s.RecordVerdicts(ctx, sessionID, []detect.Verdict{v})
}

func (s *recordingStore) RecordVerdicts(ctx context.Context, sessionID string, verdicts []detect.Verdict) error {
	s.mu.Lock()
	s.sessionID = sessionID
	s.verdicts = verdicts
	s.mu.Unlock()
	close(s.recorded)
	return nil
}

func (s *recordingStore) Close() error { return nil }

func TestFanOutReport_PersistsAllVerdictsEvenWithoutHighRisk(t *testing.T) {
	store := &recordingStore{recorded: make(chan struct{})}
	rep := verdict.Report{
		AllVerdicts: []detect.Verdict{{Analyzer: "Reconnaissance", Level: 5.0, PID: 9}},
	}

	fanOutReport(context.Background(), "session-low-risk", "target", rep, store, nil, nil)

	select {
	case <-store.recorded:
	case <-time.After(time.Second):
		t.Fatal("audit store was never called for a report with no high-risk verdicts")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, "session-low-risk", store.sessionID)
	require.Len(t, store.verdicts, 1)
	assert.Equal(t, "Reconnaissance", store.verdicts[0].Analyzer)
}
