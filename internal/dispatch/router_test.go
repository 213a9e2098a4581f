package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qguardian/qguardian/internal/detect"
)

func TestRouter_DispatchUnionsEventAndEvtDetectors(t *testing.T) {
	r := New(0, DetectorConfig{})
	ev, err := detect.ParseEvent([]byte(`{"ts":1.0,"pid":1,"evt":"MMAP_SUM","meta":{"max_pages":70000}}`))
	require.NoError(t, err)

	verdicts := r.Dispatch(context.Background(), ev)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "MemoryCorruption", verdicts[0].Analyzer)
}

func TestRouter_DispatchRunsMultipleDetectorsOnSameEvent(t *testing.T) {
	r := New(0, DetectorConfig{})
	ev, err := detect.ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"EXEC","filename":"/bin/bash"}`))
	require.NoError(t, err)

	verdicts := r.Dispatch(context.Background(), ev)
	// CommandInjection fires on the shell filename; FilelessExecution does
	// not match this filename shape, so exactly one verdict is expected.
	require.Len(t, verdicts, 1)
	assert.Equal(t, "CommandInjection", verdicts[0].Analyzer)
}

func TestRouter_DispatchUnknownEventYieldsNoVerdicts(t *testing.T) {
	r := New(0, DetectorConfig{})
	ev, err := detect.ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"NOOP"}`))
	require.NoError(t, err)
	assert.Empty(t, r.Dispatch(context.Background(), ev))
}

func TestNew_AppliesDetectorConfigOverrides(t *testing.T) {
	filter := false
	r := New(0, DetectorConfig{
		ForkBombThreshold:        3,
		RaceConditionThreshold:   2,
		FilterWriteToProcSelfMem: &filter,
	})

	for _, d := range r.Detectors() {
		switch det := d.(type) {
		case *detect.ForkBomb:
			assert.Equal(t, 3, det.Threshold)
		case *detect.RaceCondition:
			assert.Equal(t, 2, det.Threshold)
			assert.False(t, det.FilterToProcSelfMem)
		}
	}
}

func TestRouter_DetectorsListsEveryRegisteredAnalyzer(t *testing.T) {
	r := New(0, DetectorConfig{})
	ids := map[string]bool{}
	for _, d := range r.Detectors() {
		ids[d.ID()] = true
	}
	for _, want := range []string{
		"AccessControl", "CommandInjection", "FilelessExecution", "ForkBomb",
		"InformationLeak", "MemoryCorruption", "RaceCondition", "ReverseShell",
		"AbnormalSignal", "Reconnaissance",
	} {
		assert.True(t, ids[want], "missing detector %s", want)
	}
}
