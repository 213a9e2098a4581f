package verdict

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qguardian/qguardian/internal/detect"
)

func TestAggregator_DropsErrorVerdictsAndEmptyReport(t *testing.T) {
	a := NewAggregator("victim-bin")
	report, ok := a.Build([]detect.Verdict{{Level: -1, Analyzer: "ForkBomb"}})
	assert.False(t, ok)
	assert.Empty(t, report.Text)
}

func TestAggregator_FramesReportWithDelimiter(t *testing.T) {
	a := NewAggregator("victim-bin")
	report, ok := a.Build([]detect.Verdict{
		{Level: detect.LevelHigh, Analyzer: "CommandInjection", PID: 42, Description: "exec of shell"},
	})
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(report.Text, delimiter+"\n"))
	assert.Contains(t, report.Text, "victim-bin")
	assert.Contains(t, report.Text, "CommandInjection")
}

func TestAggregator_HighRiskRequiresThresholdAndPositivePID(t *testing.T) {
	a := NewAggregator("victim-bin")
	report, ok := a.Build([]detect.Verdict{
		{Level: 9.5, Analyzer: "ReverseShell", PID: 7},
		{Level: 9.5, Analyzer: "ReverseShell", PID: 0}, // unresolved pid, excluded
		{Level: 5.0, Analyzer: "Reconnaissance", PID: 9},
	})
	require.True(t, ok)
	require.Len(t, report.HighRisk, 1)
	assert.Equal(t, int64(7), report.HighRisk[0].PID)
}

func TestAggregator_AllVerdictsIncludesBelowThresholdFindings(t *testing.T) {
	a := NewAggregator("victim-bin")
	report, ok := a.Build([]detect.Verdict{
		{Level: 9.5, Analyzer: "ReverseShell", PID: 7},
		{Level: 5.0, Analyzer: "Reconnaissance", PID: 9},
	})
	require.True(t, ok)
	require.Len(t, report.AllVerdicts, 2)
	require.Len(t, report.HighRisk, 1)
}

func TestAggregator_SeenPIDsAccumulateAcrossReports(t *testing.T) {
	a := NewAggregator("victim-bin")
	a.Build([]detect.Verdict{{Level: detect.LevelMedium, PID: 1}})
	a.Build([]detect.Verdict{{Level: detect.LevelMedium, PID: 2}})
	pids := a.SeenPIDs()
	assert.Len(t, pids, 2)
}
