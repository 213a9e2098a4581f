package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaceCondition_DirtyCowShape(t *testing.T) {
	d := NewRaceCondition()
	d.Threshold = 2

	for i := 0; i < 3; i++ {
		ev, err := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.%d,"pid":1,"event":"MADVISE","advice":"MADV_DONTNEED"}`, i)))
		require.NoError(t, err)
		d.Observe(ev)
	}

	var last []Verdict
	for i := 0; i < 3; i++ {
		ev, err := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.%d,"pid":1,"event":"WRITE","file":"/proc/self/mem"}`, i)))
		require.NoError(t, err)
		if v := d.Observe(ev); v != nil {
			last = v
		}
	}
	require.Len(t, last, 1)
	assert.Equal(t, LevelHigh, last[0].Level)
}

func TestRaceCondition_UnfilteredWriteIgnoredByDefault(t *testing.T) {
	d := NewRaceCondition()
	d.Threshold = 1
	for i := 0; i < 3; i++ {
		ev, _ := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.%d,"pid":1,"event":"MADVISE","advice":"MADV_DONTNEED"}`, i)))
		d.Observe(ev)
	}
	ev, _ := ParseEvent([]byte(`{"ts":0.1,"pid":1,"event":"WRITE","file":"/tmp/other"}`))
	assert.Empty(t, d.Observe(ev), "WRITE to an unrelated file must not count when filtering is enabled")
}

func TestRaceCondition_FilterDisabledCountsAnyWrite(t *testing.T) {
	d := NewRaceCondition()
	d.Threshold = 1
	d.FilterToProcSelfMem = false
	for i := 0; i < 3; i++ {
		ev, _ := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.%d,"pid":1,"event":"MADVISE","advice":"MADV_DONTNEED"}`, i)))
		d.Observe(ev)
	}
	var last []Verdict
	for i := 0; i < 3; i++ {
		ev, _ := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.%d,"pid":1,"event":"WRITE","file":"/tmp/other"}`, i)))
		if v := d.Observe(ev); v != nil {
			last = v
		}
	}
	assert.NotEmpty(t, last)
}
