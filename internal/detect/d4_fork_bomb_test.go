package detect

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForkBomb_AlertsOnceThresholdCrossed(t *testing.T) {
	d := NewForkBomb()
	d.Threshold = 3

	var last []Verdict
	for i := 0; i < 5; i++ {
		ev, err := ParseEvent([]byte(fmt.Sprintf(`{"ts":0.5,"pid":%d,"event":"TRACK_FORK"}`, i)))
		require.NoError(t, err)
		if v := d.Observe(ev); v != nil {
			last = v
		}
	}
	require.Len(t, last, 1, "alert fires exactly once for the window")
	assert.Equal(t, LevelHigh, last[0].Level)
}

func TestForkBomb_SeparateWindowsAlertIndependently(t *testing.T) {
	d := NewForkBomb()
	d.Threshold = 1

	ev1, _ := ParseEvent([]byte(`{"ts":0.1,"pid":1,"event":"TRACK_FORK"}`))
	ev2, _ := ParseEvent([]byte(`{"ts":0.1,"pid":2,"event":"TRACK_FORK"}`))
	_ = d.Observe(ev1)
	first := d.Observe(ev2)
	second := d.Observe(ev2)
	assert.NotEmpty(t, first)
	assert.Empty(t, second, "same window must not re-alert")

	ev3, _ := ParseEvent([]byte(`{"ts":10.1,"pid":3,"event":"TRACK_FORK"}`))
	_ = d.Observe(ev3)
	third := d.Observe(ev3)
	assert.NotEmpty(t, third, "a later window alerts on its own count")
}
