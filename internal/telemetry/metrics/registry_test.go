package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordDetectorFire_IncrementsCounter(t *testing.T) {
	r := New()
	r.RecordDetectorFire("fork_bomb", "high")
	r.RecordDetectorFire("fork_bomb", "high")

	got := testutil.ToFloat64(r.DetectorFires.WithLabelValues("fork_bomb", "high"))
	assert.Equal(t, float64(2), got)
}

func TestRecordContainmentAction_IncrementsCounter(t *testing.T) {
	r := New()
	r.RecordContainmentAction("terminated")

	got := testutil.ToFloat64(r.ContainmentActions.WithLabelValues("terminated"))
	assert.Equal(t, float64(1), got)
}

func TestObserveSession_RecordsDurationAndState(t *testing.T) {
	r := New()
	r.ObserveSession(2*time.Second, "CLEANED")

	got := testutil.ToFloat64(r.SessionsTotal.WithLabelValues("CLEANED"))
	assert.Equal(t, float64(1), got)
}

func TestNewServer_BuildsWithoutPanicking(t *testing.T) {
	r := New()
	s := NewServer(":0", r)
	assert.NotNil(t, s)
}
