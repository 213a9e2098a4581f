package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessControl_PrivilegeEscalation(t *testing.T) {
	d := NewAccessControl()
	ev, err := ParseEvent([]byte(`{"ts":1.0,"pid":100,"event":"SETUID","uid":0}`))
	require.NoError(t, err)

	verdicts := d.Observe(ev)
	require.Len(t, verdicts, 1)
	assert.Equal(t, LevelHigh, verdicts[0].Level)
	assert.Equal(t, int64(100), verdicts[0].PID)
}

func TestAccessControl_PathTraversalAndSensitiveFile(t *testing.T) {
	d := NewAccessControl()
	ev, err := ParseEvent([]byte(`{"ts":1.0,"pid":200,"event":"TRACK_OPENAT","file":"/var/www/../../../etc/passwd"}`))
	require.NoError(t, err)

	verdicts := d.Observe(ev)
	require.Len(t, verdicts, 2, "a traversal path ending in a sensitive file must fire both checks")

	var sawTraversal, sawSensitive bool
	for _, v := range verdicts {
		switch v.Description[:4] {
		case "Path":
			sawTraversal = true
		case "Sens":
			sawSensitive = true
		}
	}
	assert.True(t, sawTraversal)
	assert.True(t, sawSensitive)
}

func TestAccessControl_BenignOpenat(t *testing.T) {
	d := NewAccessControl()
	ev, err := ParseEvent([]byte(`{"ts":1.0,"pid":300,"event":"TRACK_OPENAT","file":"/tmp/data.txt"}`))
	require.NoError(t, err)

	assert.Empty(t, d.Observe(ev))
}
