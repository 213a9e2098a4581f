package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseShell_ConnectThenDup2OnStdio(t *testing.T) {
	d := NewReverseShell()

	connect, err := ParseEvent([]byte(`{"ts":1.0,"pid":55,"event":"CONNECT"}`))
	require.NoError(t, err)
	assert.Empty(t, d.Observe(connect))

	dup2, err := ParseEvent([]byte(`{"ts":1.1,"pid":55,"event":"DUP2","oldfd":7,"newfd":1}`))
	require.NoError(t, err)
	verdicts := d.Observe(dup2)
	require.Len(t, verdicts, 1)
	assert.Equal(t, LevelCritical, verdicts[0].Level)

	// The per-pid connected state is cleared once fired; a second dup2 without a
	// fresh CONNECT must not re-alert.
	dup2Again, _ := ParseEvent([]byte(`{"ts":1.2,"pid":55,"event":"DUP2","oldfd":8,"newfd":2}`))
	assert.Empty(t, d.Observe(dup2Again))
}

func TestReverseShell_Dup2WithoutConnectIgnored(t *testing.T) {
	d := NewReverseShell()
	dup2, _ := ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"DUP2","oldfd":7,"newfd":1}`))
	assert.Empty(t, d.Observe(dup2))
}

func TestReverseShell_Dup2OnNonStdioFDIgnored(t *testing.T) {
	d := NewReverseShell()
	connect, _ := ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"CONNECT"}`))
	d.Observe(connect)
	dup2, _ := ParseEvent([]byte(`{"ts":1.1,"pid":1,"event":"DUP2","oldfd":7,"newfd":9}`))
	assert.Empty(t, d.Observe(dup2))
}
