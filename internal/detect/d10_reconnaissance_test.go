package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnaissance_SensitiveProcfsLink(t *testing.T) {
	d := NewReconnaissance()
	ev, err := ParseEvent([]byte(`{"ts":1.0,"pid":3,"event":"READLINKAT","path":"/proc/self/exe"}`))
	require.NoError(t, err)

	verdicts := d.Observe(ev)
	require.Len(t, verdicts, 1)
	assert.Equal(t, LevelMedium, verdicts[0].Level)
}

func TestReconnaissance_OtherPathIgnored(t *testing.T) {
	d := NewReconnaissance()
	ev, _ := ParseEvent([]byte(`{"ts":1.0,"pid":3,"event":"READLINKAT","path":"/home/user/file"}`))
	assert.Empty(t, d.Observe(ev))
}
