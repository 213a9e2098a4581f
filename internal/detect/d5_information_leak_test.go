package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInformationLeak_HeartbleedShape(t *testing.T) {
	d := NewInformationLeak()

	recv, err := ParseEvent([]byte(`{"ts":1.0,"pid":404,"event":"RECVFROM","size":16}`))
	require.NoError(t, err)
	assert.Empty(t, d.Observe(recv))

	send, err := ParseEvent([]byte(`{"ts":1.1,"pid":404,"event":"SENDTO","len":65536}`))
	require.NoError(t, err)
	verdicts := d.Observe(send)
	require.Len(t, verdicts, 1)
	assert.Equal(t, LevelHigh, verdicts[0].Level)
	assert.Contains(t, verdicts[0].Evidence, "65536")
	assert.Contains(t, verdicts[0].Evidence, "16")
}

func TestInformationLeak_NoPriorInboundNoAlert(t *testing.T) {
	d := NewInformationLeak()
	send, err := ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"SENDTO","len":65536}`))
	require.NoError(t, err)
	assert.Empty(t, d.Observe(send))
}

func TestInformationLeak_SmallOutboundNoAlert(t *testing.T) {
	d := NewInformationLeak()
	recv, _ := ParseEvent([]byte(`{"ts":1.0,"pid":1,"event":"RECVFROM","size":16}`))
	d.Observe(recv)
	send, _ := ParseEvent([]byte(`{"ts":1.1,"pid":1,"event":"SENDTO","len":32}`))
	assert.Empty(t, d.Observe(send))
}
