package devtracer

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCString_StopsAtNulTerminator(t *testing.T) {
	buf := make([]byte, 16)
	copy(buf, "EXEC")
	assert.Equal(t, "EXEC", cString(buf))
}

func TestCString_EmptyWhenAllZero(t *testing.T) {
	assert.Equal(t, "", cString(make([]byte, 16)))
}

func TestDecode_ShortRecordIsIgnored(t *testing.T) {
	tr := &Tracer{}
	tr.decode([]byte{1, 2, 3})

	buf := make([]byte, 64)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDecode_ValidRecordProducesParseableJSON(t *testing.T) {
	tr := &Tracer{}

	raw := make([]byte, recordSize)
	binary.LittleEndian.PutUint32(raw[0:4], 4242)
	copy(raw[4:20], "EXEC")
	copy(raw[20:36], "bash")

	tr.decode(raw)

	buf := make([]byte, 256)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(buf[:n], &obj))
	assert.Equal(t, "EXEC", obj["event"])
	assert.Equal(t, "bash", obj["evt"])
	assert.Equal(t, float64(4242), obj["pid"])
}

func TestRead_EmptyBufferReturnsZero(t *testing.T) {
	tr := &Tracer{}
	buf := make([]byte, 16)
	n, err := tr.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
