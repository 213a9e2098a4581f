package sandbox

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemoryLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"2G", 2 << 30},
		{"512M", 512 << 20},
		{"1024K", 1024 << 10},
		{"4096", 4096},
	}
	for _, tc := range cases {
		got, err := parseMemoryLimit(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseMemoryLimit_Empty(t *testing.T) {
	_, err := parseMemoryLimit("")
	assert.Error(t, err)
}

func TestSwallowRmdirErrors_NilAndNotExist(t *testing.T) {
	assert.NoError(t, swallowRmdirErrors(nil))
	assert.NoError(t, swallowRmdirErrors(&os.PathError{Op: "remove", Path: "missing", Err: os.ErrNotExist}))
}
