package eventstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ExtractsObjectAmidBannerText(t *testing.T) {
	p := NewParser()
	input := "tracer booting...\n{\"event\":\"EXEC\",\"pid\":1}\nmore banner noise\n"
	candidates := p.Feed([]byte(input))
	require.Len(t, candidates, 1)
	assert.Equal(t, `{"event":"EXEC","pid":1}`, string(candidates[0]))
}

func TestParser_IgnoresBracesInsideStrings(t *testing.T) {
	p := NewParser()
	input := `{"event":"TRACK_OPENAT","file":"/tmp/{weird}.txt"}`
	candidates := p.Feed([]byte(input))
	require.Len(t, candidates, 1)
	assert.Equal(t, input, string(candidates[0]))
}

func TestParser_HandlesEscapedQuoteInsideString(t *testing.T) {
	p := NewParser()
	input := `{"event":"EXEC","filename":"a\"b{c}"}`
	candidates := p.Feed([]byte(input))
	require.Len(t, candidates, 1)
	assert.Equal(t, input, string(candidates[0]))
}

func TestParser_StripsControlCharacters(t *testing.T) {
	p := NewParser()
	input := "{\"event\":\"EXEC\x07\",\"pid\":1}"
	candidates := p.Feed([]byte(input))
	require.Len(t, candidates, 1)
	assert.NotContains(t, string(candidates[0]), "\x07")
}

func TestParser_MultipleObjectsAcrossChunks(t *testing.T) {
	p := NewParser()
	var got [][]byte
	got = append(got, p.Feed([]byte(`{"event":"A"`))...)
	got = append(got, p.Feed([]byte(`,"pid":1}{"event":"B","pid":2}`))...)
	require.Len(t, got, 2)
	assert.Equal(t, `{"event":"A","pid":1}`, string(got[0]))
	assert.Equal(t, `{"event":"B","pid":2}`, string(got[1]))
}

func TestParser_UnbalancedFragmentNeverEmitted(t *testing.T) {
	p := NewParser()
	candidates := p.Feed([]byte(`{"event":"A","pid":1`))
	assert.Empty(t, candidates)
}

func TestRun_DeliversEachObjectBeforeNextRead(t *testing.T) {
	chunks := [][]byte{
		[]byte(`{"event":"A"}`),
		[]byte(`{"event":"B"}`),
	}
	idx := 0
	read := func(buf []byte) (int, error) {
		if idx >= len(chunks) {
			return 0, assertDone{}
		}
		n := copy(buf, chunks[idx])
		idx++
		return n, nil
	}
	var handled []string
	err := Run(read, func(obj []byte) {
		handled = append(handled, string(obj))
	})
	var done assertDone
	assert.ErrorAs(t, err, &done)
	assert.Equal(t, []string{`{"event":"A"}`, `{"event":"B"}`}, handled)
}

type assertDone struct{}

func (assertDone) Error() string { return "done" }
