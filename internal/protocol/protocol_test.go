package protocol

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(ps []Phase) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Label
	}
	return out
}

func TestSkewExpansion(t *testing.T) {
	p := TestOfSkew()
	require.NoError(t, p.Validate())
	assert.Equal(t, []string{
		"Both", "BothActive",
		"LeftActive", "BothActive", "RightActive", "BothActive",
		"LeftActive", "BothActive", "RightActive", "BothActive",
	}, labels(p.Expand()))
	assert.Equal(t, 46*time.Second, p.Duration())
}

func TestBuiltins(t *testing.T) {
	for _, name := range BuiltinNames() {
		p, err := Builtin(name)
		require.NoError(t, err, name)
		assert.NoError(t, p.Validate(), name)
	}
	assert.Equal(t, 30*time.Second, HeadStability().Duration())
	assert.Equal(t, 30*time.Second, TestOfNystagmus().Duration())
	assert.Len(t, TestOfNystagmus().Expand(), 6)
	assert.Equal(t, time.Duration(0), BucketTest().Duration())

	p, err := Builtin("testofskew")
	require.NoError(t, err)
	assert.Equal(t, SkewName, p.Name)

	_, err = Builtin("tetris")
	assert.Error(t, err)
}

func TestParseYAML(t *testing.T) {
	src := []byte(`
name: SmoothPursuit
streams: head_eyes
phases:
  - label: fixate
    duration: 2s
loop:
  count: 2
  phases:
    - {label: sweep, duration: 1500ms}
final_tag: done
`)
	p, err := Parse(src)
	require.NoError(t, err)
	assert.Equal(t, "SmoothPursuit", p.Task)
	assert.Equal(t, []string{"fixate", "sweep", "sweep"}, labels(p.Expand()))
	assert.Equal(t, 5*time.Second, p.Duration())
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("name: x\nphases:\n  - label: a\n"))
	assert.ErrorContains(t, err, "duration must be positive")

	_, err = Parse([]byte("phases: []\n"))
	assert.ErrorContains(t, err, "name is required")

	_, err = Parse([]byte("name: x\nstreams: legs\nphases:\n  - {label: a, duration: 1s}\n"))
	assert.ErrorContains(t, err, "unknown stream set")

	_, err = Parse([]byte("name: [\n"))
	assert.Error(t, err)
}

func TestRoundTripBuiltinThroughFile(t *testing.T) {
	b, err := Marshal(TestOfSkew())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "skew.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	p, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, labels(TestOfSkew().Expand()), labels(p.Expand()))
	assert.Equal(t, TestOfSkew().Duration(), p.Duration())
}
