package dispatch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap/zaptest"
)

func newTestMaster(t *testing.T) *Master {
	opts := DefaultOptions
	return &Master{
		Log:     zaptest.NewLogger(t),
		Options: &opts,
	}
}

func TestBuildEnvelopeAutoDiscovery(t *testing.T) {
	m := newTestMaster(t)
	job := &Job{
		Expr:        []byte("expr"),
		FreeSymbols: []string{"x", "y", "undefined"},
		NoExport:    []string{"y"},
		Scope: map[string]interface{}{
			"x": 42,
			"y": "hidden",
		},
	}
	buf, err := m.buildEnvelope(job, "")
	require.NoError(t, err)
	env, err := wire.DecodeEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("expr"), env.Expr)
	// x resolved, y excluded, the unresolvable free symbol skipped.
	require.Contains(t, env.Bindings, "x")
	assert.Equal(t, "42", string(env.Bindings["x"]))
	assert.NotContains(t, env.Bindings, "y")
	assert.NotContains(t, env.Bindings, "undefined")
}

func TestBuildEnvelopeExplicitExport(t *testing.T) {
	m := newTestMaster(t)
	m.registry.Export = []string{"global"}
	job := &Job{
		Expr:   []byte("expr"),
		Export: []string{"local"},
		Scope: map[string]interface{}{
			"local":  1,
			"global": 2,
		},
	}
	buf, err := m.buildEnvelope(job, "")
	require.NoError(t, err)
	env, err := wire.DecodeEnvelope(buf)
	require.NoError(t, err)
	assert.Contains(t, env.Bindings, "local")
	assert.Contains(t, env.Bindings, "global")
}

func TestBuildEnvelopeExportNotFound(t *testing.T) {
	m := newTestMaster(t)
	job := &Job{
		Expr:   []byte("expr"),
		Export: []string{"g"},
		Scope:  map[string]interface{}{},
	}
	_, err := m.buildEnvelope(job, "")
	require.ErrorIs(t, err, ErrExportNotFound)
	assert.Contains(t, err.Error(), `"g"`)
}

func TestBuildEnvelopeExportOverlap(t *testing.T) {
	m := newTestMaster(t)
	job := &Job{
		Expr:        []byte("expr"),
		FreeSymbols: []string{"x"},
		Export:      []string{"x"},
		Scope:       map[string]interface{}{"x": 1},
	}
	// Overlap between auto-discovery and explicit export is allowed.
	buf, err := m.buildEnvelope(job, "")
	require.NoError(t, err)
	env, err := wire.DecodeEnvelope(buf)
	require.NoError(t, err)
	assert.Contains(t, env.Bindings, "x")
}

func TestBuildEnvelopeTooLarge(t *testing.T) {
	m := newTestMaster(t)
	m.Options.MaxEnvelope = 64
	job := &Job{
		Expr: []byte(strings.Repeat("a", 128)),
	}
	_, err := m.buildEnvelope(job, "")
	require.ErrorIs(t, err, ErrEnvelopeTooLarge)
}

func TestBuildEnvelopeCombineAndPackages(t *testing.T) {
	m := newTestMaster(t)
	m.registry.Packages = []string{"stats", "shared"}
	job := &Job{
		Expr:     []byte("expr"),
		Packages: []string{"shared", "extra"},
	}
	buf, err := m.buildEnvelope(job, "sum")
	require.NoError(t, err)
	env, err := wire.DecodeEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, "sum", env.Combine)
	assert.Equal(t, []string{"stats", "shared", "extra"}, env.Packages)
}

func TestMergePackages(t *testing.T) {
	assert.Nil(t, mergePackages(nil, nil))
	assert.Equal(t, []string{"a", "b", "c"},
		mergePackages([]string{"a", "b"}, []string{"b", "c", "a"}))
}
