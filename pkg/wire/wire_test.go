package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueKeys(t *testing.T) {
	keys := NewQueueKeys("jobs")
	assert.Equal(t, "jobs", keys.Pending)
	assert.Equal(t, "jobs.live", keys.Live)
	assert.Equal(t, "jobs.count", keys.Count)
}

func TestJobKeys(t *testing.T) {
	keys := NewJobKeys("jobs", "abc123")
	assert.Equal(t, "jobs.env.abc123", keys.Env)
	assert.Equal(t, "jobs.out.abc123", keys.Out)
	assert.Equal(t, "jobs.start.abc123.*", keys.StartPattern())
	assert.Equal(t, "jobs.alive.abc123.*", keys.AlivePattern())
	assert.Equal(t, "jobs.start.abc123.w1", keys.StartKey("w1"))
	assert.Equal(t, "jobs.alive.abc123.w1", keys.AliveKey("w1"))

	token, ok := keys.StartToken("jobs.start.abc123.w1")
	require.True(t, ok)
	assert.Equal(t, "w1", token)
	_, ok = keys.StartToken("jobs.start.other.w1")
	assert.False(t, ok)
	_, ok = keys.StartToken("jobs.start.abc123.")
	assert.False(t, ok)

	token, ok = keys.AliveToken("jobs.alive.abc123.w2")
	require.True(t, ok)
	assert.Equal(t, "w2", token)
}

func TestChunkRoundTrip(t *testing.T) {
	chunk := &Chunk{
		ID: "j1",
		Tasks: []Task{
			{Key: "1", Args: Args{float64(1), "seed1"}},
			{Key: "2", Args: Args{float64(2), "seed2"}},
		},
	}
	buf, err := EncodeChunk(chunk)
	require.NoError(t, err)
	decoded, err := DecodeChunk(buf)
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestChunkKeysDedupe(t *testing.T) {
	chunk := &Chunk{
		ID: "j1",
		Tasks: []Task{
			{Key: "3", Args: Args{float64(7)}},
			{Key: "3", Args: Args{float64(8)}},
			{Key: "3", Args: Args{float64(9)}},
		},
	}
	assert.Equal(t, []string{"3"}, chunk.Keys())
}

func TestDecodeChunkInvalid(t *testing.T) {
	_, err := DecodeChunk([]byte("not json"))
	assert.Error(t, err)
}

func TestResultRoundTrip(t *testing.T) {
	buf, err := EncodeResult(4, "hello")
	require.NoError(t, err)
	slot, raw, err := DecodeResult(buf)
	require.NoError(t, err)
	assert.Equal(t, 4, slot)
	var value string
	require.NoError(t, UnmarshalValue(raw, &value))
	assert.Equal(t, "hello", value)
}

func TestDecodeResultInvalid(t *testing.T) {
	for _, buf := range []string{
		"not json",
		`{}`,
		`{"1": 1, "2": 2}`,
		`{"x": 1}`,
	} {
		_, _, err := DecodeResult([]byte(buf))
		assert.Error(t, err, buf)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env := &Envelope{
		Expr: []byte("expr"),
		Bindings: map[string][]byte{
			"x": []byte("42"),
		},
		Packages: []string{"stats"},
		Combine:  "sum",
	}
	buf, err := EncodeEnvelope(env)
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(buf)
	require.NoError(t, err)
	assert.Equal(t, env, decoded)
}

func TestStartMarkerRoundTrip(t *testing.T) {
	buf, err := EncodeStartMarker([]string{"1", "2"})
	require.NoError(t, err)
	keys, err := DecodeStartMarker(buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, keys)
}
