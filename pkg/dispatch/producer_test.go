package dispatch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlanSingleLevel(t *testing.T) {
	job := &Job{Source: IndexSource(10)}
	p, err := buildPlan(job, "j1", 3, false)
	require.NoError(t, err)
	assert.Equal(t, 10, p.n)
	assert.Equal(t, 10, p.m)
	require.Len(t, p.chunks, 4)
	// Chunks group consecutive indices, keyed by task index.
	assert.Equal(t, []string{"1", "2", "3"}, p.chunks[0].Keys())
	assert.Equal(t, []string{"4", "5", "6"}, p.chunks[1].Keys())
	assert.Equal(t, []string{"10"}, p.chunks[3].Keys())
	for _, chunk := range p.chunks {
		assert.Equal(t, "j1", chunk.ID)
		for _, task := range chunk.Tasks {
			// Original argument plus the reserved seed.
			require.Len(t, task.Args, 2)
		}
	}
	// Index maps cover every task key and slot.
	for slot := 1; slot <= 10; slot++ {
		key := fmt.Sprint(slot)
		pos, ok := p.byKey[key]
		require.True(t, ok, key)
		assert.Equal(t, (slot-1)/3, pos)
		assert.Equal(t, pos, p.bySlot[slot])
	}
}

func TestBuildPlanTwoLevel(t *testing.T) {
	job := &Job{Source: IndexSource(10)}
	p, err := buildPlan(job, "j1", 3, true)
	require.NoError(t, err)
	assert.Equal(t, 10, p.n)
	assert.Equal(t, 4, p.m)
	require.Len(t, p.chunks, 4)
	// All tasks of a chunk share the chunk's slot key.
	assert.Equal(t, []string{"1"}, p.chunks[0].Keys())
	assert.Equal(t, []string{"4"}, p.chunks[3].Keys())
	assert.Len(t, p.chunks[0].Tasks, 3)
	assert.Len(t, p.chunks[3].Tasks, 1)
	for slot := 1; slot <= 4; slot++ {
		assert.Equal(t, slot-1, p.bySlot[slot])
	}
}

func TestBuildPlanEmptySource(t *testing.T) {
	job := &Job{Source: NewSliceSource()}
	p, err := buildPlan(job, "j1", 1, false)
	require.NoError(t, err)
	assert.Zero(t, p.n)
	assert.Zero(t, p.m)
	assert.Empty(t, p.chunks)
}

type failingSource struct{}

func (failingSource) Next() ([]interface{}, bool, error) {
	return nil, false, fmt.Errorf("iteration broke")
}

func TestBuildPlanSourceError(t *testing.T) {
	job := &Job{Source: failingSource{}}
	_, err := buildPlan(job, "j1", 1, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iteration broke")
}

func TestSeedSequenceReproducible(t *testing.T) {
	a := &SeedSequence{Seed: 42}
	b := &SeedSequence{Seed: 42}
	other := &SeedSequence{Seed: 43}
	var prev []byte
	for i := 0; i < 16; i++ {
		s1, err := a.Next()
		require.NoError(t, err)
		s2, err := b.Next()
		require.NoError(t, err)
		s3, err := other.Next()
		require.NoError(t, err)
		assert.Equal(t, s1, s2)
		assert.NotEqual(t, s1, s3)
		assert.NotEqual(t, prev, s1)
		prev = s1
	}
}

func TestSeedSequenceSnapshot(t *testing.T) {
	s := &SeedSequence{Seed: 7}
	restore := s.Snapshot()
	first, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)
	restore()
	replay, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, first, replay)
}

func TestSliceSourceReset(t *testing.T) {
	src := NewSliceSource([]interface{}{1}, []interface{}{2})
	args, ok, err := src.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{1}, args)
	_, ok, err = src.Next()
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = src.Next()
	require.NoError(t, err)
	assert.False(t, ok)
	src.Reset()
	args, ok, err = src.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{1}, args)
}
