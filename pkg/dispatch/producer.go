package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// plan is the master's retained view of a job's tasks: the materialized
// chunks in push order plus the indexes the fault detector needs to
// rebuild any of them.
type plan struct {
	n        int  // task count
	m        int  // expected output slots
	twoLevel bool // chunk keys encode slots instead of task indices
	chunks   []*wire.Chunk
	// byKey maps a chunk task key to its chunk position, so resubmission
	// can rebuild the chunk a faulted worker had claimed.
	byKey map[string]int
	// bySlot maps an output slot number to its chunk position.
	bySlot  map[int]int
	restore func() // RNG state restore hook, may be nil
}

// buildPlan materializes the job's argument tuples, appends the per-task
// seed to each, and groups consecutive 1-indexed tasks into chunks of at
// most chunkSize. Under two-level reduction all tasks of a chunk share
// one slot key; otherwise every task keys its own index.
func buildPlan(job *Job, jobID string, chunkSize int, twoLevel bool) (*plan, error) {
	streams := job.Streams
	if streams == nil {
		streams = new(SeedSequence)
	}
	var restore func()
	if snap, ok := streams.(Snapshotter); ok {
		restore = snap.Snapshot()
	}
	var argsList []wire.Args
	for {
		args, ok, err := job.Source.Next()
		if err != nil {
			return nil, fmt.Errorf("task source failed: %w", err)
		}
		if !ok {
			break
		}
		seed, err := streams.Next()
		if err != nil {
			return nil, fmt.Errorf("stream source failed: %w", err)
		}
		tuple := make(wire.Args, 0, len(args)+1)
		tuple = append(tuple, args...)
		tuple = append(tuple, seed)
		argsList = append(argsList, tuple)
	}
	n := len(argsList)
	p := &plan{
		n:        n,
		twoLevel: twoLevel,
		byKey:    make(map[string]int),
		bySlot:   make(map[int]int),
		restore:  restore,
	}
	for start := 0; start < n; start += chunkSize {
		end := start + chunkSize
		if end > n {
			end = n
		}
		chunk := &wire.Chunk{ID: jobID}
		slot := len(p.chunks) + 1
		for i := start; i < end; i++ {
			key := strconv.Itoa(i + 1)
			if twoLevel {
				key = strconv.Itoa(slot)
			}
			chunk.Tasks = append(chunk.Tasks, wire.Task{Key: key, Args: argsList[i]})
		}
		pos := len(p.chunks)
		p.chunks = append(p.chunks, chunk)
		for _, key := range chunk.Keys() {
			p.byKey[key] = pos
			keySlot, err := strconv.Atoi(key)
			if err != nil {
				return nil, fmt.Errorf("invalid chunk key %q: %w", key, err)
			}
			p.bySlot[keySlot] = pos
		}
	}
	if twoLevel {
		p.m = len(p.chunks)
	} else {
		p.m = n
	}
	return p, nil
}

// pushChunks appends the plan's chunks to the pending list tail in index
// order through one transactional batch.
func (m *Master) pushChunks(ctx context.Context, chunks []*wire.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	encoded := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		buf, err := wire.EncodeChunk(chunk)
		if err != nil {
			return fmt.Errorf("failed to serialize chunk: %w", err)
		}
		encoded[i] = buf
	}
	err := m.Store.Batch(ctx, func(b *store.Batch) error {
		b.RPush(m.keys.Pending, encoded...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push chunks: %w", err)
	}
	if m.Metrics != nil {
		m.Metrics.ChunksPushed.Add(float64(len(chunks)))
	}
	m.Log.Debug("Pushed chunks",
		zap.String("queue", m.registry.Queue),
		zap.Int("chunks", len(chunks)))
	return nil
}
