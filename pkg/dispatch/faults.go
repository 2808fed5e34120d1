package dispatch

import (
	"context"
	"fmt"
	"sort"

	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// checkFaults reconciles started against alive markers on every result pop
// timeout. A task is lost iff some start marker records it while the
// matching alive key is absent; such tasks are rebuilt from the retained
// plan and re-pushed with their original keys. If the queue is empty with
// no started markers while the job is incomplete, every missing slot is
// resubmitted instead: a result was silently lost.
func (m *Master) checkFaults(ctx context.Context, run *jobRun) error {
	startKeys, err := m.Store.Keys(ctx, run.keys.StartPattern())
	if err != nil {
		return fmt.Errorf("failed to scan start markers: %w", err)
	}
	aliveKeys, err := m.Store.Keys(ctx, run.keys.AlivePattern())
	if err != nil {
		return fmt.Errorf("failed to scan alive keys: %w", err)
	}
	alive := make(map[string]struct{}, len(aliveKeys))
	for _, key := range aliveKeys {
		if token, ok := run.keys.AliveToken(key); ok {
			alive[token] = struct{}{}
		}
	}
	var faulted []string // start marker keys of vanished workers
	for _, key := range startKeys {
		token, ok := run.keys.StartToken(key)
		if !ok {
			continue
		}
		if _, ok := alive[token]; !ok {
			faulted = append(faulted, key)
		}
	}
	if len(faulted) > 0 {
		return m.resubmitFaulted(ctx, run, faulted)
	}
	if len(startKeys) > 0 {
		return nil
	}
	pending, err := m.Store.LLen(ctx, m.keys.Pending)
	if err != nil {
		return fmt.Errorf("failed to probe pending list: %w", err)
	}
	if pending == 0 && len(run.done) < run.plan.m {
		return m.resubmitMissing(ctx, run)
	}
	return nil
}

// resubmitFaulted rebuilds one chunk per recovered start marker,
// preserving the original task keys, deletes the markers and re-pushes
// the chunks in one transactional batch.
func (m *Master) resubmitFaulted(ctx context.Context, run *jobRun, markerKeys []string) error {
	markers, err := m.Store.MGet(ctx, markerKeys)
	if err != nil {
		return fmt.Errorf("failed to read start markers: %w", err)
	}
	var chunks [][]byte
	var indices []string
	tasks := 0
	for i, buf := range markers {
		if buf == nil {
			// Marker vanished between scan and read; the worker finished.
			continue
		}
		claimed, err := wire.DecodeStartMarker(buf)
		if err != nil {
			m.Log.Warn("Discarding malformed start marker",
				zap.String("key", markerKeys[i]), zap.Error(err))
			continue
		}
		chunk := &wire.Chunk{ID: run.jobID}
		for _, key := range claimed {
			pos, ok := run.plan.byKey[key]
			if !ok {
				m.Log.Warn("Start marker references unknown task key",
					zap.String("task", key))
				continue
			}
			for _, task := range run.plan.chunks[pos].Tasks {
				if task.Key == key {
					chunk.Tasks = append(chunk.Tasks, task)
				}
			}
			indices = append(indices, key)
		}
		if len(chunk.Tasks) == 0 {
			continue
		}
		tasks += len(chunk.Tasks)
		encoded, err := wire.EncodeChunk(chunk)
		if err != nil {
			return fmt.Errorf("failed to serialize resubmitted chunk: %w", err)
		}
		chunks = append(chunks, encoded)
	}
	err = m.Store.Batch(ctx, func(b *store.Batch) error {
		b.Del(markerKeys...)
		b.RPush(m.keys.Pending, chunks...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to resubmit tasks: %w", err)
	}
	if len(indices) > 0 {
		m.Log.Warn("Resubmitted tasks abandoned by vanished workers",
			zap.String("job", run.jobID),
			zap.Strings("tasks", indices))
		if m.Metrics != nil {
			m.Metrics.FaultsDetected.Inc()
			m.Metrics.TasksResubmitted.Add(float64(tasks))
		}
	}
	return nil
}

// resubmitMissing re-pushes the chunks covering every undelivered slot.
func (m *Master) resubmitMissing(ctx context.Context, run *jobRun) error {
	positions := make(map[int]struct{})
	for slot := 1; slot <= run.plan.m; slot++ {
		if run.done[slot] {
			continue
		}
		pos, ok := run.plan.bySlot[slot]
		if !ok {
			continue
		}
		positions[pos] = struct{}{}
	}
	if len(positions) == 0 {
		return nil
	}
	ordered := make([]int, 0, len(positions))
	for pos := range positions {
		ordered = append(ordered, pos)
	}
	sort.Ints(ordered)
	chunks := make([]*wire.Chunk, len(ordered))
	tasks := 0
	for i, pos := range ordered {
		chunks[i] = run.plan.chunks[pos]
		tasks += len(chunks[i].Tasks)
	}
	if err := m.pushChunks(ctx, chunks); err != nil {
		return err
	}
	m.Log.Warn("Resubmitted pending tasks on empty queue with no workers",
		zap.String("job", run.jobID),
		zap.Int("chunks", len(chunks)))
	if m.Metrics != nil {
		m.Metrics.TasksResubmitted.Add(float64(tasks))
	}
	return nil
}
