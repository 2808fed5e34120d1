package dispatch

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// cleanup removes every trace of the job from the store while preserving
// other masters' tasks on the shared pending list. It runs on normal
// completion, interrupt and collection failure, detached from the caller
// context so a canceled submission still cleans up.
func (m *Master) cleanup(run *jobRun) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.Options.cleanupTimeout())
	defer cancel()
	if run.plan != nil && run.plan.restore != nil {
		defer run.plan.restore()
	}
	startKeys, err := m.Store.Keys(ctx, run.keys.StartPattern())
	if err != nil {
		return fmt.Errorf("failed to scan start markers: %w", err)
	}
	// Snapshot and drop the pending list and this job's start markers in
	// one transactional scope, so no concurrent pop can race the filter.
	var snapshot *redis.StringSliceCmd
	err = m.Store.Batch(ctx, func(b *store.Batch) error {
		snapshot = b.LRange(m.keys.Pending, 0, -1)
		b.Del(m.keys.Pending)
		b.Del(startKeys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to drain pending list: %w", err)
	}
	var foreign [][]byte
	for _, entry := range snapshot.Val() {
		chunk, err := wire.DecodeChunk([]byte(entry))
		if err != nil {
			m.Log.Warn("Preserving undecodable pending entry", zap.Error(err))
			foreign = append(foreign, []byte(entry))
			continue
		}
		if chunk.ID != run.jobID {
			foreign = append(foreign, []byte(entry))
		}
	}
	err = m.Store.Batch(ctx, func(b *store.Batch) error {
		b.RPush(m.keys.Pending, foreign...)
		b.Del(run.keys.Env, run.keys.Out)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore pending list: %w", err)
	}
	m.Log.Debug("Cleaned up job",
		zap.String("job", run.jobID),
		zap.Int("restored_chunks", len(foreign)))
	return nil
}
