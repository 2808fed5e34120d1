// Package workersim implements the worker side of the work-queue wire
// contract, for end-to-end tests of the master.
//
// A simulated worker pops chunks from the shared pending list, loads the
// job envelope when the job ID changes, announces its claim with a start
// marker, keeps an alive key refreshed below the master's fault-tolerance
// interval, executes the task body, and pushes one result entry per
// output slot. Under two-level reduction it pre-combines the chunk before
// publishing.
package workersim

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.foreman.network/foreman/pkg/dispatch"
	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// Worker simulates one external worker on a queue.
type Worker struct {
	Log   *zap.Logger
	Store *store.Store
	Queue string
	Token string
	// PollTimeout bounds each pending list pop. Default 1s.
	PollTimeout time.Duration
	// Heartbeat is the alive key refresh interval. It must stay strictly
	// below the master's fault-tolerance interval, by a factor of two or
	// more. Default 1s.
	Heartbeat time.Duration
	// Execute runs the user task body on one argument tuple.
	Execute func(ctx context.Context, args wire.Args) (interface{}, error)
	// Combines resolves envelope combine names for two-level reduction.
	Combines map[string]dispatch.CombineFunc

	currentJob string
	envelope   *wire.Envelope
}

// errQueueRemoved signals that the worker observed a removed queue.
var errQueueRemoved = fmt.Errorf("queue removed")

// Run processes chunks until the context is canceled or the queue's
// liveness sentinel disappears. It maintains the advisory worker counter
// for its lifetime.
func (w *Worker) Run(ctx context.Context) error {
	if w.PollTimeout == 0 {
		w.PollTimeout = time.Second
	}
	if w.Heartbeat == 0 {
		w.Heartbeat = time.Second
	}
	keys := wire.NewQueueKeys(w.Queue)
	if err := w.Store.Redis.Incr(ctx, keys.Count).Err(); err != nil {
		return fmt.Errorf("failed to increment worker count: %w", err)
	}
	defer func() {
		decrCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = w.Store.Redis.Decr(decrCtx, keys.Count).Err()
	}()
	for {
		if err := w.step(ctx, keys); err == errQueueRemoved {
			return nil
		} else if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (w *Worker) step(ctx context.Context, keys wire.QueueKeys) error {
	live, err := w.Store.Exists(ctx, keys.Live)
	if err != nil {
		return err
	}
	if !live {
		w.Log.Info("Queue no longer live, stopping", zap.String("queue", w.Queue))
		return errQueueRemoved
	}
	buf, ok, err := w.Store.BRPop(ctx, keys.Pending, w.PollTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	chunk, err := wire.DecodeChunk(buf)
	if err != nil {
		w.Log.Warn("Discarding malformed chunk", zap.Error(err))
		return nil
	}
	if chunk.ID != w.currentJob {
		if err := w.loadEnvelope(ctx, chunk.ID); err != nil {
			return err
		}
		if w.envelope == nil {
			// Job already cleaned up; its stale chunk is discarded.
			return nil
		}
	}
	return w.runChunk(ctx, chunk)
}

func (w *Worker) loadEnvelope(ctx context.Context, jobID string) error {
	buf, ok, err := w.Store.Get(ctx, wire.NewJobKeys(w.Queue, jobID).Env)
	if err != nil {
		return err
	}
	if !ok {
		w.currentJob = ""
		w.envelope = nil
		return nil
	}
	env, err := wire.DecodeEnvelope(buf)
	if err != nil {
		return fmt.Errorf("invalid envelope for job %s: %w", jobID, err)
	}
	w.currentJob = jobID
	w.envelope = env
	w.Log.Debug("Loaded job environment",
		zap.String("job", jobID),
		zap.Strings("packages", env.Packages))
	return nil
}

func (w *Worker) runChunk(ctx context.Context, chunk *wire.Chunk) error {
	jobKeys := wire.NewJobKeys(w.Queue, chunk.ID)
	startKey := jobKeys.StartKey(w.Token)
	aliveKey := jobKeys.AliveKey(w.Token)
	marker, err := wire.EncodeStartMarker(chunk.Keys())
	if err != nil {
		return err
	}
	err = w.Store.Batch(ctx, func(b *store.Batch) error {
		b.Set(startKey, marker)
		b.Set(aliveKey, nil)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to claim chunk: %w", err)
	}
	heartCtx, stopHeart := context.WithCancel(ctx)
	var heart sync.WaitGroup
	heart.Add(1)
	go func() {
		defer heart.Done()
		ticker := time.NewTicker(w.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-heartCtx.Done():
				return
			case <-ticker.C:
				_ = w.Store.Set(heartCtx, aliveKey, nil)
			}
		}
	}()
	defer func() {
		stopHeart()
		heart.Wait()
	}()
	results, err := w.executeChunk(ctx, chunk)
	if err != nil {
		return err
	}
	// Publish results and release the claim atomically.
	return w.Store.Batch(ctx, func(b *store.Batch) error {
		b.RPush(jobKeys.Out, results...)
		b.Del(startKey, aliveKey)
		return nil
	})
}

func (w *Worker) executeChunk(ctx context.Context, chunk *wire.Chunk) ([][]byte, error) {
	if w.envelope.Combine != "" {
		return w.executeTwoLevel(ctx, chunk)
	}
	results := make([][]byte, 0, len(chunk.Tasks))
	for _, task := range chunk.Tasks {
		slot, err := strconv.Atoi(task.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid task key %q: %w", task.Key, err)
		}
		value, err := w.Execute(ctx, task.Args)
		if err != nil {
			return nil, fmt.Errorf("task %s failed: %w", task.Key, err)
		}
		buf, err := wire.EncodeResult(slot, value)
		if err != nil {
			return nil, err
		}
		results = append(results, buf)
	}
	return results, nil
}

// executeTwoLevel folds the whole chunk with the envelope's combine and
// publishes a single entry on the chunk's shared slot.
func (w *Worker) executeTwoLevel(ctx context.Context, chunk *wire.Chunk) ([][]byte, error) {
	combine, ok := w.Combines[w.envelope.Combine]
	if !ok {
		return nil, fmt.Errorf("unknown combine %q", w.envelope.Combine)
	}
	var acc interface{}
	primed := false
	for _, task := range chunk.Tasks {
		value, err := w.Execute(ctx, task.Args)
		if err != nil {
			return nil, fmt.Errorf("task %s failed: %w", task.Key, err)
		}
		if !primed {
			acc = value
			primed = true
			continue
		}
		acc, err = combine(acc, value)
		if err != nil {
			return nil, fmt.Errorf("worker combine failed: %w", err)
		}
	}
	if !primed {
		return nil, nil
	}
	slot, err := strconv.Atoi(chunk.Tasks[0].Key)
	if err != nil {
		return nil, fmt.Errorf("invalid slot key %q: %w", chunk.Tasks[0].Key, err)
	}
	buf, err := wire.EncodeResult(slot, acc)
	if err != nil {
		return nil, err
	}
	return [][]byte{buf}, nil
}
