package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.foreman.network/foreman/pkg/store"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// Registry holds the process-scoped queue configuration.
// It is set by Register and cleared by RemoveQueue.
type Registry struct {
	Queue     string
	ChunkSize int
	Export    []string
	Packages  []string
	Reduce    ReduceSpec
}

// Master coordinates job submissions on one queue.
//
// A Master is single-threaded: Submit must not be called concurrently.
type Master struct {
	Log     *zap.Logger
	Store   *store.Store
	Options *Options
	Metrics *Metrics // optional

	registry Registry
	keys     wire.QueueKeys
	ownStore bool
}

// RegisterOptions configure Register.
type RegisterOptions struct {
	Queue string
	store.Options
	ChunkSize int // 0 means 1
}

// NewMaster returns a Master over an already-open store.
// Most callers use Register instead.
func NewMaster(log *zap.Logger, st *store.Store, opts *Options) *Master {
	if opts == nil {
		o := DefaultOptions
		opts = &o
	}
	return &Master{Log: log, Store: st, Options: opts}
}

// Register opens the store connection, seeds the registry, and marks the
// queue live. It fails if the store is unreachable.
func Register(ctx context.Context, log *zap.Logger, opts RegisterOptions) (*Master, error) {
	if opts.Queue == "" {
		return nil, fmt.Errorf("empty queue name")
	}
	st, err := store.Dial(ctx, log, opts.Options)
	if err != nil {
		return nil, err
	}
	m := NewMaster(log, st, nil)
	m.ownStore = true
	if err := m.RegisterQueue(ctx, opts.Queue, opts.ChunkSize); err != nil {
		_ = st.Close()
		return nil, err
	}
	return m, nil
}

// RegisterQueue seeds the registry for a queue on the Master's store and
// writes the liveness sentinel if absent.
func (m *Master) RegisterQueue(ctx context.Context, queue string, chunkSize int) error {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	keys := wire.NewQueueKeys(queue)
	exists, err := m.Store.Exists(ctx, keys.Live)
	if err != nil {
		return fmt.Errorf("failed to probe queue liveness: %w", err)
	}
	if !exists {
		if err := m.Store.Set(ctx, keys.Live, nil); err != nil {
			return fmt.Errorf("failed to mark queue live: %w", err)
		}
	}
	m.registry = Registry{Queue: queue, ChunkSize: chunkSize}
	m.keys = keys
	m.Log.Info("Registered queue",
		zap.String("queue", queue),
		zap.Int("chunk_size", chunkSize))
	return nil
}

// RemoveQueue tears the queue down: the pending list, every job envelope
// and result list, the worker counter and the liveness sentinel.
// Workers polling a removed queue observe no liveness sentinel and may
// terminate after their own idle timeout. Idempotent.
func (m *Master) RemoveQueue(ctx context.Context) error {
	queue := m.registry.Queue
	if queue == "" {
		return nil
	}
	keys := m.keys
	envKeys, err := m.Store.Keys(ctx, queue+".env.*")
	if err != nil {
		return fmt.Errorf("failed to scan envelopes: %w", err)
	}
	outKeys, err := m.Store.Keys(ctx, queue+".out.*")
	if err != nil {
		return fmt.Errorf("failed to scan result lists: %w", err)
	}
	err = m.Store.Batch(ctx, func(b *store.Batch) error {
		b.Del(keys.Pending, keys.Count, keys.Live)
		b.Del(envKeys...)
		b.Del(outKeys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove queue: %w", err)
	}
	m.Log.Info("Removed queue", zap.String("queue", queue))
	m.registry = Registry{}
	m.keys = wire.QueueKeys{}
	return nil
}

// Close releases the store connection if Register opened it.
func (m *Master) Close() error {
	if m.ownStore && m.Store != nil {
		return m.Store.Close()
	}
	return nil
}

// Registry returns a copy of the current registry state.
func (m *Master) Registry() Registry { return m.registry }

// SetChunkSize sets the maximum task indices per pushed chunk.
func (m *Master) SetChunkSize(n int) error {
	if n < 1 {
		return fmt.Errorf("chunk size must be >= 1, got %d", n)
	}
	m.registry.ChunkSize = n
	return nil
}

// SetReduce configures two-level reduction.
func (m *Master) SetReduce(spec ReduceSpec) {
	m.registry.Reduce = spec
}

// SetExport sets the process-wide explicit export list.
func (m *Master) SetExport(names []string) {
	m.registry.Export = append([]string(nil), names...)
}

// SetPackages sets the process-wide worker package list.
func (m *Master) SetPackages(pkgs []string) {
	m.registry.Packages = append([]string(nil), pkgs...)
}

// Info items.
const (
	InfoWorkers = "workers"
	InfoName    = "name"
	InfoVersion = "version"
)

// Info returns the advisory worker count, the implementation name, or the
// build version.
func (m *Master) Info(ctx context.Context, item string) (string, error) {
	switch item {
	case InfoName:
		return Name, nil
	case InfoVersion:
		return Version, nil
	case InfoWorkers:
		if m.registry.Queue == "" {
			return "", ErrNotRegistered
		}
		buf, ok, err := m.Store.Get(ctx, m.keys.Count)
		if err != nil {
			return "", fmt.Errorf("failed to read worker count: %w", err)
		}
		if !ok {
			return "0", nil
		}
		if _, err := strconv.Atoi(string(buf)); err != nil {
			return "", fmt.Errorf("invalid worker count %q: %w", buf, err)
		}
		return string(buf), nil
	default:
		return "", fmt.Errorf("unknown info item %q", item)
	}
}
