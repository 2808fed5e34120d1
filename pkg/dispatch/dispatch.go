// Package dispatch implements the master side of an elastic work-queue
// protocol on a shared key/value store.
//
// A master submits a job composed of many independent tasks, streams them
// as chunks onto a shared pending list, collects result chunks in arbitrary
// arrival order, and folds them into a total, in-order reduction. Workers
// are external: they pop chunks, execute the opaque user payload, and push
// results. The master detects workers that vanished mid-chunk by
// reconciling start markers against heartbeat keys and resubmits the
// abandoned tasks, so the protocol is at-least-once with idempotent
// re-submission.
//
// Scheduling model
//
// The master is single-threaded cooperative. The only suspension point is
// the blocking pop on the job's result list; every other store access is a
// synchronous round trip, with multi-command sequences batched onto a
// transactional pipeline. All concurrency is extracted by however many
// workers pull from the shared list.
//
// Multi-master coexistence
//
// The pending list, the liveness sentinel and the worker counter are shared
// across masters. A master never deletes the pending list blindly: cleanup
// snapshots and removes it in one transactional scope, then restores every
// chunk belonging to other jobs in a second one.
package dispatch

import "time"

// Name identifies this implementation to callers of Info.
const Name = "foreman"

// Version is the build version reported by Info.
const Version = "0.1.0"

// MinFTInterval is the lower clamp on the fault-tolerance polling period.
const MinFTInterval = 3 * time.Second

// DefaultMaxEnvelope caps the serialized job envelope size.
const DefaultMaxEnvelope = 500 << 20 // 500 MiB

// Options stores master-wide settings.
type Options struct {
	// FTInterval is the fault-tolerance polling period: the result pop
	// timeout after which the fault detector runs. Clamped to MinFTInterval.
	FTInterval time.Duration
	// MaxEnvelope caps the serialized envelope size in bytes.
	MaxEnvelope int64
	// CleanupTimeout bounds the store round trips of the cleanup path,
	// which runs detached from the (possibly canceled) caller context.
	CleanupTimeout time.Duration
}

// DefaultOptions returns the default master options.
// Only pass by value, not reference, to avoid modifying this globally.
var DefaultOptions = Options{
	FTInterval:     30 * time.Second,
	MaxEnvelope:    DefaultMaxEnvelope,
	CleanupTimeout: time.Minute,
}

// ftInterval returns the clamped fault-tolerance interval.
func (o *Options) ftInterval() time.Duration {
	if o.FTInterval < MinFTInterval {
		return MinFTInterval
	}
	return o.FTInterval
}

func (o *Options) maxEnvelope() int64 {
	if o.MaxEnvelope <= 0 {
		return DefaultMaxEnvelope
	}
	return o.MaxEnvelope
}

func (o *Options) cleanupTimeout() time.Duration {
	if o.CleanupTimeout <= 0 {
		return DefaultOptions.CleanupTimeout
	}
	return o.CleanupTimeout
}
