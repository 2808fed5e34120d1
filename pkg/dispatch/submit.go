package dispatch

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// jobRun is the per-submission state threaded through the collector, the
// fault detector and cleanup.
type jobRun struct {
	jobID string
	keys  wire.JobKeys
	plan  *plan
	acc   *accumulator
	done  map[int]bool
}

// Submit runs one job to completion: it publishes the envelope, streams
// the task chunks onto the shared queue, collects and reduces results, and
// cleans up the job's keys. The returned value is the total reduction of
// the user combine over all task indices in order; under two-level
// reduction the per-chunk results are folded in arrival order. Cancel the
// context to interrupt; cleanup still runs and the cause is returned.
func (m *Master) Submit(ctx context.Context, job *Job) (result interface{}, err error) {
	if m.registry.Queue == "" {
		return nil, ErrNotRegistered
	}
	if job.Source == nil {
		return nil, fmt.Errorf("job has no task source")
	}
	jobID, err := newJobID()
	if err != nil {
		return nil, err
	}
	run := &jobRun{
		jobID: jobID,
		keys:  wire.NewJobKeys(m.registry.Queue, jobID),
		done:  make(map[int]bool),
	}
	reduceFn, reduceName, twoLevel := m.resolveReduce(job)
	// Build the envelope before any store write, so a failed export or an
	// oversized envelope leaves no job keys behind.
	envelope, err := m.buildEnvelope(job, reduceName)
	if err != nil {
		return nil, err
	}
	run.plan, err = buildPlan(job, jobID, m.registry.ChunkSize, twoLevel)
	if err != nil {
		if run.plan != nil && run.plan.restore != nil {
			run.plan.restore()
		}
		return nil, err
	}
	if twoLevel {
		// Per-chunk combines arrive slot by slot; the master folds them in
		// arrival order with no initial value.
		run.acc = newAccumulator(m.Log, reduceFn, false, nil)
	} else {
		run.acc = newAccumulator(m.Log, job.Combine, true, job.Initial)
	}
	m.Log.Info("Submitting job",
		zap.String("queue", m.registry.Queue),
		zap.String("job", jobID),
		zap.Int("tasks", run.plan.n),
		zap.Int("slots", run.plan.m),
		zap.Bool("two_level", twoLevel))
	defer func() {
		if cleanupErr := m.cleanup(run); cleanupErr != nil {
			m.Log.Error("Cleanup failed", zap.Error(cleanupErr))
			err = multierr.Append(err, cleanupErr)
		}
	}()
	if err := m.Store.Set(ctx, run.keys.Env, envelope); err != nil {
		return nil, fmt.Errorf("failed to store envelope: %w", err)
	}
	if err := m.pushChunks(ctx, run.plan.chunks); err != nil {
		return nil, err
	}
	if err := m.collect(ctx, run); err != nil {
		return nil, err
	}
	value, combineErrs := run.acc.finish()
	if len(combineErrs) > 0 && job.ErrorMode == ErrorStop {
		errs := make([]error, len(combineErrs))
		for i, cerr := range combineErrs {
			errs[i] = cerr
		}
		return nil, fmt.Errorf("job %s: %w", jobID, multierr.Combine(errs...))
	}
	return value, nil
}

// resolveReduce maps the registry reduce setting to the effective
// master-side fold, the worker-resolvable combine name, and whether
// two-level reduction is active.
func (m *Master) resolveReduce(job *Job) (CombineFunc, string, bool) {
	switch m.registry.Reduce.Mode {
	case ReduceSame:
		return job.Combine, job.CombineName, true
	case ReduceExplicit:
		fn := m.registry.Reduce.Fn
		if fn == nil {
			fn = job.Combine
		}
		return fn, m.registry.Reduce.Name, true
	default:
		return nil, "", false
	}
}

// newJobID generates a token safe for use as a key suffix.
func newJobID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("failed to generate job ID: %w", err)
	}
	return hex.EncodeToString(id.Bytes()), nil
}
