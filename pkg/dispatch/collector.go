package dispatch

import (
	"context"
	"fmt"
	"sort"

	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// collect pops result chunks from the job's out list until every expected
// slot has been delivered. A pop timeout hands control to the fault
// detector, then collection resumes. Results for slots already delivered
// are dropped, which makes duplicate delivery after resubmission races
// harmless.
func (m *Master) collect(ctx context.Context, run *jobRun) error {
	ft := m.Options.ftInterval()
	for len(run.done) < run.plan.m {
		buf, ok, err := m.Store.BRPop(ctx, run.keys.Out, ft)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s", ErrInterrupted, err)
			}
			return fmt.Errorf("result pop failed: %w", err)
		}
		if !ok {
			if err := m.checkFaults(ctx, run); err != nil {
				if ctx.Err() != nil {
					return fmt.Errorf("%w: %s", ErrInterrupted, err)
				}
				return err
			}
			continue
		}
		slot, raw, err := wire.DecodeResult(buf)
		if err != nil {
			m.Log.Warn("Discarding malformed result", zap.Error(err))
			continue
		}
		if slot < 1 || slot > run.plan.m {
			m.Log.Warn("Discarding result for unknown slot", zap.Int("slot", slot))
			continue
		}
		if run.done[slot] {
			m.Log.Debug("Dropping duplicate result", zap.Int("slot", slot))
			continue
		}
		run.done[slot] = true
		if m.Metrics != nil {
			m.Metrics.ResultsReceived.Inc()
		}
		run.acc.add(slot, raw)
	}
	return nil
}

// accumulator folds delivered slot values through the user combine.
//
// Under single-level reduction values are buffered and folded in slot
// order once complete, so an order-sensitive combine sees index order
// regardless of worker arrival order. Under two-level reduction slots are
// independent and folded in arrival order with no initial value.
type accumulator struct {
	log     *zap.Logger
	combine CombineFunc
	ordered bool
	initial interface{}

	// ordered mode
	buffered map[int]interface{}
	// arrival mode
	acc    interface{}
	primed bool

	errs []*CombineError
}

func newAccumulator(log *zap.Logger, combine CombineFunc, ordered bool, initial interface{}) *accumulator {
	a := &accumulator{
		log:     log,
		combine: combine,
		ordered: ordered,
		initial: initial,
	}
	if ordered {
		a.buffered = make(map[int]interface{})
	}
	return a
}

func (a *accumulator) add(slot int, raw []byte) {
	var value interface{}
	if err := wire.UnmarshalValue(raw, &value); err != nil {
		a.log.Warn("Failed to decode result value",
			zap.Int("slot", slot), zap.Error(err))
		a.errs = append(a.errs, &CombineError{Slot: slot, Err: err})
		return
	}
	if a.ordered {
		a.buffered[slot] = value
		return
	}
	a.fold(slot, value)
}

func (a *accumulator) fold(slot int, value interface{}) {
	if a.combine == nil {
		// Raw collection without a combine: gather into a slice.
		if !a.primed {
			a.acc = []interface{}{}
			a.primed = true
		}
		a.acc = append(a.acc.([]interface{}), value)
		return
	}
	if !a.primed {
		if a.initial != nil {
			a.acc = a.initial
		} else {
			a.acc = value
			a.primed = true
			return
		}
		a.primed = true
	}
	next, err := a.combine(a.acc, value)
	if err != nil {
		a.log.Warn("Combine failed",
			zap.Int("slot", slot), zap.Error(err))
		a.errs = append(a.errs, &CombineError{Slot: slot, Err: err})
		return
	}
	a.acc = next
}

// finish folds any buffered values in slot order and returns the result
// together with the captured combine errors.
func (a *accumulator) finish() (interface{}, []*CombineError) {
	if a.ordered {
		slots := make([]int, 0, len(a.buffered))
		for slot := range a.buffered {
			slots = append(slots, slot)
		}
		sort.Ints(slots)
		if a.combine == nil {
			values := make([]interface{}, 0, len(slots))
			for _, slot := range slots {
				values = append(values, a.buffered[slot])
			}
			return values, a.errs
		}
		for _, slot := range slots {
			a.fold(slot, a.buffered[slot])
		}
	}
	return a.acc, a.errs
}
