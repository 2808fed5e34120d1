package dispatch

import (
	"encoding/binary"
)

// Source produces the job's argument tuples in order.
// Next returns ok=false once the iteration is exhausted.
// Sources may be one-shot; the producer materializes them exactly once
// per submission.
type Source interface {
	Next() (args []interface{}, ok bool, err error)
}

// SliceSource iterates over a fixed argument list. It is restartable.
type SliceSource struct {
	Items [][]interface{}
	pos   int
}

// NewSliceSource returns a Source over the given tuples.
func NewSliceSource(items ...[]interface{}) *SliceSource {
	return &SliceSource{Items: items}
}

// IndexSource returns a Source yielding the single-argument tuples
// (1), (2), …, (n).
func IndexSource(n int) *SliceSource {
	items := make([][]interface{}, n)
	for i := range items {
		items[i] = []interface{}{i + 1}
	}
	return &SliceSource{Items: items}
}

// Next implements Source.
func (s *SliceSource) Next() ([]interface{}, bool, error) {
	if s.pos >= len(s.Items) {
		return nil, false, nil
	}
	args := s.Items[s.pos]
	s.pos++
	return args, true, nil
}

// Reset restarts the iteration.
func (s *SliceSource) Reset() { s.pos = 0 }

// StreamSource derives per-task RNG seed blobs.
// Seeds must be reproducible and independent of worker count; stream
// derivation itself is external to the master.
type StreamSource interface {
	Next() ([]byte, error)
}

// Snapshotter is implemented by stream sources whose state the master can
// save before drawing seeds and restore during cleanup.
type Snapshotter interface {
	Snapshot() (restore func())
}

// SeedSequence is the default StreamSource: a splittable counter stream
// derived from a base seed with splitmix64.
type SeedSequence struct {
	Seed    uint64
	counter uint64
}

// Next implements StreamSource.
func (s *SeedSequence) Next() ([]byte, error) {
	s.counter++
	x := s.Seed + s.counter*0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], x)
	return buf[:], nil
}

// Snapshot implements Snapshotter.
func (s *SeedSequence) Snapshot() func() {
	saved := s.counter
	return func() { s.counter = saved }
}

// Job describes one submission: N tasks, one envelope, one ID.
type Job struct {
	// Expr is the pre-serialized user expression, opaque to the master.
	Expr []byte
	// FreeSymbols is the set of free symbols the caller discovered in the
	// expression. Symbol discovery happens outside the master.
	FreeSymbols []string
	// Scope holds the caller's variable bindings by symbol name.
	Scope map[string]interface{}
	// Export lists symbols to include in the envelope beyond the
	// auto-discovered ones. Unresolved entries fail the submission.
	Export []string
	// NoExport lists symbols excluded from auto-discovery.
	NoExport []string
	// Packages the worker must load before executing the expression.
	Packages []string
	// Combine folds task values on the master. Nil collects the raw
	// values into an ordered slice.
	Combine CombineFunc
	// CombineName is the worker-resolvable symbol of Combine, used when
	// two-level reduction ships the pre-combine to workers.
	CombineName string
	// Initial seeds the fold. When nil, the first value primes the
	// accumulator.
	Initial interface{}
	// ErrorMode selects combine failure propagation.
	ErrorMode ErrorMode
	// Source produces the argument tuples.
	Source Source
	// Streams derives per-task seeds. Nil uses a zero-seeded SeedSequence.
	Streams StreamSource
}
