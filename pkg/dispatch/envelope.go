package dispatch

import (
	"fmt"

	"go.foreman.network/foreman/pkg/wire"
	"go.uber.org/zap"
)

// buildEnvelope captures the job's exported environment, packages and
// combine metadata. Auto-discovered symbols are the job's free symbols
// minus its NoExport set, resolved best-effort against the caller scope.
// Explicit exports (job plus registry) must resolve; a miss fails the
// submission. Nothing is written to the store here.
func (m *Master) buildEnvelope(job *Job, combineName string) ([]byte, error) {
	bindings := make(map[string][]byte)
	noExport := make(map[string]struct{}, len(job.NoExport))
	for _, name := range job.NoExport {
		noExport[name] = struct{}{}
	}
	auto := make(map[string]struct{})
	for _, name := range job.FreeSymbols {
		if _, skip := noExport[name]; skip {
			continue
		}
		value, ok := job.Scope[name]
		if !ok {
			continue
		}
		buf, err := wire.MarshalValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize binding %q: %w", name, err)
		}
		bindings[name] = buf
		auto[name] = struct{}{}
	}
	explicit := make([]string, 0, len(job.Export)+len(m.registry.Export))
	explicit = append(explicit, job.Export...)
	explicit = append(explicit, m.registry.Export...)
	for _, name := range explicit {
		if _, overlap := auto[name]; overlap {
			m.Log.Warn("Symbol exported both explicitly and by discovery",
				zap.String("symbol", name))
			continue
		}
		value, ok := job.Scope[name]
		if !ok {
			return nil, fmt.Errorf("%w: symbol %q", ErrExportNotFound, name)
		}
		buf, err := wire.MarshalValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize export %q: %w", name, err)
		}
		bindings[name] = buf
	}
	env := &wire.Envelope{
		Expr:     job.Expr,
		Bindings: bindings,
		Packages: mergePackages(m.registry.Packages, job.Packages),
		Combine:  combineName,
	}
	buf, err := wire.EncodeEnvelope(env)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize envelope: %w", err)
	}
	if int64(len(buf)) > m.Options.maxEnvelope() {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d byte bound",
			ErrEnvelopeTooLarge, len(buf), m.Options.maxEnvelope())
	}
	return buf, nil
}

// mergePackages concatenates the registry and job package lists,
// dropping duplicates while preserving order.
func mergePackages(registry, job []string) []string {
	seen := make(map[string]struct{}, len(registry)+len(job))
	var merged []string
	for _, list := range [][]string{registry, job} {
		for _, pkg := range list {
			if _, ok := seen[pkg]; ok {
				continue
			}
			seen[pkg] = struct{}{}
			merged = append(merged, pkg)
		}
	}
	return merged
}
