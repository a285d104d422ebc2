package workload

import (
	"errors"
	"fmt"
	"time"

	"github.com/recera/fiberflow/pkg/instr"
	"github.com/recera/fiberflow/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// ErrDuplicateFiber is returned by Compile when two fibers in the same
// document share a name.
var ErrDuplicateFiber = errors.New("workload: duplicate fiber name")

// Parse decodes a workload document from YAML.
func Parse(data []byte) (*Doc, error) {
	var doc Doc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("workload: parse: %w", err)
	}
	return &doc, nil
}

// Compile creates (but does not start) one fiber per FiberSpec in doc,
// returning them keyed by name so a caller can Start whichever it wants
// as entrypoints — a "spawn" step starts the rest on demand.
func Compile(doc *Doc) (map[string]*scheduler.Fiber, error) {
	registry := make(map[string]*scheduler.Fiber, len(doc.Fibers))
	programs := make(map[string]*program, len(doc.Fibers))

	for i := range doc.Fibers {
		spec := &doc.Fibers[i]
		if _, exists := registry[spec.Name]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateFiber, spec.Name)
		}
		p := &program{spec: spec, registry: registry}
		f := scheduler.NewFiber(scheduler.Body{Sequence: p})
		registry[spec.Name] = f
		programs[spec.Name] = p
	}
	return registry, nil
}

// program drives one FiberSpec's steps as a lazy StepSequence.
type program struct {
	spec     *FiberSpec
	idx      int
	registry map[string]*scheduler.Fiber
}

func (p *program) Step() (instr.StepOutcome, error) {
	if p.idx >= len(p.spec.Steps) {
		return instr.Done(), nil
	}
	st := p.spec.Steps[p.idx]
	p.idx++

	switch {
	case st.Sleep != "":
		d, err := time.ParseDuration(st.Sleep)
		if err != nil {
			return instr.StepOutcome{}, fmt.Errorf("workload: fiber %q step %d: %w", p.spec.Name, p.idx, err)
		}
		return instr.Yielded(instr.YieldForDuration(d)), nil

	case st.Spawn != "":
		target, ok := p.registry[st.Spawn]
		if !ok {
			return instr.StepOutcome{}, fmt.Errorf("workload: fiber %q step %d: spawn target %q not found", p.spec.Name, p.idx, st.Spawn)
		}
		sched := schedulerOf(p.registry)
		if sched != nil {
			if err := target.Start(sched); err != nil && !errors.Is(err, scheduler.ErrInvalidState) {
				return instr.StepOutcome{}, err
			}
		}
		return instr.Yielded(instr.YieldToAny()), nil

	case st.Wait != "":
		target, ok := p.registry[st.Wait]
		if !ok {
			return instr.StepOutcome{}, fmt.Errorf("workload: fiber %q step %d: wait target %q not found", p.spec.Name, p.idx, st.Wait)
		}
		return instr.Yielded(instr.YieldUntilComplete(target)), nil

	case st.Result != nil:
		return instr.Yielded(instr.ResultSet(st.Result)), nil

	default:
		return instr.Yielded(instr.YieldToAny()), nil
	}
}

// schedulerOf finds any already-started fiber in the registry to recover
// the scheduler a "spawn" step should start its target on — every fiber
// compiled from the same document is started on the same scheduler by
// convention, so the first bound one tells us which.
func schedulerOf(registry map[string]*scheduler.Fiber) *scheduler.Scheduler {
	for _, f := range registry {
		if s := f.Scheduler(); s != nil {
			return s
		}
	}
	return nil
}
