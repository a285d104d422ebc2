// Package instr defines the closed set of instructions a fiber step can
// produce. The scheduler interprets these; a step-sequence, thunk, or
// action never talks to the scheduler directly.
package instr

import (
	"fmt"
	"time"
)

// Kind tags which variant an Instruction holds, the way vdom.PatchOp
// tags a Patch in the teacher's renderer.
type Kind uint8

const (
	// KindYieldToAny requeues the fiber on the ready queue; it runs
	// again no earlier than the scheduler's next update.
	KindYieldToAny Kind = iota
	// KindYieldForDuration parks the fiber on the sleep queue until
	// now + Duration.
	KindYieldForDuration
	// KindYieldUntilComplete parks the fiber off all queues until
	// Target completes.
	KindYieldUntilComplete
	// KindYieldToFiber switches execution to Target immediately
	// (subject to the scheduler's inline-depth cap).
	KindYieldToFiber
	// KindStop ends the fiber as RanToCompletion with no result change.
	KindStop
	// KindResultSet latches Result and ends the fiber as
	// RanToCompletion.
	KindResultSet
	// KindForeign carries an opaque payload the core does not
	// interpret; only a host adapter understands it.
	KindForeign
)

func (k Kind) String() string {
	switch k {
	case KindYieldToAny:
		return "YieldToAny"
	case KindYieldForDuration:
		return "YieldForDuration"
	case KindYieldUntilComplete:
		return "YieldUntilComplete"
	case KindYieldToFiber:
		return "YieldToFiber"
	case KindStop:
		return "Stop"
	case KindResultSet:
		return "ResultSet"
	case KindForeign:
		return "Foreign"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Completable is the minimal shape of a fiber that Instruction needs to
// reference. It is satisfied by *scheduler.Fiber without instr having to
// import the scheduler package (which itself must produce Instructions).
type Completable interface {
	// FiberID returns the fiber's identity, used only for logging/String.
	FiberID() uint64
}

// Instruction is a tagged value describing what a fiber step asked the
// scheduler to do. Only the fields relevant to Kind are populated, the
// same sparse-struct shape as vdom.Patch in the teacher's renderer.
type Instruction struct {
	Kind     Kind
	Duration time.Duration // KindYieldForDuration
	Target   Completable   // KindYieldUntilComplete, KindYieldToFiber
	Result   any           // KindResultSet
	Foreign  any           // KindForeign
}

// YieldToAny requeues the fiber; also the zero value's meaning (a bare
// nil step result is treated as this instruction by the fiber driver).
func YieldToAny() Instruction { return Instruction{Kind: KindYieldToAny} }

// YieldForDuration parks the fiber on the sleep queue for d.
func YieldForDuration(d time.Duration) Instruction {
	return Instruction{Kind: KindYieldForDuration, Duration: d}
}

// YieldUntilComplete parks the fiber until target completes.
func YieldUntilComplete(target Completable) Instruction {
	return Instruction{Kind: KindYieldUntilComplete, Target: target}
}

// YieldToFiber switches execution to target next.
func YieldToFiber(target Completable) Instruction {
	return Instruction{Kind: KindYieldToFiber, Target: target}
}

// Stop ends the fiber as RanToCompletion.
func Stop() Instruction { return Instruction{Kind: KindStop} }

// ResultSet latches value as the fiber's result and ends it as
// RanToCompletion.
func ResultSet(value any) Instruction {
	return Instruction{Kind: KindResultSet, Result: value}
}

// Foreign wraps an opaque payload for a host adapter to interpret.
func Foreign(payload any) Instruction {
	return Instruction{Kind: KindForeign, Foreign: payload}
}

// String renders the instruction for logs/debug output.
func (i Instruction) String() string {
	switch i.Kind {
	case KindYieldForDuration:
		return fmt.Sprintf("YieldForDuration(%s)", i.Duration)
	case KindYieldUntilComplete:
		return fmt.Sprintf("YieldUntilComplete(fiber=%d)", i.Target.FiberID())
	case KindYieldToFiber:
		return fmt.Sprintf("YieldToFiber(fiber=%d)", i.Target.FiberID())
	case KindResultSet:
		return fmt.Sprintf("ResultSet(%v)", i.Result)
	case KindForeign:
		return fmt.Sprintf("Foreign(%v)", i.Foreign)
	default:
		return i.Kind.String()
	}
}

// StepOutcome is what a lazy step sequence produces on each advance —
// the Go rendering of the source's iterator-protocol coroutine body
// (spec design notes: step(&mut self) -> StepOutcome{Yielded, Done}).
type StepOutcome struct {
	// Done reports the sequence is exhausted; Value is meaningless.
	Done bool
	// Value is whatever the sequence yielded: an Instruction, another
	// StepSequence (nesting), another fiber, or a foreign object.
	Value any
}

// Yielded builds a non-final StepOutcome.
func Yielded(value any) StepOutcome { return StepOutcome{Value: value} }

// Done builds the final StepOutcome of a sequence.
func Done() StepOutcome { return StepOutcome{Done: true} }

// StepSequence is a lazy, finite, non-restartable series of values. It
// is the core's rendering of the host language's generator/iterator
// coroutine body (see package doc).
type StepSequence interface {
	Step() (StepOutcome, error)
}
