// Package compose builds continuation and wait-set combinators —
// ContinueWith, WhenAll, WhenAny, Delay — entirely out of ordinary
// fibers polling the public Fiber/Scheduler API between yields, per
// spec.md §4.5: none of them get privileged access to scheduler
// internals. Grounded on the teacher's pkg/reactive Batch/RunBatch shape
// (collect dependents, then release them together) for the wait-set
// bookkeeping, adapted from "batch of dirty signals" to "batch of fibers
// being awaited".
package compose

import "github.com/recera/fiberflow/pkg/scheduler"

// Options selects which antecedent terminal statuses a ContinueWith
// continuation runs for. The zero value runs for none; use Always or one
// of the OnXxx constructors.
type Options struct {
	OnRanToCompletion bool
	OnFaulted         bool
	OnCanceled        bool
}

// Always runs the continuation regardless of how the antecedent ended.
func Always() Options {
	return Options{OnRanToCompletion: true, OnFaulted: true, OnCanceled: true}
}

// OnSuccess runs the continuation only if the antecedent ran to
// completion.
func OnSuccess() Options { return Options{OnRanToCompletion: true} }

// OnFaultedOnly runs the continuation only if the antecedent faulted —
// the shape spec.md's scenario 6 needs ("ContinueWith only on Faulted").
func OnFaultedOnly() Options { return Options{OnFaulted: true} }

// OnCanceledOnly runs the continuation only if the antecedent was
// canceled.
func OnCanceledOnly() Options { return Options{OnCanceled: true} }

func (o Options) matches(st scheduler.Status) bool {
	switch st {
	case scheduler.RanToCompletion:
		return o.OnRanToCompletion
	case scheduler.Faulted:
		return o.OnFaulted
	case scheduler.Canceled:
		return o.OnCanceled
	default:
		return false
	}
}
