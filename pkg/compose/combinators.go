package compose

import (
	"errors"
	"time"

	"github.com/recera/fiberflow/pkg/cancel"
	"github.com/recera/fiberflow/pkg/instr"
	"github.com/recera/fiberflow/pkg/scheduler"
)

// ErrNoFibers is returned (as a fault) by WhenAny given an empty fiber
// list — there is no "first" of zero antecedents.
var ErrNoFibers = errors.New("compose: WhenAny requires at least one fiber")

// ErrTimeout is raised as a fault by WhenAll and WhenAny when their
// timeout elapses before the wait-set condition is satisfied. Timeout is
// its own error kind, distinct from cancellation: a supervisor whose
// token is signaled instead ends Canceled via selfCancel below.
var ErrTimeout = errors.New("compose: timed out waiting for fibers to complete")

// pollInterval is how often WhenAll/WhenAny re-check their wait-set and
// deadline once no member has completed. A bare loop of YieldToAny
// between checks would burn the owner thread re-stepping the supervisor
// on every update; sleeping a short interval instead keeps it off the
// ready queue between checks while still bounding how late a timeout is
// observed — well inside the 100ms slack spec.md's when_all scenario
// allows.
const pollInterval = 10 * time.Millisecond

// selfCancel raises a CanceledError carrying the fiber's own captured
// token. Because Is compares by underlying pointer identity and this
// token is literally the fiber's own, Step's catch always treats it as a
// match and ends the fiber Canceled — the mechanism WhenAll/WhenAny use
// to propagate a canceled antecedent without reaching into the
// scheduler.
func selfCancel(f *scheduler.Fiber) error {
	return &cancel.CanceledError{Token: f.Token()}
}

// ContinueWith creates a new fiber that runs cont once ante reaches a
// terminal status matching opts, and is itself Stop()'d (no result)
// without running cont otherwise. It never touches ante's or the
// scheduler's unexported state — only Status, Result, Err, and
// OnCompletion, the same surface any caller has.
func ContinueWith(ante *scheduler.Fiber, opts Options, cont func(ante *scheduler.Fiber) (any, error), fopts ...scheduler.FiberOption) *scheduler.Fiber {
	started := false
	body := scheduler.Body{Thunk: func() (any, error) {
		if !started {
			started = true
			if !ante.Status().IsCompleted() {
				return instr.YieldUntilComplete(ante), nil
			}
		}
		if !opts.matches(ante.Status()) {
			return instr.Stop(), nil
		}
		v, err := cont(ante)
		if err != nil {
			return nil, err
		}
		return instr.ResultSet(v), nil
	}}
	return scheduler.NewFiber(body, append([]scheduler.FiberOption{scheduler.WithAntecedent(ante)}, fopts...)...)
}

// WhenAll creates a supervisor fiber that completes once every fiber in
// fibers has completed. Its result is a []any in input order; it faults
// with the first faulted antecedent's error if any faulted, ends
// Canceled if any was canceled and none faulted, or faults with
// ErrTimeout if timeout elapses first. timeout <= 0 disables the
// deadline and waits indefinitely. Deadlines are measured against the
// fiber's own scheduler's current-time marker (Scheduler.Now), not the
// wall clock, so a host driving Update with synthetic times still gets a
// deterministic timeout.
func WhenAll(fibers []*scheduler.Fiber, timeout time.Duration, fopts ...scheduler.FiberOption) *scheduler.Fiber {
	var self *scheduler.Fiber
	var deadline time.Time
	started := false

	body := scheduler.Body{Thunk: func() (any, error) {
		if len(fibers) == 0 {
			return instr.ResultSet([]any{}), nil
		}
		sched := self.Scheduler()
		if !started {
			started = true
			if timeout > 0 {
				deadline = sched.Now().Add(timeout)
			}
		}
		if timeout > 0 && !sched.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		for _, in := range fibers {
			if !in.Status().IsCompleted() {
				return instr.YieldForDuration(pollInterval), nil
			}
		}
		for _, in := range fibers {
			if in.Status() == scheduler.Faulted {
				return nil, in.Err()
			}
		}
		for _, in := range fibers {
			if in.Status() == scheduler.Canceled {
				return nil, selfCancel(self)
			}
		}
		results := make([]any, len(fibers))
		for i, in := range fibers {
			results[i] = in.Result()
		}
		return instr.ResultSet(results), nil
	}}
	self = scheduler.NewFiber(body, fopts...)
	return self
}

// WhenAny creates a supervisor fiber that completes as soon as the first
// fiber in fibers completes, mirroring that fiber's own terminal status
// and result/error, or faults with ErrTimeout if none completes before
// timeout (<= 0 disables the deadline). Among fibers that complete within
// the same poll, the earliest in input order wins.
func WhenAny(fibers []*scheduler.Fiber, timeout time.Duration, fopts ...scheduler.FiberOption) *scheduler.Fiber {
	var self *scheduler.Fiber
	var deadline time.Time
	started := false

	body := scheduler.Body{Thunk: func() (any, error) {
		if len(fibers) == 0 {
			return nil, ErrNoFibers
		}
		sched := self.Scheduler()
		if !started {
			started = true
			if timeout > 0 {
				deadline = sched.Now().Add(timeout)
			}
		}
		if timeout > 0 && !sched.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		for _, in := range fibers {
			if !in.Status().IsCompleted() {
				continue
			}
			switch in.Status() {
			case scheduler.RanToCompletion:
				return instr.ResultSet(in.Result()), nil
			case scheduler.Faulted:
				return nil, in.Err()
			default:
				return nil, selfCancel(self)
			}
		}
		return instr.YieldForDuration(pollInterval), nil
	}}
	self = scheduler.NewFiber(body, fopts...)
	return self
}

// Delay creates a fiber that does nothing but sleep for d and then
// complete. WhenAll/WhenAny do not use it; they keep their own deadline
// against Scheduler.Now. d is itself the
// duration spec.md's delay(duration, token, scheduler) names; unlike
// WhenAll/WhenAny, reaching it is success, not an ErrTimeout fault —
// cancellation (via fopts' WithToken) is the only way Delay ends early.
func Delay(d time.Duration, fopts ...scheduler.FiberOption) *scheduler.Fiber {
	slept := false
	body := scheduler.Body{Thunk: func() (any, error) {
		if !slept {
			slept = true
			return instr.YieldForDuration(d), nil
		}
		return instr.Stop(), nil
	}}
	return scheduler.NewFiber(body, fopts...)
}
