// Package task bridges a fiber's terminal status onto a future-like
// completion surface — Wait, Result, Err — for callers that think in
// terms of tasks/futures rather than the scheduler's own fiber API.
// Grounded on the single futures reference in the retrieved corpus
// (sauravbiswas/go-futures' Future[T]: a done channel, a blocking
// Result(), and a small terminal-state enum) adapted from "goroutine
// completes a channel" to "fiber reaches a terminal Status".
package task

import (
	"context"
	"errors"

	"github.com/recera/fiberflow/pkg/scheduler"
)

// ErrCanceled is returned by Result/Wait when the underlying fiber ended
// Canceled rather than RanToCompletion or Faulted.
var ErrCanceled = errors.New("task: fiber was canceled")

// YieldableTask wraps a *scheduler.Fiber as a future. The name mirrors
// spec.md's "yieldable task" — a task a fiber body can itself yield on
// via its embedded Fiber, exactly like any other fiber.
type YieldableTask struct {
	fiber *scheduler.Fiber
	done  chan struct{}
}

// From wraps an existing fiber, started or not; From registers a
// completion callback immediately.
func From(f *scheduler.Fiber) *YieldableTask {
	t := &YieldableTask{fiber: f, done: make(chan struct{})}
	f.OnCompletion(func(*scheduler.Fiber) { close(t.done) })
	return t
}

// New builds the underlying fiber itself from body, mirroring spec's
// YieldableTask::new(step_sequence | thunk | instruction, token?,
// creation_options?) constructor — unlike From, the caller never touches
// a *scheduler.Fiber directly. opts are the same scheduler.FiberOption
// values NewFiber accepts (WithToken, ...). The task is not yet runnable;
// call Start to bind it to a scheduler.
func New(body scheduler.Body, opts ...scheduler.FiberOption) *YieldableTask {
	f := scheduler.NewFiber(body, opts...)
	t := &YieldableTask{fiber: f, done: make(chan struct{})}
	f.OnCompletion(func(*scheduler.Fiber) { close(t.done) })
	return t
}

// Start binds the task's fiber to sched and queues its first step. It
// rejects a task already bound to a scheduler (this one or any other)
// with the fiber's own ErrInvalidState, the same way a second Start call
// on a bare *scheduler.Fiber is rejected.
func (t *YieldableTask) Start(sched *scheduler.Scheduler) error {
	return t.fiber.Start(sched)
}

// Cancel forwards cancellation to the underlying fiber: a task built with
// New and not yet started is canceled before any body code runs, a
// running task observes the request at its next step, and a task that
// already completed ignores the call — exactly scheduler.Fiber.Cancel's
// own semantics, since that is what Cancel delegates to.
func (t *YieldableTask) Cancel() {
	t.fiber.Cancel()
}

// Fiber returns the underlying fiber, so a task can itself be used
// anywhere a fiber is expected (YieldUntilComplete, WhenAll, ...).
func (t *YieldableTask) Fiber() *scheduler.Fiber { return t.fiber }

// Done reports whether the fiber has reached a terminal status.
func (t *YieldableTask) Done() bool {
	return t.fiber.Status().IsCompleted()
}

// Wait blocks until the fiber completes or ctx is done, whichever comes
// first. A nil ctx behaves like context.Background().
func (t *YieldableTask) Wait(ctx context.Context) error {
	if ctx == nil {
		<-t.done
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Result blocks until completion (respecting ctx) and then returns the
// fiber's result, or an error: the fiber's own Err() if it Faulted,
// ErrCanceled if it was Canceled, or ctx's error if ctx ended first.
func (t *YieldableTask) Result(ctx context.Context) (any, error) {
	if err := t.Wait(ctx); err != nil {
		return nil, err
	}
	switch t.fiber.Status() {
	case scheduler.RanToCompletion:
		return t.fiber.Result(), nil
	case scheduler.Canceled:
		return nil, ErrCanceled
	case scheduler.Faulted:
		return nil, t.fiber.Err()
	default:
		return nil, nil // unreachable: Wait only returns nil once terminal
	}
}
