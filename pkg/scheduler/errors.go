package scheduler

import "errors"

var (
	// ErrInvalidState is returned when an operation is attempted against a
	// fiber that is not in a state the operation allows — starting a
	// fiber twice, stepping a fiber that is not Running, yielding to a
	// fiber that has already completed.
	ErrInvalidState = errors.New("scheduler: invalid fiber state for this operation")

	// ErrCrossScheduler is raised (as a fault on the requesting fiber)
	// when a YieldUntilComplete or YieldToFiber instruction names a
	// target bound to a different scheduler.
	ErrCrossScheduler = errors.New("scheduler: target fiber is bound to a different scheduler")

	// ErrDisposed is returned by Fiber.Start when the scheduler it is given
	// has been disposed. Queue and Update on a disposed scheduler do not
	// return it; they do nothing.
	ErrDisposed = errors.New("scheduler: scheduler has been disposed")

	// ErrNoScheduler is returned by Fiber.Start when called with a nil
	// scheduler.
	ErrNoScheduler = errors.New("scheduler: no scheduler bound and none supplied to Start")
)
