// Package synccontext lets a foreign thread schedule a callback onto a
// scheduler's owner thread, the fiber-world equivalent of a UI
// framework's SynchronizationContext. Grounded on pkg/live/server.go's
// session/broadcast pattern — each callback is wrapped in a new fiber
// started on the scheduler, and the synchronous variant adds a one-shot
// completion channel per call —
// generalized from "broadcast a VDOM patch to websocket clients" to "run
// this closure as a fiber on the owning scheduler".
package synccontext

import "github.com/recera/fiberflow/pkg/scheduler"

// Context posts or sends callbacks onto a single scheduler.
type Context struct {
	sched *scheduler.Scheduler
}

// New binds a Context to sched.
func New(sched *scheduler.Scheduler) *Context {
	return &Context{sched: sched}
}

// Post schedules fn to run once on the owning scheduler and returns
// immediately; it does not wait for fn to run.
func (c *Context) Post(fn func()) error {
	f := scheduler.NewFiber(scheduler.Body{Action: func() error {
		fn()
		return nil
	}})
	return f.Start(c.sched)
}

// Send schedules fn to run on the owning scheduler and blocks the calling
// goroutine until it has run. If the caller is already executing inline
// on this scheduler's owner thread — a fiber body calling Send on its own
// scheduler, a very plausible case since Context is handed to arbitrary
// foreign code — fn runs immediately instead of being posted: posting and
// blocking on done here would deadlock, since the owner thread blocking
// on Send is the only goroutine that could ever step the posted fiber.
func (c *Context) Send(fn func()) error {
	if c.sched.CurrentFiber() != nil {
		fn()
		return nil
	}
	done := make(chan struct{})
	f := scheduler.NewFiber(scheduler.Body{Action: func() error {
		fn()
		close(done)
		return nil
	}})
	if err := f.Start(c.sched); err != nil {
		return err
	}
	<-done
	return nil
}
