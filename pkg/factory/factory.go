// Package factory provides canonical fiber constructors that capture a
// scheduler and a default cancellation token so call sites do not repeat
// them on every fiber. Grounded on the teacher's pkg/server/context.go
// option-capturing constructor (vango.NewContext(...).With...(...)
// chaining a base configuration through request handling), adapted here
// to a flat functional-options constructor over Factory instead of a
// chained builder.
package factory

import (
	"github.com/recera/fiberflow/pkg/cancel"
	"github.com/recera/fiberflow/pkg/instr"
	"github.com/recera/fiberflow/pkg/scheduler"
)

// Factory creates and starts fibers against a fixed scheduler, applying a
// default cancellation token to every fiber it creates.
type Factory struct {
	scheduler *scheduler.Scheduler
	token     cancel.Token
}

// Option configures a Factory at construction.
type Option func(*Factory)

// WithToken sets the default cancellation token new fibers capture.
func WithToken(t cancel.Token) Option {
	return func(f *Factory) { f.token = t }
}

// New creates a Factory bound to sched.
func New(sched *scheduler.Scheduler, opts ...Option) *Factory {
	f := &Factory{scheduler: sched, token: cancel.None()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// WithToken returns a copy of fac whose default token is t, leaving fac
// itself unchanged — the same immutable-chaining shape the teacher's
// Context.With* methods use.
func (fac *Factory) WithToken(t cancel.Token) *Factory {
	return &Factory{scheduler: fac.scheduler, token: t}
}

// Scheduler returns the scheduler this factory creates fibers on.
func (fac *Factory) Scheduler() *scheduler.Scheduler { return fac.scheduler }

func (fac *Factory) run(body scheduler.Body, opts ...scheduler.FiberOption) (*scheduler.Fiber, error) {
	allOpts := make([]scheduler.FiberOption, 0, len(opts)+1)
	allOpts = append(allOpts, scheduler.WithToken(fac.token))
	allOpts = append(allOpts, opts...)
	f := scheduler.NewFiber(body, allOpts...)
	if err := f.Start(fac.scheduler); err != nil {
		return nil, err
	}
	return f, nil
}

// RunSequence creates and starts a fiber driven by a lazy step-sequence.
func (fac *Factory) RunSequence(seq instr.StepSequence, opts ...scheduler.FiberOption) (*scheduler.Fiber, error) {
	return fac.run(scheduler.Body{Sequence: seq}, opts...)
}

// RunThunk creates and starts a fiber whose body is called again on
// every step until it returns a terminal instruction.
func (fac *Factory) RunThunk(thunk func() (any, error), opts ...scheduler.FiberOption) (*scheduler.Fiber, error) {
	return fac.run(scheduler.Body{Thunk: thunk}, opts...)
}

// RunAction creates and starts a fiber that runs action exactly once.
func (fac *Factory) RunAction(action func() error, opts ...scheduler.FiberOption) (*scheduler.Fiber, error) {
	return fac.run(scheduler.Body{Action: action}, opts...)
}
