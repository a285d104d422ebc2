package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/recera/fiberflow/pkg/cancel"
	"github.com/recera/fiberflow/pkg/instr"
)

// Body is exactly one of a lazy step-sequence, a thunk invoked on every
// step until it returns a terminal instruction, or a one-shot action run
// exactly once. Set only one field: NewFiber does not check this, and when
// more than one is set, Sequence takes precedence over Thunk and Thunk over
// Action.
type Body struct {
	// Sequence advances on every step via Step(); its own Done outcome is
	// equivalent to yielding instr.Stop() at the fiber's primary level.
	Sequence instr.StepSequence
	// Thunk is called again on every step (it closes over whatever state
	// it needs to decide when to stop); this is the shape ContinueWith,
	// WhenAll, WhenAny, and Delay are built from in pkg/compose.
	Thunk func() (any, error)
	// Action runs once; a nil error always ends the fiber as
	// RanToCompletion after that single call.
	Action func() error
}

// Fiber is one cooperatively scheduled unit of work. The zero value is not
// usable; construct with NewFiber (or pkg/factory's convenience wrappers).
type Fiber struct {
	id     uint64
	status atomic.Uint32

	body  Body
	token cancel.Token

	// scheduler is set exactly once, at the first successful transition
	// out of Created/WaitingForActivation (see Start), and is immutable
	// thereafter.
	scheduler *Scheduler

	// nested is the stack of step-sequences pushed when a step yields
	// another StepSequence; the innermost (last) entry drives advance().
	nested []instr.StepSequence

	forcedCancel atomic.Bool

	result           any
	err              error
	pendingResult    any
	hasPendingResult bool

	contMu        sync.Mutex
	continuations []func(*Fiber)
	drained       bool

	propsMu sync.Mutex
	props   map[string]any

	antecedent *Fiber
}

// FiberOption configures a Fiber at construction time.
type FiberOption func(*Fiber)

// WithToken captures a cancellation token the fiber's body may poll and
// that Step checks before every advance.
func WithToken(t cancel.Token) FiberOption {
	return func(f *Fiber) { f.token = t }
}

// WithAntecedent records the fiber that produced this one, for
// introspection only (ContinueWith chains use it to report lineage).
func WithAntecedent(a *Fiber) FiberOption {
	return func(f *Fiber) { f.antecedent = a }
}

var nextFiberID atomic.Uint64

// NewFiber creates a fiber in the Created state. It is not queued on any
// scheduler until Start is called.
func NewFiber(body Body, opts ...FiberOption) *Fiber {
	f := &Fiber{
		id:    nextFiberID.Add(1),
		body:  body,
		token: cancel.None(),
	}
	f.status.Store(uint32(Created))
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FiberID implements instr.Completable.
func (f *Fiber) FiberID() uint64 { return f.id }

// Status reports the fiber's current lifecycle state.
func (f *Fiber) Status() Status { return Status(f.status.Load()) }

// Token returns the cancellation token this fiber was created with.
func (f *Fiber) Token() cancel.Token { return f.token }

// Antecedent returns the fiber that produced this one, or nil.
func (f *Fiber) Antecedent() *Fiber { return f.antecedent }

// Result returns the fiber's latched result. Only meaningful once Status
// reports RanToCompletion.
func (f *Fiber) Result() any { return f.result }

// Err returns the error that faulted the fiber, or nil. Only meaningful
// once Status reports Faulted.
func (f *Fiber) Err() error { return f.err }

// Scheduler returns the scheduler this fiber is bound to, or nil if Start
// has not yet succeeded.
func (f *Fiber) Scheduler() *Scheduler {
	return f.scheduler
}

// Get reads a per-fiber property (arbitrary host-level metadata keyed by
// string, such as a native handle a host adapter associates with the
// fiber).
func (f *Fiber) Get(key string) (any, bool) {
	f.propsMu.Lock()
	defer f.propsMu.Unlock()
	if f.props == nil {
		return nil, false
	}
	v, ok := f.props[key]
	return v, ok
}

// Set writes a per-fiber property.
func (f *Fiber) Set(key string, value any) {
	f.propsMu.Lock()
	defer f.propsMu.Unlock()
	if f.props == nil {
		f.props = make(map[string]any)
	}
	f.props[key] = value
}

// Start binds the fiber to sched (exactly once; subsequent calls fail with
// ErrInvalidState) and queues it for its first step. sched must not be
// nil — pkg/factory supplies a captured default when callers want to omit
// it.
func (f *Fiber) Start(sched *Scheduler) error {
	if sched == nil {
		return ErrNoScheduler
	}
	if sched.Disposed() {
		return ErrDisposed
	}
	if !f.tryTransition(WaitingToRun, Created, WaitingForActivation) {
		return ErrInvalidState
	}
	f.scheduler = sched
	sched.Queue(f)
	return nil
}

// Cancel requests cancellation of this specific fiber. A fiber not yet
// started transitions straight to Canceled before any body code runs; a
// running fiber observes the request at its next step; a fiber that has
// already reached a terminal status ignores the call.
func (f *Fiber) Cancel() {
	f.forcedCancel.Store(true)
	if f.tryTransition(Canceled, Created, WaitingForActivation, WaitingToRun) {
		f.drainContinuations()
	}
}

// OnCompletion registers cb to run when the fiber reaches a terminal
// status. If the fiber is already terminal, cb runs synchronously before
// OnCompletion returns. Callbacks registered before completion run at
// most once, in registration order, when the fiber completes.
func (f *Fiber) OnCompletion(cb func(*Fiber)) {
	f.contMu.Lock()
	if f.drained {
		f.contMu.Unlock()
		cb(f)
		return
	}
	f.continuations = append(f.continuations, cb)
	f.contMu.Unlock()
}

func (f *Fiber) drainContinuations() {
	f.contMu.Lock()
	cbs := f.continuations
	f.continuations = nil
	f.drained = true
	f.contMu.Unlock()
	for _, cb := range cbs {
		cb(f)
	}
}

// tryTransition atomically moves the fiber to `to` if its current status
// is among `allowed`, retrying the load-then-CAS pair against concurrent
// writers. It reports whether the transition happened.
func (f *Fiber) tryTransition(to Status, allowed ...Status) bool {
	for {
		cur := Status(f.status.Load())
		ok := false
		for _, a := range allowed {
			if cur == a {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		if f.status.CompareAndSwap(uint32(cur), uint32(to)) {
			return true
		}
	}
}

func (f *Fiber) finishCanceled() {
	if !f.tryTransition(Canceled, Created, WaitingForActivation, WaitingToRun, Running) {
		return
	}
	f.drainContinuations()
}

func (f *Fiber) finishFaulted(err error) {
	if !f.tryTransition(Faulted, Created, WaitingForActivation, WaitingToRun, Running) {
		return
	}
	f.err = err
	f.drainContinuations()
}

func (f *Fiber) finishRanToCompletion() {
	if !f.tryTransition(RanToCompletion, Created, WaitingForActivation, WaitingToRun, Running) {
		return
	}
	if f.hasPendingResult {
		f.result = f.pendingResult
	}
	f.drainContinuations()
}

func (f *Fiber) latchResult(value any) {
	f.pendingResult = value
	f.hasPendingResult = true
}

// backToWaiting moves the fiber from Running back to WaitingToRun once a
// step produced a non-terminal instruction and the scheduler has decided
// where to park it (ready queue, sleep queue, or a completion waiter).
func (f *Fiber) backToWaiting() bool {
	return f.tryTransition(WaitingToRun, Running)
}

// Step advances the fiber by exactly one instruction. It must only be
// called by the owning Scheduler while the fiber is Running. It checks
// cancellation before running any body code, drives the innermost
// step-sequence (pushing/popping the nested stack as sequences yield
// further sequences), and classifies whatever the body produced into an
// Instruction the scheduler can route. A returned error is never from
// Step itself — body errors are captured and turned into Canceled or
// Faulted before Step returns, so callers only see a non-nil error for a
// fiber not in the Running state.
func (f *Fiber) Step() (instr.Instruction, error) {
	if Status(f.status.Load()) != Running {
		return instr.Instruction{}, ErrInvalidState
	}

	if f.forcedCancel.Load() || f.token.IsCanceled() {
		f.finishCanceled()
		return instr.Stop(), nil
	}

	ins, err := f.advance()
	if err != nil {
		if ce, ok := cancel.AsCanceledError(err); ok && ce.Token.Is(f.token) {
			f.finishCanceled()
			return instr.Stop(), nil
		}
		f.finishFaulted(err)
		return instr.Stop(), nil
	}

	if ins.Kind == instr.KindResultSet {
		f.latchResult(ins.Result)
	}
	if ins.Kind == instr.KindStop || ins.Kind == instr.KindResultSet {
		f.finishRanToCompletion()
	}
	return ins, nil
}

// advance drives the fiber's body (or the top of its nested stack) until
// a value worth reporting surfaces. A Stop or ResultSet instruction
// produced by a nested sequence only ends that nesting level — it pops
// the stack and the loop continues with whatever is beneath it (or the
// primary body), exactly like that sequence reporting Done.
func (f *Fiber) advance() (instr.Instruction, error) {
	for {
		if n := len(f.nested); n > 0 {
			top := f.nested[n-1]
			outcome, err := top.Step()
			if err != nil {
				return instr.Instruction{}, err
			}
			if outcome.Done {
				f.nested = f.nested[:n-1]
				continue
			}
			ins, pushed, err := f.classify(outcome.Value)
			if err != nil {
				return instr.Instruction{}, err
			}
			if pushed {
				continue
			}
			if ins.Kind == instr.KindResultSet {
				f.latchResult(ins.Result)
			}
			if ins.Kind == instr.KindStop || ins.Kind == instr.KindResultSet {
				f.nested = f.nested[:n-1]
				continue
			}
			return ins, nil
		}

		raw, err := f.primaryAdvance()
		if err != nil {
			return instr.Instruction{}, err
		}
		ins, pushed, err := f.classify(raw)
		if err != nil {
			return instr.Instruction{}, err
		}
		if pushed {
			continue
		}
		return ins, nil
	}
}

func (f *Fiber) primaryAdvance() (any, error) {
	switch {
	case f.body.Sequence != nil:
		outcome, err := f.body.Sequence.Step()
		if err != nil {
			return nil, err
		}
		if outcome.Done {
			return instr.Stop(), nil
		}
		return outcome.Value, nil
	case f.body.Thunk != nil:
		return f.body.Thunk()
	case f.body.Action != nil:
		if err := f.body.Action(); err != nil {
			return nil, err
		}
		return instr.Stop(), nil
	}
	return nil, ErrInvalidState
}

// classify interprets a raw value yielded by a body or nested sequence. A
// nested StepSequence is pushed onto the stack and classify reports
// pushed=true so the caller loops back and drives it; everything else
// normalizes into a concrete Instruction.
func (f *Fiber) classify(value any) (ins instr.Instruction, pushed bool, err error) {
	switch v := value.(type) {
	case nil:
		return instr.YieldToAny(), false, nil
	case instr.Instruction:
		return v, false, nil
	case instr.StepSequence:
		f.nested = append(f.nested, v)
		return instr.Instruction{}, true, nil
	case *Fiber:
		return instr.YieldUntilComplete(v), false, nil
	default:
		return instr.Foreign(value), false, nil
	}
}
