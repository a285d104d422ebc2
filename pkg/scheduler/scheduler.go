package scheduler

import (
	"container/heap"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recera/fiberflow/pkg/cancel"
	"github.com/recera/fiberflow/pkg/hostadapter"
	"github.com/recera/fiberflow/pkg/instr"
)

// Options configures a Scheduler's dispatch behavior.
type Options struct {
	// MaxInlineDepth bounds how many YieldToFiber hops run inline, within
	// the same update, before the chain is deferred to the ready queue.
	MaxInlineDepth int
	// IdlePoll is the longest Run will block waiting for new work (a
	// Queue call, a sleeping fiber waking, or Dispose) when the sleep
	// queue is empty. It only matters for Run's blocking loop, not
	// Update, which a host may call directly on its own cadence.
	IdlePoll time.Duration
	// DisableInlining turns off YieldToFiber inlining entirely — every
	// hop is deferred to the ready queue regardless of MaxInlineDepth.
	// The zero value (false) keeps inlining on, matching the default.
	DisableInlining bool
	// UpdatesPerSecond caps how often Run calls Update against the wall
	// clock. Zero (the default) means unthrottled: Run updates as soon
	// as there is work or IdlePoll elapses. It has no effect on Update
	// itself, which a host calling it directly drives at its own cadence.
	UpdatesPerSecond float64
}

// DefaultOptions returns the options a scheduler uses when none are
// supplied to New.
func DefaultOptions() Options {
	return Options{MaxInlineDepth: 10, IdlePoll: 250 * time.Millisecond}
}

type sleepEntry struct {
	fiber *Fiber
	wake  time.Time
	seq   uint64
	index int
}

type sleepHeap []*sleepEntry

func (h sleepHeap) Len() int { return len(h) }
func (h sleepHeap) Less(i, j int) bool {
	if !h[i].wake.Equal(h[j].wake) {
		return h[i].wake.Before(h[j].wake)
	}
	return h[i].seq < h[j].seq
}
func (h sleepHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *sleepHeap) Push(x any) {
	e := x.(*sleepEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler dispatches fibers cooperatively on a single owner thread: the
// goroutine that calls Run or Update. Every other exported method is safe
// to call from any goroutine.
type Scheduler struct {
	mu       sync.Mutex
	ready    []*Fiber
	sleeping sleepHeap
	seq      uint64
	now      time.Time
	fibers   map[uint64]*Fiber

	curFiber atomic.Pointer[Fiber]
	disposed atomic.Bool
	wake     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	opts    Options
	adapter hostadapter.Adapter

	debugLog func(args ...any)
	onError  func(f *Fiber, err error)
}

// New creates a ready-to-use Scheduler. A zero Options value is replaced
// with DefaultOptions.
func New(opts Options) *Scheduler {
	if opts.MaxInlineDepth <= 0 {
		opts.MaxInlineDepth = DefaultOptions().MaxInlineDepth
	}
	if opts.IdlePoll <= 0 {
		opts.IdlePoll = DefaultOptions().IdlePoll
	}
	return &Scheduler{
		opts:    opts,
		fibers:  make(map[uint64]*Fiber),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		now:     time.Now(),
	}
}

// SetDebugLog installs a hook the scheduler calls for internal tracing
// (fiber queued, stepped, parked, completed). A nil hook (the default)
// disables tracing entirely — matching the teacher's SetDebugLog on
// pkg/reactive's reactive context, rather than pulling in a logging
// framework for what is, in the core, an optional diagnostic.
func (s *Scheduler) SetDebugLog(fn func(args ...any)) {
	s.debugLog = fn
}

func (s *Scheduler) logf(args ...any) {
	if s.debugLog != nil {
		s.debugLog(args...)
	}
}

// SetErrorHandler installs a hook invoked whenever a fiber faults. If
// absent, a fault is logged once via the standard log package and
// otherwise swallowed — the fiber's own Err() remains the source of
// truth for callers that are awaiting it.
func (s *Scheduler) SetErrorHandler(fn func(f *Fiber, err error)) {
	s.onError = fn
}

// SetAdapter attaches a host adapter that receives Foreign instructions.
// Without one, a fiber that yields Foreign is simply requeued (the
// payload is dropped) so it never stalls.
func (s *Scheduler) SetAdapter(a hostadapter.Adapter) {
	s.adapter = a
}

// FiberCount returns the number of fibers currently tracked by the
// scheduler (queued, sleeping, parked awaiting completion, or mid-step).
// Terminal fibers are removed from tracking once drained.
func (s *Scheduler) FiberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fibers)
}

// GetFiber looks up a tracked fiber by ID.
func (s *Scheduler) GetFiber(id uint64) (*Fiber, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fibers[id]
	return f, ok
}

// CurrentFiber returns the fiber currently being stepped on this
// scheduler's owner thread, or nil outside of a step. It is the Go
// rendering of the teacher's reactive.currentFiber thread-local, scoped
// per-scheduler rather than process-global since more than one scheduler
// may run concurrently on distinct owner threads.
func (s *Scheduler) CurrentFiber() *Fiber {
	return s.curFiber.Load()
}

// Now returns the scheduler's logical clock — the argument of the most
// recent Update call (or the time of New, before any Update has run).
// Components that measure a deadline against scheduler time rather than
// the wall clock (pkg/compose's WhenAll/WhenAny) read it here so a host
// driving Update with synthetic times gets a deterministic timeout.
func (s *Scheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Scheduler) track(f *Fiber) {
	s.mu.Lock()
	_, already := s.fibers[f.id]
	s.fibers[f.id] = f
	s.mu.Unlock()
	if already {
		return
	}
	f.OnCompletion(func(done *Fiber) {
		s.mu.Lock()
		delete(s.fibers, done.id)
		s.mu.Unlock()
		if done.Status() == Faulted {
			if s.onError != nil {
				s.onError(done, done.Err())
			} else {
				log.Printf("scheduler: fiber %d faulted: %v", done.id, done.Err())
			}
		}
	})
}

// Queue places a WaitingToRun fiber on the ready queue and wakes Run if
// it is blocked waiting for work. It is safe from any goroutine. Fibers
// already bound to this scheduler (via Start, or returned from a prior
// step) are the normal callers; queuing a fiber bound to a different
// scheduler, or one that is not WaitingToRun, is silently ignored.
func (s *Scheduler) Queue(f *Fiber) {
	if f == nil || s.disposed.Load() {
		return
	}
	if f.scheduler != nil && f.scheduler != s {
		return
	}
	if Status(f.status.Load()) != WaitingToRun {
		return
	}
	s.track(f)
	s.mu.Lock()
	s.ready = append(s.ready, f)
	s.mu.Unlock()
	s.logf("queue", f.id)
	s.signalWake()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Update runs exactly one scheduling pass: every fiber on the ready queue
// at entry is stepped once (fibers requeued during the pass, directly or
// via an inlined YieldToFiber chain that overflows its depth cap, run on
// a later Update), then the sleep queue is scanned and any fiber whose
// wake time has arrived is moved to the ready queue for the *next* pass.
// now establishes the scheduler's logical clock for this pass, letting a
// host drive Update from its own frame loop instead of wall-clock time.
func (s *Scheduler) Update(now time.Time) {
	if s.disposed.Load() {
		return
	}
	s.mu.Lock()
	s.now = now
	batch := s.ready
	s.ready = nil
	s.mu.Unlock()

	for _, f := range batch {
		s.stepOne(f, 0)
	}

	s.wakeSleepers(now)
}

func (s *Scheduler) wakeSleepers(now time.Time) {
	var woken []*Fiber
	s.mu.Lock()
	for s.sleeping.Len() > 0 && !s.sleeping[0].wake.After(now) {
		e := heap.Pop(&s.sleeping).(*sleepEntry)
		woken = append(woken, e.fiber)
	}
	s.mu.Unlock()
	for _, f := range woken {
		s.Queue(f)
	}
}

// stepOne transitions f to Running, steps it, and routes the resulting
// instruction. depth is the YieldToFiber inline-recursion depth of the
// chain this call is part of (0 for a fiber popped directly off the
// ready queue).
func (s *Scheduler) stepOne(f *Fiber, depth int) {
	if !f.tryTransition(Running, WaitingToRun) {
		return
	}
	prev := s.curFiber.Swap(f)
	ins, _ := f.Step()
	s.curFiber.Store(prev)
	s.logf("step", f.id, ins.String())
	s.route(f, ins, depth)
}

func (s *Scheduler) route(f *Fiber, ins instr.Instruction, depth int) {
	if Status(f.status.Load()).IsCompleted() {
		return
	}
	switch ins.Kind {
	case instr.KindYieldForDuration:
		f.backToWaiting()
		s.enqueueSleep(f, s.now.Add(ins.Duration))

	case instr.KindYieldUntilComplete:
		target, ok := ins.Target.(*Fiber)
		if !ok || target.scheduler != s {
			f.finishFaulted(ErrCrossScheduler)
			return
		}
		f.backToWaiting()
		target.OnCompletion(func(*Fiber) { s.Queue(f) })

	case instr.KindYieldToFiber:
		target, ok := ins.Target.(*Fiber)
		if !ok || target.scheduler != s || Status(target.status.Load()).IsCompleted() {
			f.finishFaulted(ErrInvalidState)
			return
		}
		f.backToWaiting()
		s.enqueueReady(f)
		s.removeFromQueues(target)
		if !s.opts.DisableInlining && depth < s.opts.MaxInlineDepth {
			s.stepOne(target, depth+1)
		} else {
			s.Queue(target)
		}

	case instr.KindForeign:
		f.backToWaiting()
		if s.adapter != nil {
			s.adapter.PushNativeYield(f, ins.Foreign)
		} else {
			s.enqueueReady(f)
		}

	default: // KindYieldToAny and anything unrecognized
		f.backToWaiting()
		s.enqueueReady(f)
	}
}

func (s *Scheduler) enqueueReady(f *Fiber) {
	s.mu.Lock()
	s.ready = append(s.ready, f)
	s.mu.Unlock()
}

func (s *Scheduler) enqueueSleep(f *Fiber, wake time.Time) {
	s.mu.Lock()
	s.seq++
	heap.Push(&s.sleeping, &sleepEntry{fiber: f, wake: wake, seq: s.seq})
	s.mu.Unlock()
}

// removeFromQueues drops target from the ready slice or sleep heap if it
// is present, used when a YieldToFiber instruction preempts a fiber that
// was already waiting its turn.
func (s *Scheduler) removeFromQueues(target *Fiber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.ready {
		if f == target {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			return
		}
	}
	for i, e := range s.sleeping {
		if e.fiber == target {
			heap.Remove(&s.sleeping, i)
			return
		}
	}
}

// RunOption configures a single Run call.
type RunOption func(*runConfig)

type runConfig struct {
	root  *Fiber
	token cancel.Token
}

// WithRootFiber makes Run return as soon as root reaches a terminal
// status, instead of running until stop or Dispose. Grounded on spec's
// run(root_fiber?, cancel_token, updates_per_second) — a host that wants
// to drive a single top-level fiber to completion without managing its
// own stop channel passes it here.
func WithRootFiber(root *Fiber) RunOption {
	return func(c *runConfig) { c.root = root }
}

// WithCancelToken makes Run return as soon as token is canceled, in
// addition to stop, Dispose, or (if set) the root fiber completing.
func WithCancelToken(token cancel.Token) RunOption {
	return func(c *runConfig) { c.token = token }
}

// Run blocks the calling goroutine, repeatedly calling Update against the
// wall clock until stop is canceled, Dispose is called, the supplied
// cancel token (if any) is signaled, or the supplied root fiber (if any)
// reaches a terminal status. It is the owner-thread entry point a
// standalone program uses; a host embedding the scheduler in its own
// frame loop calls Update directly instead. If UpdatesPerSecond is
// positive, Update calls are throttled to at most that rate.
func (s *Scheduler) Run(stop <-chan struct{}, opts ...RunOption) {
	var cfg runConfig
	for _, o := range opts {
		o(&cfg)
	}

	var minInterval time.Duration
	if s.opts.UpdatesPerSecond > 0 {
		minInterval = time.Duration(float64(time.Second) / s.opts.UpdatesPerSecond)
	}
	var lastUpdate time.Time

	for {
		select {
		case <-stop:
			return
		case <-s.stopped:
			return
		default:
		}
		if cfg.root != nil && cfg.root.Status().IsCompleted() {
			return
		}
		if cfg.token.IsCanceled() {
			return
		}

		if minInterval > 0 {
			if since := time.Since(lastUpdate); since < minInterval {
				if !s.sleepInterruptible(minInterval-since, stop) {
					return
				}
			}
		}
		lastUpdate = time.Now()
		s.Update(lastUpdate)

		if cfg.root != nil && cfg.root.Status().IsCompleted() {
			return
		}
		if cfg.token.IsCanceled() {
			return
		}

		wait := s.nextWait()
		if minInterval > 0 && minInterval < wait {
			wait = minInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-s.stopped:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// sleepInterruptible blocks for d or until stop/Dispose fires, whichever
// comes first. It reports whether the sleep completed uninterrupted.
func (s *Scheduler) sleepInterruptible(d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-s.stopped:
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) nextWait() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ready) > 0 {
		return 0
	}
	if s.sleeping.Len() > 0 {
		d := s.sleeping[0].wake.Sub(time.Now())
		if d < 0 {
			return 0
		}
		if d < s.opts.IdlePoll {
			return d
		}
	}
	return s.opts.IdlePoll
}

// Dispose stops Run (if active) and rejects further Queue calls. Fibers
// still parked (sleeping, or waiting on a completion that never arrives)
// are left exactly as they are — Dispose does not cancel them, matching
// the "most recent source variant" in spec design notes: disposal is a
// scheduler-level shutdown signal, not a fiber-level cancellation.
func (s *Scheduler) Dispose() {
	s.disposed.Store(true)
	s.stopOnce.Do(func() { close(s.stopped) })
}

// Disposed reports whether Dispose has been called.
func (s *Scheduler) Disposed() bool { return s.disposed.Load() }

// FiberSnapshot is one fiber's state as captured by Snapshot.
type FiberSnapshot struct {
	ID     uint64
	Status Status
}

// Snapshot is a read-only view of a scheduler's queues and fiber statuses
// at one instant. It never mutates scheduler state; pkg/livesched and the
// fiberctl TUI poll it to render live scheduler activity.
type Snapshot struct {
	ReadyCount   int
	SleepCount   int
	TotalFibers  int
	Fibers       []FiberSnapshot
}

// Snapshot captures the scheduler's current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ReadyCount:  len(s.ready),
		SleepCount:  s.sleeping.Len(),
		TotalFibers: len(s.fibers),
		Fibers:      make([]FiberSnapshot, 0, len(s.fibers)),
	}
	for id, f := range s.fibers {
		snap.Fibers = append(snap.Fibers, FiberSnapshot{ID: id, Status: f.Status()})
	}
	return snap
}
