package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/recera/fiberflow/pkg/cancel"
	"github.com/recera/fiberflow/pkg/instr"
)

func newTestScheduler() *Scheduler {
	return New(Options{MaxInlineDepth: 8, IdlePoll: 10 * time.Millisecond})
}

func runUntilIdle(s *Scheduler, rounds int) {
	for i := 0; i < rounds; i++ {
		s.Update(time.Now())
		time.Sleep(time.Millisecond)
	}
}

func TestFiber_ActionRunsOnceAndCompletes(t *testing.T) {
	sched := newTestScheduler()
	var calls atomic.Int32
	f := NewFiber(Body{Action: func() error {
		calls.Add(1)
		return nil
	}})
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runUntilIdle(sched, 5)

	if got := f.Status(); got != RanToCompletion {
		t.Fatalf("status = %s, want RanToCompletion", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("action called %d times, want 1", calls.Load())
	}
}

func TestFiber_ThunkRepeatsUntilStop(t *testing.T) {
	sched := newTestScheduler()
	var steps int
	f := NewFiber(Body{Thunk: func() (any, error) {
		steps++
		if steps < 3 {
			return nil, nil
		}
		return instr.Stop(), nil
	}})
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runUntilIdle(sched, 10)

	if f.Status() != RanToCompletion {
		t.Fatalf("status = %s, want RanToCompletion", f.Status())
	}
	if steps != 3 {
		t.Fatalf("steps = %d, want 3", steps)
	}
}

func TestFiber_ResultSetLatchesValue(t *testing.T) {
	sched := newTestScheduler()
	f := NewFiber(Body{Thunk: func() (any, error) {
		return instr.ResultSet("done"), nil
	}})
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runUntilIdle(sched, 5)

	if f.Status() != RanToCompletion {
		t.Fatalf("status = %s, want RanToCompletion", f.Status())
	}
	if got, want := f.Result(), "done"; got != want {
		t.Fatalf("result = %v, want %v", got, want)
	}
}

// nestedStopSeq is a StepSequence that yields Stop() once, as a value (not its
// own Done outcome) — this must only pop the nesting level, not end the
// whole fiber.
type nestedStopSeq struct{ yielded bool }

func (n *nestedStopSeq) Step() (instr.StepOutcome, error) {
	if !n.yielded {
		n.yielded = true
		return instr.Yielded(instr.Stop()), nil
	}
	return instr.Done(), nil
}

func TestFiber_NestedStopOnlyEndsNestingLevel(t *testing.T) {
	sched := newTestScheduler()
	var afterNested bool
	first := true
	f := NewFiber(Body{Thunk: func() (any, error) {
		if first {
			first = false
			return &nestedStopSeq{}, nil
		}
		afterNested = true
		return instr.ResultSet(42), nil
	}})
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runUntilIdle(sched, 10)

	if !afterNested {
		t.Fatal("thunk never resumed after nested sequence yielded Stop")
	}
	if f.Status() != RanToCompletion {
		t.Fatalf("status = %s, want RanToCompletion", f.Status())
	}
	if f.Result() != 42 {
		t.Fatalf("result = %v, want 42", f.Result())
	}
}

func TestFiber_CancelBeforeStart(t *testing.T) {
	sched := newTestScheduler()
	f := NewFiber(Body{Action: func() error { return nil }})
	f.Cancel()
	if f.Status() != Canceled {
		t.Fatalf("status = %s, want Canceled", f.Status())
	}
	if err := f.Start(sched); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Start on canceled fiber: err = %v, want ErrInvalidState", err)
	}
}

func TestFiber_CancelMatchingTokenEndsCanceled(t *testing.T) {
	sched := newTestScheduler()
	src := cancel.NewSource()
	f := NewFiber(Body{Thunk: func() (any, error) {
		return nil, src.Token().ThrowIfCanceled()
	}}, WithToken(src.Token()))
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	src.Cancel()
	runUntilIdle(sched, 5)

	if f.Status() != Canceled {
		t.Fatalf("status = %s, want Canceled", f.Status())
	}
}

func TestFiber_ForeignTokenFaultsInstead(t *testing.T) {
	sched := newTestScheduler()
	mine := cancel.NewSource()
	foreign := cancel.NewSource()
	f := NewFiber(Body{Thunk: func() (any, error) {
		return nil, foreign.Token().ThrowIfCanceled()
	}}, WithToken(mine.Token()))
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	foreign.Cancel()
	runUntilIdle(sched, 5)

	if f.Status() != Faulted {
		t.Fatalf("status = %s, want Faulted", f.Status())
	}
	if _, ok := cancel.AsCanceledError(f.Err()); !ok {
		t.Fatalf("Err() = %v, want a *cancel.CanceledError", f.Err())
	}
}

func TestFiber_OnCompletionFiresSynchronouslyIfAlreadyDone(t *testing.T) {
	sched := newTestScheduler()
	f := NewFiber(Body{Action: func() error { return nil }})
	if err := f.Start(sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
	runUntilIdle(sched, 5)

	called := make(chan struct{}, 1)
	f.OnCompletion(func(*Fiber) { called <- struct{}{} })
	select {
	case <-called:
	default:
		t.Fatal("OnCompletion on an already-completed fiber did not fire synchronously")
	}
}
