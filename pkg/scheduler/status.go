// Package scheduler implements the cooperative fiber runtime: the fiber
// state machine and step driver, and the single-threaded scheduler that
// dispatches fibers against a ready queue and a sleep queue. Fiber and
// Scheduler share this package because they need each other's unexported
// state — a fiber's scheduler-affinity check and a scheduler's queue
// manipulation of fibers both reach past the other type's exported
// surface, the same reason the teacher keeps its fiber and scheduler
// types in one file.
package scheduler

import (
	"encoding/json"
	"fmt"
)

// Status is a fiber's position in the lifecycle state machine. Transitions
// happen only via CAS on Fiber.status; see the transition table in
// Fiber.Step and Scheduler.stepOne.
type Status uint32

const (
	Created Status = iota
	WaitingForActivation
	WaitingToRun
	Running
	RanToCompletion
	Canceled
	Faulted
)

func (s Status) String() string {
	switch s {
	case Created:
		return "Created"
	case WaitingForActivation:
		return "WaitingForActivation"
	case WaitingToRun:
		return "WaitingToRun"
	case Running:
		return "Running"
	case RanToCompletion:
		return "RanToCompletion"
	case Canceled:
		return "Canceled"
	case Faulted:
		return "Faulted"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// IsCompleted reports whether s is one of the three terminal statuses.
func (s Status) IsCompleted() bool {
	return s == RanToCompletion || s == Canceled || s == Faulted
}

// MarshalJSON renders the status by name, for pkg/livesched's snapshot
// feed and the fiberctl TUI.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}
