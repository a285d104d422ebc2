// Package hostadapter defines the seam between the core scheduler and an
// external run loop — a game engine's frame loop, a GUI event loop, or any
// other host that wants fibers to interoperate with its own native
// asynchrony instead of (or alongside) the scheduler's own instructions.
//
// The core never imports a concrete host; it only ever talks to the
// Adapter interface, the same way the teacher's pkg/live/scheduler_bridge.go
// bridges the reactive scheduler to the Live Protocol without either side
// knowing the other's concrete type.
package hostadapter

import "github.com/recera/fiberflow/pkg/instr"

// Adapter receives instr.KindForeign instructions the scheduler does not
// interpret and is responsible for eventually resuming the fiber (by
// calling Queue on whatever scheduler it was given out-of-band)
// once the native operation the payload describes completes.
type Adapter interface {
	// PushNativeYield is called once per Foreign instruction a fiber
	// produces. The adapter decides what the payload means; the fiber
	// stays parked (off every scheduler queue) until the adapter resumes
	// it itself.
	PushNativeYield(fiber instr.Completable, payload any)

	// AssociateNativeHandle lets a host attach its own native object
	// (a timer ID, a DOM node, a callback token) to a fiber for later
	// lookup, without the core needing to know the handle's type.
	AssociateNativeHandle(fiber instr.Completable, handle any)
}

// NopAdapter discards every foreign yield and never resumes the fiber, so
// a fiber whose Foreign instruction reaches it stays parked. A scheduler
// with no adapter set at all requeues such a fiber instead.
type NopAdapter struct{}

func (NopAdapter) PushNativeYield(instr.Completable, any)      {}
func (NopAdapter) AssociateNativeHandle(instr.Completable, any) {}
