// Package cancel implements cooperative cancellation tokens.
//
// A Token is a small, copyable handle onto a shared cancellation flag.
// Fibers capture a Token at construction and poll it (or have the
// scheduler poll it for them) between steps; a Source is the only way
// to actually signal cancellation.
package cancel

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Token is a cooperative cancellation signal. The zero value never
// reports canceled but is not Is-equal to None(); use None() for the
// neutral token.
type Token struct {
	state *state
}

type state struct {
	id       uint64
	canceled atomic.Bool
}

var neutral = Token{state: &state{id: 0}}

// None returns the neutral token: IsCanceled is always false and
// ThrowIfCanceled never errors. Fibers created without an explicit
// token capture None().
func None() Token {
	return neutral
}

// Source owns a cancellation flag and hands out Tokens that observe it.
type Source struct {
	state *state
}

var nextSourceID atomic.Uint64

// NewSource creates a new cancellation source with a fresh identity.
func NewSource() *Source {
	id := nextSourceID.Add(1)
	return &Source{state: &state{id: id}}
}

// Token returns the token associated with this source. Every call
// returns a value equal (by Is) to every other call on the same source.
func (s *Source) Token() Token {
	return Token{state: s.state}
}

// Cancel signals cancellation. Idempotent: a second call is a no-op.
func (s *Source) Cancel() {
	s.state.canceled.Store(true)
}

// IsCanceled reports whether Cancel has been called on this source.
func (s *Source) IsCanceled() bool {
	return s.state.canceled.Load()
}

// IsCanceled reports whether the token's source has been canceled.
// A zero Token (never constructed via None or a Source) behaves as
// never-canceled.
func (t Token) IsCanceled() bool {
	if t.state == nil {
		return false
	}
	return t.state.canceled.Load()
}

// Is reports whether two tokens observe the same underlying source.
func (t Token) Is(other Token) bool {
	return t.state == other.state
}

// ThrowIfCanceled returns a *CanceledError carrying this token if it has
// been canceled, or nil otherwise. The name matches the source idiom the
// scheduler and fiber bodies both use to observe cancellation.
func (t Token) ThrowIfCanceled() error {
	if t.IsCanceled() {
		return &CanceledError{Token: t}
	}
	return nil
}

// CanceledError is raised by a fiber body (or synthesized by the
// scheduler) when a token is observed canceled. Whether it terminates a
// fiber as Canceled or Faulted depends on whether the error's Token
// matches the fiber's own captured token — see pkg/scheduler.
type CanceledError struct {
	Token Token
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("cancel: token %d canceled", e.Token.id())
}

func (t Token) id() uint64 {
	if t.state == nil {
		return 0
	}
	return t.state.id
}

// AsCanceledError reports whether err is (or wraps) a *CanceledError and
// returns it.
func AsCanceledError(err error) (*CanceledError, bool) {
	var ce *CanceledError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
