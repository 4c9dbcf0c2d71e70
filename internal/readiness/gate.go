// Package readiness tracks conversion engine initialization and gates request admission.
package readiness

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// ErrInvalidTransition is returned when a transition is attempted from the wrong state.
var ErrInvalidTransition = errors.New("invalid readiness transition")

// Gate holds the engine state. Transitions are one-way compare-and-swaps, so a state observed by any
// goroutine after a transition is final, and the failure reason is published before the state is.
type Gate struct {
	state        atomic.Int32
	reason       atomic.Pointer[string]
	onTransition func(converter.EngineState)
}

// New returns a Gate in the Uninitialized state. onTransition, when non-nil, is called after every
// successful transition.
func New(onTransition func(converter.EngineState)) *Gate {
	g := &Gate{onTransition: onTransition}
	g.notify(converter.StateUninitialized)
	return g
}

// Status returns the current state.
func (g *Gate) Status() converter.EngineState {
	return converter.EngineState(g.state.Load())
}

// Ready reports whether conversions may be admitted.
func (g *Gate) Ready() bool {
	return g.Status() == converter.StateReady
}

// Reason returns the failure reason once the gate is Failed, otherwise "".
func (g *Gate) Reason() string {
	if g.Status() != converter.StateFailed {
		return ""
	}
	if p := g.reason.Load(); p != nil {
		return *p
	}
	return ""
}

// MarkInitializing records that the startup routine has begun.
func (g *Gate) MarkInitializing() error {
	return g.transition(converter.StateUninitialized, converter.StateInitializing)
}

// MarkReady publishes a successfully initialized engine.
func (g *Gate) MarkReady() error {
	return g.transition(converter.StateInitializing, converter.StateReady)
}

// MarkFailed permanently records an initialization failure. The gate never retries.
func (g *Gate) MarkFailed(reason string) error {
	if g.Status() != converter.StateInitializing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status(), converter.StateFailed)
	}
	g.reason.CompareAndSwap(nil, &reason)
	return g.transition(converter.StateInitializing, converter.StateFailed)
}

func (g *Gate) transition(from, to converter.EngineState) error {
	if !g.state.CompareAndSwap(int32(from), int32(to)) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.Status(), to)
	}
	g.notify(to)
	return nil
}

func (g *Gate) notify(state converter.EngineState) {
	if g.onTransition != nil {
		g.onTransition(state)
	}
}
