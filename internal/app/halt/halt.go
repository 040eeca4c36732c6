// Package halt provides the global switch that rejects mutating operations
// while active.
package halt

import (
	"context"
	"sync/atomic"
)

// Switch reports whether mutations are halted.
type Switch interface {
	Halted(ctx context.Context) (bool, error)
}

// Settable is a Switch that can be toggled at runtime.
type Settable interface {
	Switch
	SetHalted(ctx context.Context, halted bool) error
}

// Flag is an in-process switch.
type Flag struct {
	halted atomic.Bool
}

var _ Settable = (*Flag)(nil)

// NewFlag returns a switch in the given state.
func NewFlag(halted bool) *Flag {
	f := &Flag{}
	f.halted.Store(halted)
	return f
}

func (f *Flag) Halted(context.Context) (bool, error) { return f.halted.Load(), nil }

func (f *Flag) SetHalted(_ context.Context, halted bool) error {
	f.halted.Store(halted)
	return nil
}

// Never is a switch that is never active.
type Never struct{}

func (Never) Halted(context.Context) (bool, error) { return false, nil }
