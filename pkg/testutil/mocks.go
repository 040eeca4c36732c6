// Package testutil provides common testing utilities shared by package tests.
package testutil

import (
	"sync"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/notify"
)

// ManualClock is a time source that only moves when told to.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManualClock creates a clock reading start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current reading. Pass clock.Now wherever a func() time.Time
// is accepted.
func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// EventRecorder collects events delivered to Handle.
type EventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
	signal chan struct{}
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{signal: make(chan struct{}, 1)}
}

// Handle records ev. It satisfies notify.Handler.
func (r *EventRecorder) Handle(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

// Types returns the recorded event types in delivery order.
func (r *EventRecorder) Types() []notify.Type {
	events := r.Events()
	types := make([]notify.Type, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

// WaitFor blocks until at least n events were recorded or timeout elapses.
// It reports whether n was reached.
func (r *EventRecorder) WaitFor(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		r.mu.Lock()
		got := len(r.events)
		r.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-r.signal:
		case <-deadline.C:
			return false
		}
	}
}

// Reset discards recorded events.
func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
