// Package notify carries change notifications from committed operations to
// observers: the in-process bus, the websocket stream and message brokers.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	RoleAssigned Type = "role.assigned"
	RoleRemoved  Type = "role.removed"
	AdminChanged Type = "admin.changed"

	ProductCreated     Type = "product.created"
	ProductTransferred Type = "product.transferred"
	StatusUpdated      Type = "product.status_updated"
	ProductReturned    Type = "product.returned"
	ProductRemoved     Type = "product.removed"
	ProductUpdated     Type = "product.updated"
	ProductVerified    Type = "product.verified"
	ProductRated       Type = "product.rated"

	EscrowDeposit    Type = "escrow.deposit"
	EscrowWithdrawal Type = "escrow.withdrawal"
	EscrowSettled    Type = "escrow.settled"

	HaltChanged Type = "system.halt_changed"
)

// Event is one notification.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"`
	ProductID int64                  `json:"product_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// String returns the JSON form.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// New builds an event of the given type.
func New(typ Type, actor string, productID int64) Event {
	return Event{Type: typ, Actor: actor, ProductID: productID}
}

// With returns a copy of e with key set in Data.
func (e Event) With(key string, value interface{}) Event {
	data := make(map[string]interface{}, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Recorder accepts notifications raised while an operation runs.
type Recorder interface {
	Record(ev Event)
}

// Discard drops every notification.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(Event) {}

// Batch collects notifications for publication after commit.
type Batch struct {
	events []Event
}

// Record appends ev.
func (b *Batch) Record(ev Event) { b.events = append(b.events, ev) }

// Events returns the collected notifications in order.
func (b *Batch) Events() []Event { return append([]Event(nil), b.events...) }

// Reset drops everything collected so far.
func (b *Batch) Reset() { b.events = nil }

// Handler processes published events.
type Handler func(Event)

// Filter decides whether a handler sees an event.
type Filter func(Event) bool

// Publisher is what the coordinator needs from the bus.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus keeps the most recent events in a ring and fans them out to
// subscribers. Handlers run synchronously on the publishing goroutine.
type Bus struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Publisher = (*Bus)(nil)

// NewBus creates a bus retaining up to size events.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 1000
	}
	return &Bus{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stores ev and notifies handlers outside the lock.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.TraceID == "" && ctx != nil {
		ev.TraceID = TraceID(ctx)
	}

	b.mu.Lock()
	b.events[b.head] = ev
	b.head = (b.head + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	handlers := make([]handlerEntry, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(ev) {
			h.handler(ev)
		}
	}
}

// Subscribe registers a handler for all events and returns its unsubscribe
// function.
func (b *Bus) Subscribe(handler Handler) func() {
	return b.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter.
func (b *Bus) SubscribeFiltered(filter Filter, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers = append(b.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (b *Bus) Recent(n int) []Event {
	return b.recent(n, nil)
}

// RecentByType returns up to n events of one type, newest first.
func (b *Bus) RecentByType(typ Type, n int) []Event {
	return b.recent(n, func(ev Event) bool { return ev.Type == typ })
}

func (b *Bus) recent(n int, filter Filter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || b.count == 0 {
		return nil
	}
	var result []Event
	for i := 0; i < b.count && len(result) < n; i++ {
		idx := (b.head - 1 - i + b.size) % b.size
		if filter == nil || filter(b.events[idx]) {
			result = append(result, b.events[idx])
		}
	}
	return result
}

// Count returns the number of retained events.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

type contextKey string

const traceIDKey contextKey = "trace_id"

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID returns the trace id carried by ctx, if any.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}
