package supplychain

import (
	"context"
	"sync"

	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

// Class groups mutating operations for the re-entrancy guard.
type Class string

const (
	ClassRoles    Class = "roles"
	ClassProducts Class = "products"
	ClassFunds    Class = "funds"
	ClassRatings  Class = "ratings"
)

// guard serializes mutations and keeps one held flag per class. While a
// mutation is calling out to an external collaborator, the class is also
// recorded as the open callout; any call arriving then is a callback from
// that collaborator and is refused before it can block on the writer.
type guard struct {
	mu      sync.Mutex
	state   sync.Mutex
	held    map[Class]bool
	callout Class
}

func newGuard() *guard {
	return &guard{held: make(map[Class]bool)}
}

// admit refuses entry while a callout is open.
func (g *guard) admit() error {
	g.state.Lock()
	defer g.state.Unlock()
	if g.callout != "" {
		return apperrors.Reentrant(string(g.callout))
	}
	return nil
}

func (g *guard) enter(class Class) (func(), error) {
	if err := g.admit(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.state.Lock()
	g.held[class] = true
	g.state.Unlock()
	return func() {
		g.state.Lock()
		delete(g.held, class)
		g.state.Unlock()
		g.mu.Unlock()
	}, nil
}

// openCallout marks class as calling out until the returned func runs.
func (g *guard) openCallout(class Class) func() {
	g.state.Lock()
	g.callout = class
	g.state.Unlock()
	return func() {
		g.state.Lock()
		g.callout = ""
		g.state.Unlock()
	}
}

func (g *guard) isHeld(class Class) bool {
	g.state.Lock()
	defer g.state.Unlock()
	return g.held[class]
}

// inflight marks a context as belonging to a mutation that has not committed
// yet. Reads issued under it reuse the open transaction.
type inflight struct {
	class Class
	op    string
	tx    storage.Tx
}

type inflightKey struct{}

func withInflight(ctx context.Context, m *inflight) context.Context {
	return context.WithValue(ctx, inflightKey{}, m)
}

func inflightFrom(ctx context.Context) (*inflight, bool) {
	m, ok := ctx.Value(inflightKey{}).(*inflight)
	return m, ok && m != nil
}
