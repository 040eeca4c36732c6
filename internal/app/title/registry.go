// Package title keeps a transferable ownership title per product in sync with
// the product's owner.
package title

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

// Registry is the title collaborator the coordinator notifies on create,
// transfer and removal.
type Registry interface {
	Mint(ctx context.Context, productID int64, owner string) error
	Transfer(ctx context.Context, productID int64, from, to string) error
	Burn(ctx context.Context, productID int64, owner string) error
	OwnerOf(ctx context.Context, productID int64) (string, error)
}

// Op names a registry call delivered to the acknowledgment hook.
type Op string

const (
	OpMint     Op = "mint"
	OpTransfer Op = "transfer"
	OpBurn     Op = "burn"
)

// AckHook is invoked after a registry call succeeded, with the caller's
// context. An error from the hook fails the call.
type AckHook func(ctx context.Context, op Op, productID int64, from, to string) error

// Memory is an in-process registry with single-owner token semantics: a
// token is minted once, only its holder may move or burn it.
type Memory struct {
	mu     sync.RWMutex
	owners map[int64]string
	hook   AckHook
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty registry.
func NewMemory() *Memory {
	return &Memory{owners: make(map[int64]string)}
}

// SetAckHook installs the acknowledgment hook.
func (m *Memory) SetAckHook(hook AckHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

func (m *Memory) Mint(ctx context.Context, productID int64, owner string) error {
	if owner == "" {
		return apperrors.InvalidInput("mint to empty owner")
	}
	m.mu.Lock()
	if _, exists := m.owners[productID]; exists {
		m.mu.Unlock()
		return apperrors.AlreadyAssigned("title %d already minted", productID)
	}
	m.owners[productID] = owner
	hook := m.hook
	m.mu.Unlock()

	return m.ack(ctx, hook, OpMint, productID, "", owner, func() {
		delete(m.owners, productID)
	})
}

func (m *Memory) Transfer(ctx context.Context, productID int64, from, to string) error {
	if to == "" {
		return apperrors.InvalidInput("transfer to empty owner")
	}
	m.mu.Lock()
	current, ok := m.owners[productID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("title %d not found", productID)
	}
	if current != from {
		m.mu.Unlock()
		return apperrors.NotAuthorized("title %d is not held by %s", productID, from)
	}
	m.owners[productID] = to
	hook := m.hook
	m.mu.Unlock()

	return m.ack(ctx, hook, OpTransfer, productID, from, to, func() {
		m.owners[productID] = from
	})
}

func (m *Memory) Burn(ctx context.Context, productID int64, owner string) error {
	m.mu.Lock()
	current, ok := m.owners[productID]
	if !ok {
		m.mu.Unlock()
		return apperrors.NotFound("title %d not found", productID)
	}
	if owner != "" && current != owner {
		m.mu.Unlock()
		return apperrors.NotAuthorized("title %d is not held by %s", productID, owner)
	}
	delete(m.owners, productID)
	hook := m.hook
	m.mu.Unlock()

	return m.ack(ctx, hook, OpBurn, productID, current, "", func() {
		m.owners[productID] = current
	})
}

func (m *Memory) OwnerOf(_ context.Context, productID int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[productID]
	if !ok {
		return "", apperrors.NotFound("title %d not found", productID)
	}
	return owner, nil
}

// ack runs the hook and reverts the registry change if it fails.
func (m *Memory) ack(ctx context.Context, hook AckHook, op Op, productID int64, from, to string, revert func()) error {
	if hook == nil {
		return nil
	}
	if err := hook(ctx, op, productID, from, to); err != nil {
		m.mu.Lock()
		revert()
		m.mu.Unlock()
		return fmt.Errorf("title %s acknowledgment: %w", op, err)
	}
	return nil
}

// Nop accepts every call.
type Nop struct{}

func (Nop) Mint(context.Context, int64, string) error             { return nil }
func (Nop) Transfer(context.Context, int64, string, string) error { return nil }
func (Nop) Burn(context.Context, int64, string) error             { return nil }
func (Nop) OwnerOf(context.Context, int64) (string, error)        { return "", nil }
