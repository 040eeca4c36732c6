// Package lifecycle decides which product state transitions a caller may
// request. Decisions are deny-by-default: anything not listed in the
// transition table is refused.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/services/roles"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

// Reason explains a denied transition.
type Reason string

const (
	RoleNotPermitted        Reason = "RoleNotPermitted"
	NoOpTransition          Reason = "NoOpTransition"
	ReturnedRequiresReceipt Reason = "ReturnedRequiresReceipt"
	CreatorSequence         Reason = "CreatorSequence"
	NotInTable              Reason = "NotInTable"
)

// Class is the actor class a transition is looked up under.
type Class uint8

const (
	ClassNone Class = iota
	ClassCreator
	ClassSupplier
	ClassCustomer
	ClassAdmin
)

func (c Class) String() string {
	switch c {
	case ClassCreator:
		return "creator"
	case ClassSupplier:
		return "supplier"
	case ClassCustomer:
		return "customer"
	case ClassAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Actor describes the caller relative to one product.
type Actor struct {
	Role    role.Role
	Admin   bool
	Creator bool
}

// Class resolves the lookup class. The original creator is looked up under
// the creator row regardless of the role they hold.
func (a Actor) Class() Class {
	switch {
	case a.Admin || a.Role == role.Admin:
		return ClassAdmin
	case a.Creator:
		return ClassCreator
	case a.Role == role.Supplier:
		return ClassSupplier
	case a.Role == role.Customer:
		return ClassCustomer
	default:
		return ClassNone
	}
}

// Nameable lists the target states each role may request at all. Admins
// bypass this layer.
var Nameable = map[role.Role][]product.State{
	role.Supplier: {
		product.StateCreated,
		product.StatePacked,
		product.StateShippedToSupplier,
		product.StateShippedToCustomer,
		product.StateReturned,
		product.StateReceivedBySupplier,
	},
	role.Customer: {
		product.StateReturned,
		product.StateExpired,
		product.StateDeliveredToCustomer,
	},
}

// Table lists, per current state and actor class, the permitted next states.
// Admin is the union of the other classes.
var Table = map[product.State]map[Class][]product.State{
	product.StateCreated: {
		ClassCreator:  {product.StatePacked},
		ClassSupplier: {product.StatePacked},
		ClassCustomer: {product.StateExpired},
	},
	product.StatePacked: {
		ClassCreator:  {product.StateShippedToSupplier, product.StateShippedToCustomer},
		ClassSupplier: {product.StateShippedToSupplier, product.StateShippedToCustomer, product.StateReceivedBySupplier},
		ClassCustomer: {product.StateDeliveredToCustomer, product.StateReturned, product.StateExpired},
	},
	product.StateShippedToSupplier: {
		ClassSupplier: {product.StateReceivedBySupplier, product.StateReturned},
		ClassCustomer: {product.StateExpired},
	},
	product.StateShippedToCustomer: {
		ClassCustomer: {product.StateDeliveredToCustomer, product.StateReturned, product.StateExpired},
	},
	product.StateReceivedBySupplier: {
		ClassCreator:  {product.StatePacked},
		ClassSupplier: {product.StatePacked, product.StateShippedToSupplier, product.StateShippedToCustomer},
	},
	product.StateDeliveredToCustomer: {
		ClassCustomer: {product.StateReturned, product.StateExpired},
	},
	product.StateReturned: {
		ClassCreator:  {product.StateReceivedBySupplier},
		ClassSupplier: {product.StateReceivedBySupplier},
	},
	product.StateExpired: {},
}

func contains(states []product.State, s product.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanName reports whether r may request target.
func CanName(r role.Role, target product.State) bool {
	return contains(Nameable[r], target)
}

// Next returns the states the actor may move a product in current into.
func Next(current product.State, actor Actor) []product.State {
	row := Table[current]
	class := actor.Class()
	var candidates []product.State
	if class == ClassAdmin {
		for _, s := range product.AllStates {
			for _, c := range []Class{ClassCreator, ClassSupplier, ClassCustomer} {
				if contains(row[c], s) {
					candidates = append(candidates, s)
					break
				}
			}
		}
		return candidates
	}
	for _, s := range row[class] {
		if CanName(actor.Role, s) {
			candidates = append(candidates, s)
		}
	}
	return candidates
}

// DenyError carries the reason a transition was refused.
type DenyError struct {
	From   product.State
	To     product.State
	Reason Reason
}

func (e *DenyError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s (%s)", e.From, e.To, e.Reason)
}

// Decide applies both validation layers.
func Decide(current, next product.State, actor Actor) error {
	deny := func(reason Reason) error {
		return &DenyError{From: current, To: next, Reason: reason}
	}
	if next == current {
		return deny(NoOpTransition)
	}
	class := actor.Class()
	if class != ClassAdmin && !CanName(actor.Role, next) {
		return deny(RoleNotPermitted)
	}
	if current == product.StateReturned && next != product.StateReceivedBySupplier {
		return deny(ReturnedRequiresReceipt)
	}
	if contains(Next(current, actor), next) {
		return nil
	}
	if class == ClassCreator && (current == product.StateCreated || current == product.StatePacked) {
		return deny(CreatorSequence)
	}
	return deny(NotInTable)
}

// DecideOverride applies the admin override rule: anything but the current
// state.
func DecideOverride(current, next product.State) error {
	if next == current {
		return &DenyError{From: current, To: next, Reason: NoOpTransition}
	}
	return nil
}

// AsServiceError converts a DenyError into the InvalidTransition error
// surfaced to callers. Other errors pass through.
func AsServiceError(err error) error {
	var deny *DenyError
	if !errors.As(err, &deny) {
		return err
	}
	return apperrors.InvalidTransition("%s", deny.Error()).
		WithDetails("reason", string(deny.Reason)).
		WithDetails("from", deny.From.String()).
		WithDetails("to", deny.To.String())
}

// ParseLabel resolves a status label into a state.
func ParseLabel(label string) (product.State, error) {
	s, ok := product.ParseState(label)
	if !ok {
		return product.StateUnknown, apperrors.InvalidInput("unknown status label %q", label)
	}
	return s, nil
}

// Machine validates transitions for stored products.
type Machine struct {
	products storage.ProductStore
	roles    roles.Reader
}

// New constructs a machine reading products and caller roles.
func New(products storage.ProductStore, roles roles.Reader) *Machine {
	return &Machine{products: products, roles: roles}
}

// Actor resolves the caller's actor description for p.
func (m *Machine) Actor(ctx context.Context, p product.Product, caller string) (Actor, error) {
	r, err := m.roles.GetRole(ctx, caller)
	if err != nil {
		return Actor{}, err
	}
	admin, err := m.roles.IsAdmin(ctx, caller)
	if err != nil {
		return Actor{}, err
	}
	return Actor{Role: r, Admin: admin, Creator: p.OriginalOwner == caller}, nil
}

// ValidateTransition loads the product and decides whether caller may move it
// to the state named by label. It returns the product and parsed target on
// success.
func (m *Machine) ValidateTransition(ctx context.Context, productID int64, label, caller string) (product.Product, product.State, error) {
	next, err := ParseLabel(label)
	if err != nil {
		return product.Product{}, product.StateUnknown, err
	}
	p, err := m.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return product.Product{}, product.StateUnknown, apperrors.NotFound("product %d not found", productID)
		}
		return product.Product{}, product.StateUnknown, err
	}
	actor, err := m.Actor(ctx, p, caller)
	if err != nil {
		return product.Product{}, product.StateUnknown, err
	}
	if err := Decide(p.State, next, actor); err != nil {
		return product.Product{}, product.StateUnknown, AsServiceError(err)
	}
	return p, next, nil
}

// Allowed lists the states caller may currently request for productID.
func (m *Machine) Allowed(ctx context.Context, productID int64, caller string) ([]product.State, error) {
	p, err := m.products.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperrors.NotFound("product %d not found", productID)
		}
		return nil, err
	}
	actor, err := m.Actor(ctx, p, caller)
	if err != nil {
		return nil, err
	}
	return Next(p.State, actor), nil
}
