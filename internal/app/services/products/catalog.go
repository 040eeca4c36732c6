// Package products owns product records, their status history and the
// per-owner product index.
package products

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/services/roles"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// BalanceReader reports escrow balances for the transfer funding check.
type BalanceReader interface {
	GetBalance(ctx context.Context, account string) (int64, error)
}

// Catalog manages products.
type Catalog struct {
	store    storage.ProductStore
	roles    roles.Reader
	balances BalanceReader
	events   notify.Recorder
	log      *logger.Logger
	now      func() time.Time
}

// CreateInput carries the fields supplied at creation.
type CreateInput struct {
	Name   string
	Price  int64
	Expiry time.Time
}

// New constructs a catalog.
func New(store storage.ProductStore, roles roles.Reader, balances BalanceReader, events notify.Recorder, log *logger.Logger) *Catalog {
	if events == nil {
		events = notify.Discard
	}
	if log == nil {
		log = logger.NewDefault("products")
	}
	return &Catalog{
		store:    store,
		roles:    roles,
		balances: balances,
		events:   events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (c *Catalog) WithClock(now func() time.Time) *Catalog {
	if now != nil {
		c.now = now
	}
	return c
}

// Create registers a new product owned by caller in state Created.
func (c *Catalog) Create(ctx context.Context, caller string, in CreateInput) (product.Product, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return product.Product{}, apperrors.InvalidInput("caller is required")
	}
	if err := c.requireSupplierOrAdmin(ctx, caller); err != nil {
		return product.Product{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return product.Product{}, apperrors.InvalidInput("name is required")
	}
	if in.Price < 0 {
		return product.Product{}, apperrors.InvalidInput("price must not be negative")
	}
	now := c.now()
	if !in.Expiry.IsZero() && !in.Expiry.After(now) {
		return product.Product{}, apperrors.InvalidInput("expiry must be in the future")
	}

	id, err := c.store.NextProductID(ctx)
	if err != nil {
		return product.Product{}, err
	}
	p := product.Product{
		ID:            id,
		Name:          name,
		Price:         in.Price,
		Owner:         caller,
		OriginalOwner: caller,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if !in.Expiry.IsZero() {
		p.Expiry = in.Expiry.UTC()
	}
	p.SetState(product.StateCreated)

	if err := c.store.CreateProduct(ctx, p); err != nil {
		return product.Product{}, err
	}
	if err := c.appendHistory(ctx, p, caller, now); err != nil {
		return product.Product{}, err
	}
	if err := c.store.IndexAppend(ctx, caller, id); err != nil {
		return product.Product{}, err
	}

	c.events.Record(notify.New(notify.ProductCreated, caller, id).
		With("name", name).
		With("price", in.Price))
	c.log.WithField("product_id", id).WithField("owner", caller).Info("product created")
	return p, nil
}

func (c *Catalog) requireSupplierOrAdmin(ctx context.Context, caller string) error {
	admin, err := c.roles.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if admin {
		return nil
	}
	supplier, err := c.roles.HasRole(ctx, caller, role.Supplier)
	if err != nil {
		return err
	}
	if !supplier {
		return apperrors.NotAuthorized("%s is not a supplier", caller)
	}
	return nil
}

// Get returns the product.
func (c *Catalog) Get(ctx context.Context, id int64) (product.Product, error) {
	p, err := c.store.GetProduct(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return product.Product{}, apperrors.NotFound("product %d not found", id)
		}
		return product.Product{}, err
	}
	return p, nil
}

// History returns the status history, oldest first.
func (c *Catalog) History(ctx context.Context, id int64) ([]product.StatusRecord, error) {
	if _, err := c.Get(ctx, id); err != nil {
		return nil, err
	}
	return c.store.ListHistory(ctx, id)
}

// ListByOwner returns the ids indexed under owner. Order is not meaningful.
func (c *Catalog) ListByOwner(ctx context.Context, owner string) ([]int64, error) {
	return c.store.OwnerIndex(ctx, owner)
}

// List returns every stored product.
func (c *Catalog) List(ctx context.Context) ([]product.Product, error) {
	return c.store.ListProducts(ctx)
}

// Expiring returns the products whose expiry passed at now and that are not
// yet Expired or delivered.
func (c *Catalog) Expiring(ctx context.Context, now time.Time) ([]product.Product, error) {
	all, err := c.store.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	var out []product.Product
	for _, p := range all {
		if !p.ExpiredAt(now) {
			continue
		}
		if p.State == product.StateExpired || p.State == product.StateDeliveredToCustomer {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Transfer hands the product from its current owner to newOwner. It returns
// the product before and after the move.
func (c *Catalog) Transfer(ctx context.Context, id int64, caller, newOwner, finalCustomer string) (before, after product.Product, err error) {
	newOwner = strings.TrimSpace(newOwner)
	finalCustomer = strings.TrimSpace(finalCustomer)
	if newOwner == "" {
		return before, after, apperrors.InvalidInput("new owner is required")
	}
	p, err := c.Get(ctx, id)
	if err != nil {
		return before, after, err
	}
	if p.Owner != caller {
		return before, after, apperrors.NotAuthorized("%s does not own product %d", caller, id)
	}
	if newOwner == caller {
		return before, after, apperrors.InvalidInput("cannot transfer product %d to its owner", id)
	}

	balance, err := c.balances.GetBalance(ctx, newOwner)
	if err != nil {
		return before, after, err
	}
	if balance < p.Price {
		return before, after, apperrors.InsufficientFunds("insufficient balance: available %d, requested %d", balance, p.Price).
			WithDetails("account", newOwner)
	}

	supplier, err := c.roles.HasRole(ctx, newOwner, role.Supplier)
	if err != nil {
		return before, after, err
	}
	if supplier {
		if finalCustomer == "" {
			return before, after, apperrors.InvalidInput("final customer is required when transferring to a supplier")
		}
	} else {
		finalCustomer = newOwner
	}

	before = p
	p.PreviousOwner = p.Owner
	p.Owner = newOwner
	p.FinalCustomer = finalCustomer
	p.UpdatedAt = c.now()
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return before, after, err
	}
	if err := c.store.IndexRemove(ctx, caller, id); err != nil {
		return before, after, err
	}
	if err := c.store.IndexAppend(ctx, newOwner, id); err != nil {
		return before, after, err
	}

	c.events.Record(notify.New(notify.ProductTransferred, caller, id).
		With("from", caller).
		With("to", newOwner).
		With("final_customer", finalCustomer))
	c.log.WithField("product_id", id).
		WithField("from", caller).
		WithField("to", newOwner).
		Info("product transferred")
	return before, p, nil
}

// Return sends the product back to its previous owner and forces state
// Returned. The returner becomes the previous owner.
func (c *Catalog) Return(ctx context.Context, id int64, caller string) (before, after product.Product, err error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return before, after, err
	}
	if p.Owner != caller {
		return before, after, apperrors.NotAuthorized("%s does not own product %d", caller, id)
	}
	if p.PreviousOwner == "" {
		return before, after, apperrors.InvalidInput("product %d has no previous owner", id)
	}
	if p.State == product.StateReturned {
		return before, after, apperrors.InvalidTransition("product %d is already returned", id).
			WithDetails("from", p.State.String()).
			WithDetails("to", product.StateReturned.String())
	}

	before = p
	now := c.now()
	target := p.PreviousOwner
	p.Owner = target
	p.PreviousOwner = caller
	p.ReturnedToOriginal = target == p.OriginalOwner
	p.SetState(product.StateReturned)
	p.UpdatedAt = now
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return before, after, err
	}
	if err := c.appendHistory(ctx, p, caller, now); err != nil {
		return before, after, err
	}
	if err := c.store.IndexRemove(ctx, caller, id); err != nil {
		return before, after, err
	}
	if err := c.store.IndexAppend(ctx, target, id); err != nil {
		return before, after, err
	}

	c.events.Record(notify.New(notify.ProductReturned, caller, id).
		With("to", target).
		With("returned_to_original", p.ReturnedToOriginal))
	c.log.WithField("product_id", id).WithField("from", caller).WithField("to", target).Info("product returned")
	return before, p, nil
}

// Remove deletes the product and its history. Owner or admin only.
func (c *Catalog) Remove(ctx context.Context, id int64, caller string) (product.Product, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return product.Product{}, err
	}
	if p.Owner != caller {
		admin, err := c.roles.IsAdmin(ctx, caller)
		if err != nil {
			return product.Product{}, err
		}
		if !admin {
			return product.Product{}, apperrors.NotAuthorized("%s may not remove product %d", caller, id)
		}
	}
	if err := c.store.DeleteProduct(ctx, id); err != nil {
		return product.Product{}, err
	}
	if err := c.store.IndexRemove(ctx, p.Owner, id); err != nil {
		return product.Product{}, err
	}

	c.events.Record(notify.New(notify.ProductRemoved, caller, id).With("owner", p.Owner))
	c.log.WithField("product_id", id).WithField("by", caller).Info("product removed")
	return p, nil
}

// ApplyState moves p into next, appends a history record and returns the
// stored product. Callers validate the transition first.
func (c *Catalog) ApplyState(ctx context.Context, p product.Product, next product.State, caller string) (product.Product, error) {
	now := c.now()
	from := p.State
	p.SetState(next)
	p.UpdatedAt = now
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return product.Product{}, err
	}
	if err := c.appendHistory(ctx, p, caller, now); err != nil {
		return product.Product{}, err
	}

	c.events.Record(notify.New(notify.StatusUpdated, caller, p.ID).
		With("from", from.String()).
		With("to", next.String()))
	c.log.WithField("product_id", p.ID).
		WithField("from", from.String()).
		WithField("to", next.String()).
		Info("product status updated")
	return p, nil
}

// UpdateDetails changes storage notes and content references. The current
// owner or the original creator may do this.
func (c *Catalog) UpdateDetails(ctx context.Context, id int64, caller string, d product.Details) (product.Product, error) {
	if d.Empty() {
		return product.Product{}, apperrors.InvalidInput("no details supplied")
	}
	p, err := c.Get(ctx, id)
	if err != nil {
		return product.Product{}, err
	}
	if p.Owner != caller && p.OriginalOwner != caller {
		return product.Product{}, apperrors.NotAuthorized("%s may not update product %d", caller, id)
	}
	if d.StorageConditions != nil {
		p.StorageConditions = strings.TrimSpace(*d.StorageConditions)
	}
	if d.OriginCID != nil {
		p.OriginCID = strings.TrimSpace(*d.OriginCID)
	}
	if d.DocumentCID != nil {
		p.DocumentCID = strings.TrimSpace(*d.DocumentCID)
	}
	p.UpdatedAt = c.now()
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return product.Product{}, err
	}

	c.events.Record(notify.New(notify.ProductUpdated, caller, id))
	c.log.WithField("product_id", id).WithField("by", caller).Info("product details updated")
	return p, nil
}

// MarkVerified sets the human verification flag. Admin only.
func (c *Catalog) MarkVerified(ctx context.Context, id int64, caller string) (product.Product, error) {
	admin, err := c.roles.IsAdmin(ctx, caller)
	if err != nil {
		return product.Product{}, err
	}
	if !admin {
		return product.Product{}, apperrors.NotAuthorized("%s is not an admin", caller)
	}
	p, err := c.Get(ctx, id)
	if err != nil {
		return product.Product{}, err
	}
	if p.HumanVerified {
		return p, nil
	}
	p.HumanVerified = true
	p.UpdatedAt = c.now()
	if err := c.store.UpdateProduct(ctx, p); err != nil {
		return product.Product{}, err
	}
	c.events.Record(notify.New(notify.ProductVerified, caller, id))
	c.log.WithField("product_id", id).Info("product verified")
	return p, nil
}

func (c *Catalog) appendHistory(ctx context.Context, p product.Product, by string, at time.Time) error {
	return c.store.AppendHistory(ctx, product.StatusRecord{
		ProductID: p.ID,
		State:     p.State,
		Status:    p.Status,
		Timestamp: at,
		UpdatedBy: by,
	})
}
