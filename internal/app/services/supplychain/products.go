package supplychain

import (
	"context"

	domainaudit "github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/services/lifecycle"
	"github.com/R3E-Network/supplychain/internal/app/services/products"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

// CreateProduct registers a product owned by caller and mints its title.
func (s *Service) CreateProduct(ctx context.Context, caller string, in products.CreateInput) (product.Product, error) {
	var created product.Product
	err := s.mutate(ctx, ClassProducts, "create_product", func(ctx context.Context, c *components) error {
		p, err := c.catalog.Create(ctx, caller, in)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, p.ID, caller, domainaudit.ActionCreation, p.Status, "", caller); err != nil {
			return err
		}
		if err := s.callTitles(ctx, func(ctx context.Context) error {
			return s.titles.Mint(ctx, p.ID, caller)
		}); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return product.Product{}, err
	}
	return created, nil
}

// UpdateStatus moves a product to the state named by label on behalf of its
// owner (or an admin), settling payment when the target settles.
func (s *Service) UpdateStatus(ctx context.Context, caller string, id int64, label string) (product.Product, error) {
	var updated product.Product
	err := s.mutate(ctx, ClassProducts, "update_status", func(ctx context.Context, c *components) error {
		current, err := c.catalog.Get(ctx, id)
		if err != nil {
			return err
		}
		// Settlement debits the current owner, so only the owner (or an admin
		// acting for them) may drive the regular path.
		if current.Owner != caller {
			admin, err := c.roles.IsAdmin(ctx, caller)
			if err != nil {
				return err
			}
			if !admin {
				return apperrors.NotAuthorized("%s does not own product %d", caller, id)
			}
		}
		p, next, err := c.machine.ValidateTransition(ctx, id, label, caller)
		if err != nil {
			return err
		}
		updated, err = s.applyState(ctx, c, p, next, caller)
		return err
	})
	return updated, err
}

// ForceStatus is the admin override: any state except the current one.
func (s *Service) ForceStatus(ctx context.Context, caller string, id int64, label string) (product.Product, error) {
	var updated product.Product
	err := s.mutate(ctx, ClassProducts, "force_status", func(ctx context.Context, c *components) error {
		admin, err := c.roles.IsAdmin(ctx, caller)
		if err != nil {
			return err
		}
		if !admin {
			return apperrors.NotAuthorized("account %s is not an admin", caller)
		}
		next, err := lifecycle.ParseLabel(label)
		if err != nil {
			return err
		}
		p, err := c.catalog.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := lifecycle.DecideOverride(p.State, next); err != nil {
			return lifecycle.AsServiceError(err)
		}
		updated, err = s.applyState(ctx, c, p, next, caller)
		return err
	})
	return updated, err
}

// applyState stores the transition, settles when required and audits it.
func (s *Service) applyState(ctx context.Context, c *components, p product.Product, next product.State, caller string) (product.Product, error) {
	updated, err := c.catalog.ApplyState(ctx, p, next, caller)
	if err != nil {
		return product.Product{}, err
	}
	if next.Settles() {
		seller := updated.PreviousOwner
		if seller == "" {
			seller = updated.OriginalOwner
		}
		if seller != updated.Owner {
			if err := c.ledger.Settle(ctx, updated.ID, updated.Owner, seller, updated.Price); err != nil {
				return product.Product{}, err
			}
		}
	}
	if _, err := c.audit.Record(ctx, updated.ID, caller, domainaudit.ActionStatusUpdate, updated.Status, updated.Owner, updated.Owner); err != nil {
		return product.Product{}, err
	}
	return updated, nil
}

// Transfer hands a product to newOwner and moves its title.
func (s *Service) Transfer(ctx context.Context, caller string, id int64, newOwner, finalCustomer string) (product.Product, error) {
	var moved product.Product
	err := s.mutate(ctx, ClassProducts, "transfer", func(ctx context.Context, c *components) error {
		before, after, err := c.catalog.Transfer(ctx, id, caller, newOwner, finalCustomer)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, id, caller, domainaudit.ActionTransfer, after.Status, before.Owner, after.Owner); err != nil {
			return err
		}
		if err := s.callTitles(ctx, func(ctx context.Context) error {
			return s.titles.Transfer(ctx, id, before.Owner, after.Owner)
		}); err != nil {
			return err
		}
		moved = after
		return nil
	})
	return moved, err
}

// Return sends a product back to its previous owner.
func (s *Service) Return(ctx context.Context, caller string, id int64) (product.Product, error) {
	var returned product.Product
	err := s.mutate(ctx, ClassProducts, "return", func(ctx context.Context, c *components) error {
		before, after, err := c.catalog.Return(ctx, id, caller)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, id, caller, domainaudit.ActionReturn, after.Status, before.Owner, after.Owner); err != nil {
			return err
		}
		if err := s.callTitles(ctx, func(ctx context.Context) error {
			return s.titles.Transfer(ctx, id, before.Owner, after.Owner)
		}); err != nil {
			return err
		}
		returned = after
		return nil
	})
	return returned, err
}

// Remove deletes a product and burns its title. Audit records survive.
func (s *Service) Remove(ctx context.Context, caller string, id int64) error {
	return s.mutate(ctx, ClassProducts, "remove", func(ctx context.Context, c *components) error {
		p, err := c.catalog.Remove(ctx, id, caller)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, id, caller, domainaudit.ActionDeletion, p.Status, p.Owner, ""); err != nil {
			return err
		}
		return s.callTitles(ctx, func(ctx context.Context) error {
			return s.titles.Burn(ctx, id, p.Owner)
		})
	})
}

// UpdateDetails sets storage notes and content references.
func (s *Service) UpdateDetails(ctx context.Context, caller string, id int64, d product.Details) (product.Product, error) {
	var updated product.Product
	err := s.mutate(ctx, ClassProducts, "update_details", func(ctx context.Context, c *components) error {
		p, err := c.catalog.UpdateDetails(ctx, id, caller, d)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, id, caller, domainaudit.ActionMetadataUpdate, p.Status, p.Owner, p.Owner); err != nil {
			return err
		}
		updated = p
		return nil
	})
	return updated, err
}

// MarkVerified flags a product as human verified. Admin only.
func (s *Service) MarkVerified(ctx context.Context, caller string, id int64) (product.Product, error) {
	var verified product.Product
	err := s.mutate(ctx, ClassProducts, "mark_verified", func(ctx context.Context, c *components) error {
		p, err := c.catalog.MarkVerified(ctx, id, caller)
		if err != nil {
			return err
		}
		if _, err := c.audit.Record(ctx, id, caller, domainaudit.ActionVerification, p.Status, p.Owner, p.Owner); err != nil {
			return err
		}
		verified = p
		return nil
	})
	return verified, err
}

// Rate records caller's star rating for a product.
func (s *Service) Rate(ctx context.Context, caller string, id int64, stars int, fingerprint string) (rating.Rating, error) {
	var rated rating.Rating
	err := s.mutate(ctx, ClassRatings, "rate", func(ctx context.Context, c *components) error {
		var err error
		rated, err = c.ratings.Rate(ctx, id, caller, stars, fingerprint)
		return err
	})
	return rated, err
}
