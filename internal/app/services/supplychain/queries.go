package supplychain

import (
	"context"
	"time"

	domainaudit "github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/rating"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
)

// RoleInfo describes an account's effective role and admin status.
type RoleInfo struct {
	Account string    `json:"account"`
	Role    role.Role `json:"role"`
	Admin   bool      `json:"admin"`
}

// Role returns the effective role of account.
func (s *Service) Role(ctx context.Context, account string) (RoleInfo, error) {
	info := RoleInfo{Account: account}
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		if info.Role, err = c.roles.GetRole(ctx, account); err != nil {
			return err
		}
		info.Admin, err = c.roles.IsAdmin(ctx, account)
		return err
	})
	return info, err
}

// HasRole reports whether account holds r.
func (s *Service) HasRole(ctx context.Context, account string, r role.Role) (bool, error) {
	var ok bool
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		ok, err = c.roles.HasRole(ctx, account, r)
		return err
	})
	return ok, err
}

// IsAdmin reports whether account is an admin.
func (s *Service) IsAdmin(ctx context.Context, account string) (bool, error) {
	var ok bool
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		ok, err = c.roles.IsAdmin(ctx, account)
		return err
	})
	return ok, err
}

// Admins lists the admin set.
func (s *Service) Admins(ctx context.Context) ([]string, error) {
	var admins []string
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		admins, err = c.roles.Admins(ctx)
		return err
	})
	return admins, err
}

// Balance returns account's escrow position.
func (s *Service) Balance(ctx context.Context, account string) (escrow.Balance, error) {
	var b escrow.Balance
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		b, err = c.ledger.Position(ctx, account)
		return err
	})
	return b, err
}

// Movements lists account's escrow journal.
func (s *Service) Movements(ctx context.Context, account string) ([]escrow.Movement, error) {
	var moves []escrow.Movement
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		moves, err = c.ledger.Movements(ctx, account)
		return err
	})
	return moves, err
}

// Product returns a product by id.
func (s *Service) Product(ctx context.Context, id int64) (product.Product, error) {
	var p product.Product
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		p, err = c.catalog.Get(ctx, id)
		return err
	})
	return p, err
}

// History returns a product's status history.
func (s *Service) History(ctx context.Context, id int64) ([]product.StatusRecord, error) {
	var hist []product.StatusRecord
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		hist, err = c.catalog.History(ctx, id)
		return err
	})
	return hist, err
}

// ProductsByOwner returns the ids held by owner.
func (s *Service) ProductsByOwner(ctx context.Context, owner string) ([]int64, error) {
	var ids []int64
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		ids, err = c.catalog.ListByOwner(ctx, owner)
		return err
	})
	return ids, err
}

// ExpiringProducts lists products whose expiry passed at now and that are
// not yet in a final state.
func (s *Service) ExpiringProducts(ctx context.Context, now time.Time) ([]product.Product, error) {
	var due []product.Product
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		due, err = c.catalog.Expiring(ctx, now)
		return err
	})
	return due, err
}

// AllowedTransitions lists the states caller may currently request.
func (s *Service) AllowedTransitions(ctx context.Context, id int64, caller string) ([]product.State, error) {
	var states []product.State
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		states, err = c.machine.Allowed(ctx, id, caller)
		return err
	})
	return states, err
}

// Transactions returns the audit records of one product, including removed
// products.
func (s *Service) Transactions(ctx context.Context, id int64) ([]domainaudit.Record, error) {
	var recs []domainaudit.Record
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		recs, err = c.audit.ProductHistory(ctx, id)
		return err
	})
	return recs, err
}

// FullHistory returns the complete audit log in insertion order.
func (s *Service) FullHistory(ctx context.Context) ([]domainaudit.Record, error) {
	var recs []domainaudit.Record
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		recs, err = c.audit.FullHistory(ctx)
		return err
	})
	return recs, err
}

// AverageRating returns the rating summary of a product.
func (s *Service) AverageRating(ctx context.Context, id int64) (rating.Summary, error) {
	var summary rating.Summary
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		summary, err = c.ratings.Average(ctx, id)
		return err
	})
	return summary, err
}

// Rating returns rater's latest rating of a product.
func (s *Service) Rating(ctx context.Context, id int64, rater string) (rating.Rating, error) {
	var r rating.Rating
	err := s.view(ctx, func(ctx context.Context, c *components) error {
		var err error
		r, err = c.ratings.Rating(ctx, id, rater)
		return err
	})
	return r, err
}
