package supplychain

import (
	"context"

	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

// AssignInitialRole lets caller self-select Supplier or Customer once.
func (s *Service) AssignInitialRole(ctx context.Context, caller string, r role.Role) error {
	return s.mutate(ctx, ClassRoles, "assign_initial_role", func(ctx context.Context, c *components) error {
		return c.roles.AssignInitialRole(ctx, caller, r)
	})
}

// AssignRole gives account role r. Admin only.
func (s *Service) AssignRole(ctx context.Context, caller, account string, r role.Role) error {
	return s.mutate(ctx, ClassRoles, "assign_role", func(ctx context.Context, c *components) error {
		return c.roles.AssignRole(ctx, caller, account, r)
	})
}

// RemoveRole clears role r from account. Admin only.
func (s *Service) RemoveRole(ctx context.Context, caller, account string, r role.Role) error {
	return s.mutate(ctx, ClassRoles, "remove_role", func(ctx context.Context, c *components) error {
		return c.roles.RemoveRole(ctx, caller, account, r)
	})
}

// AddAdmin adds account to the admin set. Admin only.
func (s *Service) AddAdmin(ctx context.Context, caller, account string) error {
	return s.mutate(ctx, ClassRoles, "add_admin", func(ctx context.Context, c *components) error {
		return c.roles.AddAdmin(ctx, caller, account)
	})
}

// RemoveAdmin drops account from the admin set. Admin only.
func (s *Service) RemoveAdmin(ctx context.Context, caller, account string) error {
	return s.mutate(ctx, ClassRoles, "remove_admin", func(ctx context.Context, c *components) error {
		return c.roles.RemoveAdmin(ctx, caller, account)
	})
}

// Bootstrap seeds the admin set while it is empty.
func (s *Service) Bootstrap(ctx context.Context, accounts ...string) ([]string, error) {
	var added []string
	err := s.mutate(ctx, ClassRoles, "bootstrap", func(ctx context.Context, c *components) error {
		var err error
		added, err = c.roles.Bootstrap(ctx, accounts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(added) > 0 {
		s.log.WithField("admins", added).Info("admin set bootstrapped")
	}
	return added, nil
}

// SetHalted toggles the halt switch. Admin only; allowed while halted.
func (s *Service) SetHalted(ctx context.Context, caller string, halted bool) error {
	settable, ok := s.halt.(halt.Settable)
	if !ok {
		return apperrors.InvalidInput("halt switch is not settable")
	}
	admin, err := s.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !admin {
		return apperrors.NotAuthorized("account %s is not an admin", caller)
	}
	if err := settable.SetHalted(ctx, halted); err != nil {
		return apperrors.Internal("set halt switch", err)
	}
	s.log.WithField("halted", halted).WithField("by", caller).Warn("halt switch changed")
	s.publish(ctx, []notify.Event{notify.New(notify.HaltChanged, caller, 0).With("halted", halted)})
	return nil
}
