package supplychain

import (
	"context"

	"github.com/R3E-Network/supplychain/internal/app/domain/escrow"
)

// Deposit credits amount to caller's escrow balance.
func (s *Service) Deposit(ctx context.Context, caller string, amount int64) (escrow.Movement, error) {
	var m escrow.Movement
	err := s.mutate(ctx, ClassFunds, "deposit", func(ctx context.Context, c *components) error {
		var err error
		m, err = c.ledger.Deposit(ctx, caller, amount)
		return err
	})
	return m, err
}

// Withdraw debits amount from caller's withdrawable balance.
func (s *Service) Withdraw(ctx context.Context, caller string, amount int64) (escrow.Movement, error) {
	var m escrow.Movement
	err := s.mutate(ctx, ClassFunds, "withdraw", func(ctx context.Context, c *components) error {
		var err error
		m, err = c.ledger.Withdraw(ctx, caller, amount)
		return err
	})
	return m, err
}
