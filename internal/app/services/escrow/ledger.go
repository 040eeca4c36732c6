// Package escrow keeps per-account deposited balances and moves funds
// between buyer and seller on settlement.
package escrow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	domain "github.com/R3E-Network/supplychain/internal/app/domain/escrow"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/services/roles"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Ledger owns escrow balances.
type Ledger struct {
	store    storage.BalanceStore
	products storage.ProductStore
	roles    roles.Reader
	events   notify.Recorder
	log      *logger.Logger
	now      func() time.Time
}

// New constructs a ledger. products and roles feed the customer
// withdrawal limit.
func New(store storage.BalanceStore, products storage.ProductStore, roles roles.Reader, events notify.Recorder, log *logger.Logger) *Ledger {
	if events == nil {
		events = notify.Discard
	}
	if log == nil {
		log = logger.NewDefault("escrow")
	}
	return &Ledger{
		store:    store,
		products: products,
		roles:    roles,
		events:   events,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// Balance returns the account's escrow balance.
func (l *Ledger) Balance(ctx context.Context, account string) (int64, error) {
	return l.store.GetBalance(ctx, account)
}

// Position returns balance, earmarked and withdrawable amounts.
func (l *Ledger) Position(ctx context.Context, account string) (domain.Balance, error) {
	balance, err := l.store.GetBalance(ctx, account)
	if err != nil {
		return domain.Balance{}, err
	}
	earmarked, err := l.earmarked(ctx, account)
	if err != nil {
		return domain.Balance{}, err
	}
	withdrawable := balance - earmarked
	if withdrawable < 0 {
		withdrawable = 0
	}
	return domain.Balance{
		Account:      account,
		Balance:      balance,
		Earmarked:    earmarked,
		Withdrawable: withdrawable,
	}, nil
}

// earmarked sums the price of in-transit products owned by a customer.
// Other roles have nothing earmarked.
func (l *Ledger) earmarked(ctx context.Context, account string) (int64, error) {
	if l.roles == nil || l.products == nil {
		return 0, nil
	}
	customer, err := l.roles.HasRole(ctx, account, role.Customer)
	if err != nil || !customer {
		return 0, err
	}
	ids, err := l.products.OwnerIndex(ctx, account)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		p, err := l.products.GetProduct(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if p.Owner == account && p.State.InTransit() {
			total += p.Price
		}
	}
	return total, nil
}

// Deposit credits amount to account.
func (l *Ledger) Deposit(ctx context.Context, account string, amount int64) (domain.Movement, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return domain.Movement{}, apperrors.InvalidInput("account is required")
	}
	if amount <= 0 {
		return domain.Movement{}, apperrors.InvalidInput("amount must be positive")
	}
	m, err := l.apply(ctx, account, amount, domain.MovementDeposit, 0, "")
	if err != nil {
		return domain.Movement{}, err
	}
	l.events.Record(notify.New(notify.EscrowDeposit, account, 0).
		With("amount", amount).
		With("balance", m.BalanceAfter))
	l.log.WithField("account", account).WithField("amount", amount).Info("escrow deposit")
	return m, nil
}

// Withdraw debits amount from account within its withdrawable limit.
func (l *Ledger) Withdraw(ctx context.Context, account string, amount int64) (domain.Movement, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return domain.Movement{}, apperrors.InvalidInput("account is required")
	}
	if amount <= 0 {
		return domain.Movement{}, apperrors.InvalidInput("amount must be positive")
	}
	pos, err := l.Position(ctx, account)
	if err != nil {
		return domain.Movement{}, err
	}
	if amount > pos.Withdrawable {
		return domain.Movement{}, apperrors.InsufficientFunds("insufficient balance: available %d, requested %d", pos.Withdrawable, amount).
			WithDetails("balance", pos.Balance).
			WithDetails("earmarked", pos.Earmarked)
	}
	m, err := l.apply(ctx, account, -amount, domain.MovementWithdrawal, 0, "")
	if err != nil {
		return domain.Movement{}, err
	}
	l.events.Record(notify.New(notify.EscrowWithdrawal, account, 0).
		With("amount", amount).
		With("balance", m.BalanceAfter))
	l.log.WithField("account", account).WithField("amount", amount).Info("escrow withdrawal")
	return m, nil
}

// Settle debits buyer and credits seller by amount for productID.
func (l *Ledger) Settle(ctx context.Context, productID int64, buyer, seller string, amount int64) error {
	if buyer == "" || seller == "" {
		return apperrors.InvalidInput("settlement requires buyer and seller")
	}
	if amount < 0 {
		return apperrors.InvalidInput("settlement amount must not be negative")
	}
	balance, err := l.store.GetBalance(ctx, buyer)
	if err != nil {
		return err
	}
	if balance < amount {
		return apperrors.InsufficientFunds("insufficient balance: available %d, requested %d", balance, amount).
			WithDetails("account", buyer)
	}
	if amount > 0 {
		if _, err := l.apply(ctx, buyer, -amount, domain.MovementSettlementDebit, productID, seller); err != nil {
			return err
		}
		if _, err := l.apply(ctx, seller, amount, domain.MovementSettlementCredit, productID, buyer); err != nil {
			return err
		}
	}
	l.events.Record(notify.New(notify.EscrowSettled, buyer, productID).
		With("buyer", buyer).
		With("seller", seller).
		With("amount", amount))
	l.log.WithField("product_id", productID).
		WithField("buyer", buyer).
		WithField("seller", seller).
		WithField("amount", amount).
		Info("escrow settled")
	return nil
}

// Movements lists the account's journal.
func (l *Ledger) Movements(ctx context.Context, account string) ([]domain.Movement, error) {
	return l.store.ListMovements(ctx, account)
}

func (l *Ledger) apply(ctx context.Context, account string, delta int64, typ domain.MovementType, productID int64, counterparty string) (domain.Movement, error) {
	balance, err := l.store.GetBalance(ctx, account)
	if err != nil {
		return domain.Movement{}, err
	}
	next := balance + delta
	if next < 0 {
		return domain.Movement{}, apperrors.InsufficientFunds("insufficient balance: available %d, requested %d", balance, -delta)
	}
	if delta > 0 && next < balance {
		return domain.Movement{}, apperrors.InvalidInput("balance overflow")
	}
	if err := l.store.SetBalance(ctx, account, next); err != nil {
		return domain.Movement{}, err
	}
	m := domain.Movement{
		ID:           uuid.NewString(),
		Account:      account,
		Type:         typ,
		Amount:       delta,
		BalanceAfter: next,
		ProductID:    productID,
		Counterparty: counterparty,
		CreatedAt:    l.now(),
	}
	if err := l.store.AppendMovement(ctx, m); err != nil {
		return domain.Movement{}, err
	}
	return m, nil
}
