package supplychain

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainaudit "github.com/R3E-Network/supplychain/internal/app/domain/audit"
	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/domain/role"
	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/services/products"
	"github.com/R3E-Network/supplychain/internal/app/storage/memory"
	"github.com/R3E-Network/supplychain/internal/app/title"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
)

var epoch = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	svc    *Service
	titles *title.Memory
	flag   *halt.Flag
	bus    *notify.Bus
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		titles: title.NewMemory(),
		flag:   halt.NewFlag(false),
		bus:    notify.NewBus(100),
	}
	h.svc = New(Options{
		Store:     memory.New(),
		Titles:    h.titles,
		Halt:      h.flag,
		Publisher: h.bus,
		Clock:     func() time.Time { return epoch },
	})
	_, err := h.svc.Bootstrap(context.Background(), "root")
	require.NoError(t, err)
	return h
}

// seedSale sets up supplier A with product 1 at price and customer B with
// deposit, and leaves the product Packed and owned by A.
func (h harness) seedSale(t *testing.T, price, deposit int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))
	p, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget", Price: price})
	require.NoError(t, err)
	require.Equal(t, int64(1), p.ID)
	if deposit > 0 {
		_, err = h.svc.Deposit(ctx, "B", deposit)
		require.NoError(t, err)
	}
	require.NoError(t, h.svc.AssignInitialRole(ctx, "B", role.Customer))
	_, err = h.svc.UpdateStatus(ctx, "A", 1, "Packed")
	require.NoError(t, err)
}

func TestDeliveryScenarioSettlesPrice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 100, 100)

	p, err := h.svc.Transfer(ctx, "A", 1, "B", "B")
	require.NoError(t, err)
	assert.Equal(t, "B", p.Owner)
	assert.Equal(t, "A", p.PreviousOwner)
	assert.Equal(t, "B", p.FinalCustomer)

	owner, err := h.titles.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "B", owner)

	p, err = h.svc.UpdateStatus(ctx, "B", 1, "DeliveredToCustomer")
	require.NoError(t, err)
	assert.Equal(t, product.StateDeliveredToCustomer, p.State)
	assert.Equal(t, "DeliveredToCustomer", p.Status)

	b, err := h.svc.Balance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Balance)
	a, err := h.svc.Balance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(100), a.Balance)

	hist, err := h.svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, product.StateCreated, hist[0].State)
	assert.Equal(t, product.StatePacked, hist[1].State)
	assert.Equal(t, "B", hist[2].UpdatedBy)

	recs, err := h.svc.FullHistory(ctx)
	require.NoError(t, err)
	var actions []string
	for _, rec := range recs {
		actions = append(actions, rec.Action)
	}
	assert.Equal(t, []string{
		domainaudit.ActionCreation,
		domainaudit.ActionStatusUpdate,
		domainaudit.ActionTransfer,
		domainaudit.ActionStatusUpdate,
	}, actions)

	settled := h.bus.RecentByType(notify.EscrowSettled, 10)
	require.Len(t, settled, 1)
	assert.Equal(t, int64(100), settled[0].Data["amount"])
	assert.Equal(t, "A", settled[0].Data["seller"])
}

func TestDeniedTransitionLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 100, 100)

	_, err := h.svc.Transfer(ctx, "A", 1, "B", "")
	require.NoError(t, err)

	before, err := h.svc.Product(ctx, 1)
	require.NoError(t, err)
	histBefore, err := h.svc.History(ctx, 1)
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, "B", 1, "ShippedToCustomer")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
	se := apperrors.GetServiceError(err)
	require.NotNil(t, se)
	assert.Equal(t, "RoleNotPermitted", se.Details["reason"])

	_, err = h.svc.UpdateStatus(ctx, "A", 1, "DeliveredToCustomer")
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	_, err = h.svc.UpdateStatus(ctx, "B", 1, "Teleported")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	after, err := h.svc.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	histAfter, err := h.svc.History(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, histBefore, histAfter)

	b, _ := h.svc.Balance(ctx, "B")
	a, _ := h.svc.Balance(ctx, "A")
	assert.Equal(t, int64(100), b.Balance)
	assert.Equal(t, int64(0), a.Balance)
}

func TestSettlementShortfallRollsBackTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 100, 100)

	_, err := h.svc.Transfer(ctx, "A", 1, "B", "")
	require.NoError(t, err)
	_, err = h.svc.Withdraw(ctx, "B", 50)
	require.NoError(t, err)

	_, err = h.svc.UpdateStatus(ctx, "B", 1, "DeliveredToCustomer")
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	p, err := h.svc.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, product.StatePacked, p.State)
	hist, _ := h.svc.History(ctx, 1)
	assert.Len(t, hist, 2)
	a, _ := h.svc.Balance(ctx, "A")
	assert.Equal(t, int64(0), a.Balance)
	b, _ := h.svc.Balance(ctx, "B")
	assert.Equal(t, int64(50), b.Balance)
	assert.Empty(t, h.bus.RecentByType(notify.EscrowSettled, 10))
}

func TestCustomerWithdrawalExcludesInTransit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 60, 100)

	_, err := h.svc.UpdateStatus(ctx, "A", 1, "ShippedToCustomer")
	require.NoError(t, err)
	_, err = h.svc.Transfer(ctx, "A", 1, "B", "")
	require.NoError(t, err)

	pos, err := h.svc.Balance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(60), pos.Earmarked)
	assert.Equal(t, int64(40), pos.Withdrawable)

	_, err = h.svc.Withdraw(ctx, "B", 41)
	require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
	_, err = h.svc.Withdraw(ctx, "B", 40)
	require.NoError(t, err)
}

func TestReturnThenReceiptRefundsReturner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 30, 30)

	_, err := h.svc.Transfer(ctx, "A", 1, "B", "")
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, "B", 1, "DeliveredToCustomer")
	require.NoError(t, err)

	p, err := h.svc.Return(ctx, "B", 1)
	require.NoError(t, err)
	assert.Equal(t, "A", p.Owner)
	assert.Equal(t, "B", p.PreviousOwner)
	assert.True(t, p.ReturnedToOriginal)
	assert.Equal(t, product.StateReturned, p.State)

	owner, _ := h.titles.OwnerOf(ctx, 1)
	assert.Equal(t, "A", owner)

	_, err = h.svc.UpdateStatus(ctx, "A", 1, "Packed")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	_, err = h.svc.UpdateStatus(ctx, "A", 1, "ReceivedBySupplier")
	require.NoError(t, err)

	a, _ := h.svc.Balance(ctx, "A")
	b, _ := h.svc.Balance(ctx, "B")
	assert.Equal(t, int64(0), a.Balance)
	assert.Equal(t, int64(30), b.Balance)

	recs, err := h.svc.Transactions(ctx, 1)
	require.NoError(t, err)
	var sawReturn bool
	for _, rec := range recs {
		if rec.Action == domainaudit.ActionReturn {
			sawReturn = true
			assert.Equal(t, "B", rec.From)
			assert.Equal(t, "A", rec.To)
		}
	}
	assert.True(t, sawReturn)
}

func TestTitleHookReentryIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))

	var (
		reentryErr error
		readName   string
		readErr    error
		held       bool
	)
	h.titles.SetAckHook(func(ctx context.Context, op title.Op, id int64, from, to string) error {
		_, reentryErr = h.svc.Deposit(ctx, "mallory", 5)
		var p product.Product
		p, readErr = h.svc.Product(ctx, id)
		readName = p.Name
		held = h.svc.InFlight(ClassProducts)
		return nil
	})

	p, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget", Price: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)

	require.ErrorIs(t, reentryErr, apperrors.ErrReentrant)
	require.NoError(t, readErr)
	assert.Equal(t, "Widget", readName)
	assert.True(t, held)
	assert.False(t, h.svc.InFlight(ClassProducts))

	b, err := h.svc.Balance(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Balance)
}

func TestTitleHookFreshContextReentryIsRefused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))

	var reentryErr, readErr error
	h.titles.SetAckHook(func(_ context.Context, op title.Op, id int64, from, to string) error {
		_, reentryErr = h.svc.Deposit(context.Background(), "mallory", 5)
		_, readErr = h.svc.Product(context.Background(), id)
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget", Price: 10})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("CreateProduct did not return; in flight = %v", h.svc.InFlight(ClassProducts))
	}

	require.ErrorIs(t, reentryErr, apperrors.ErrReentrant)
	require.ErrorIs(t, readErr, apperrors.ErrReentrant)
	assert.False(t, h.svc.InFlight(ClassProducts))

	// The service keeps accepting work after the refused callbacks.
	h.titles.SetAckHook(nil)
	_, err := h.svc.Deposit(ctx, "mallory", 5)
	require.NoError(t, err)
	b, err := h.svc.Balance(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, int64(5), b.Balance)
}

func TestCreateProductMintFailureReturnsNoProduct(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))

	boom := errors.New("mint rejected")
	h.titles.SetAckHook(func(context.Context, title.Op, int64, string, string) error { return boom })

	p, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget", Price: 10})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, product.Product{}, p)

	_, err = h.svc.Product(ctx, 1)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

// retryRefused repeats fn while it is refused for overlapping a title callout.
func retryRefused(fn func() error) error {
	for {
		err := fn()
		if !errors.Is(err, apperrors.ErrReentrant) {
			return err
		}
		runtime.Gosched()
	}
}

func TestConcurrentSalesConserveFundsAndSnapshots(t *testing.T) {
	const (
		customers = 8
		price     = int64(10)
		deposit   = int64(15)
		withdraw  = int64(5)
	)
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))

	names := make([]string, customers)
	for i := range names {
		names[i] = fmt.Sprintf("C%d", i+1)
		require.NoError(t, h.svc.AssignInitialRole(ctx, names[i], role.Customer))
		p, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget", Price: price})
		require.NoError(t, err)
		_, err = h.svc.UpdateStatus(ctx, "A", p.ID, "Packed")
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// Seller funds and delivered products must move together.
				err := h.svc.view(ctx, func(ctx context.Context, c *components) error {
					delivered := int64(0)
					for id := int64(1); id <= customers; id++ {
						p, err := c.catalog.Get(ctx, id)
						if err != nil {
							return err
						}
						if p.State == product.StateDeliveredToCustomer {
							delivered++
						}
					}
					seller, err := c.ledger.Position(ctx, "A")
					if err != nil {
						return err
					}
					if seller.Balance != delivered*price {
						t.Errorf("snapshot: %d delivered but seller holds %d", delivered, seller.Balance)
					}
					return nil
				})
				if err != nil && !errors.Is(err, apperrors.ErrReentrant) {
					t.Errorf("view: %v", err)
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i, name := range names {
		id := int64(i + 1)
		name := name
		writers.Add(2)
		go func() {
			defer writers.Done()
			steps := []func() error{
				func() error { _, err := h.svc.Deposit(ctx, name, deposit); return err },
				func() error { _, err := h.svc.Transfer(ctx, "A", id, name, name); return err },
				func() error { _, err := h.svc.UpdateStatus(ctx, name, id, "DeliveredToCustomer"); return err },
			}
			for _, step := range steps {
				if err := retryRefused(step); err != nil {
					t.Errorf("%s: %v", name, err)
					return
				}
			}
		}()
		go func() {
			defer writers.Done()
			// Retries until the deposit has landed.
			err := retryRefused(func() error {
				_, err := h.svc.Withdraw(ctx, name, withdraw)
				if errors.Is(err, apperrors.ErrInsufficientFunds) {
					return apperrors.ErrReentrant
				}
				return err
			})
			if err != nil {
				t.Errorf("%s withdraw: %v", name, err)
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	total := int64(0)
	for _, account := range append([]string{"A"}, names...) {
		b, err := h.svc.Balance(ctx, account)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, b.Balance, int64(0))
		total += b.Balance
	}
	assert.Equal(t, customers*(deposit-withdraw), total)

	seller, err := h.svc.Balance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, customers*price, seller.Balance)
	for i, name := range names {
		p, err := h.svc.Product(ctx, int64(i+1))
		require.NoError(t, err)
		assert.Equal(t, name, p.Owner)
		assert.Equal(t, product.StateDeliveredToCustomer, p.State)
	}
}

func TestTitleHookFailureRollsBackTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 10, 10)

	recsBefore, err := h.svc.FullHistory(ctx)
	require.NoError(t, err)

	boom := errors.New("ack rejected")
	h.titles.SetAckHook(func(ctx context.Context, op title.Op, id int64, from, to string) error {
		if op == title.OpTransfer {
			return boom
		}
		return nil
	})

	_, err = h.svc.Transfer(ctx, "A", 1, "B", "")
	require.ErrorIs(t, err, boom)

	p, err := h.svc.Product(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "A", p.Owner)
	assert.Empty(t, p.PreviousOwner)

	ids, _ := h.svc.ProductsByOwner(ctx, "A")
	assert.Equal(t, []int64{1}, ids)
	ids, _ = h.svc.ProductsByOwner(ctx, "B")
	assert.Empty(t, ids)

	owner, _ := h.titles.OwnerOf(ctx, 1)
	assert.Equal(t, "A", owner)

	recsAfter, _ := h.svc.FullHistory(ctx)
	assert.Equal(t, len(recsBefore), len(recsAfter))
	assert.Empty(t, h.bus.RecentByType(notify.ProductTransferred, 10))
}

func TestHaltRejectsMutationsOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Deposit(ctx, "B", 10)
	require.NoError(t, err)

	require.ErrorIs(t, h.svc.SetHalted(ctx, "B", true), apperrors.ErrNotAuthorized)
	require.NoError(t, h.svc.SetHalted(ctx, "root", true))
	assert.True(t, h.svc.Halted(ctx))

	_, err = h.svc.Deposit(ctx, "B", 10)
	require.ErrorIs(t, err, apperrors.ErrHalted)
	require.ErrorIs(t, h.svc.AssignInitialRole(ctx, "C", role.Customer), apperrors.ErrHalted)

	b, err := h.svc.Balance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, int64(10), b.Balance)

	require.NoError(t, h.svc.SetHalted(ctx, "root", false))
	_, err = h.svc.Deposit(ctx, "B", 10)
	require.NoError(t, err)
	assert.Len(t, h.bus.RecentByType(notify.HaltChanged, 10), 2)
}

type brokenSwitch struct{}

func (brokenSwitch) Halted(context.Context) (bool, error) { return false, errors.New("redis down") }

func TestHaltSwitchErrorCountsAsHalted(t *testing.T) {
	svc := New(Options{Store: memory.New(), Halt: brokenSwitch{}})
	_, err := svc.Deposit(context.Background(), "B", 1)
	require.ErrorIs(t, err, apperrors.ErrHalted)
}

func TestIDsNeverReusedAfterRemoval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))

	for i := 0; i < 2; i++ {
		_, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Widget"})
		require.NoError(t, err)
	}
	require.ErrorIs(t, h.svc.Remove(ctx, "B", 2), apperrors.ErrNotAuthorized)
	require.NoError(t, h.svc.Remove(ctx, "A", 2))

	p, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Gadget"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), p.ID)

	_, err = h.svc.Product(ctx, 2)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = h.titles.OwnerOf(ctx, 2)
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	recs, err := h.svc.Transactions(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, domainaudit.ActionDeletion, recs[1].Action)

	ids, _ := h.svc.ProductsByOwner(ctx, "A")
	assert.ElementsMatch(t, []int64{1, 3}, ids)
}

func TestOwnershipIndexFollowsTransfers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.AssignInitialRole(ctx, "A", role.Supplier))
	require.NoError(t, h.svc.AssignInitialRole(ctx, "S", role.Supplier))
	require.NoError(t, h.svc.AssignInitialRole(ctx, "C", role.Customer))

	for i := 0; i < 3; i++ {
		_, err := h.svc.CreateProduct(ctx, "A", products.CreateInput{Name: "Crate"})
		require.NoError(t, err)
	}

	_, err := h.svc.Transfer(ctx, "A", 2, "S", "")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	p, err := h.svc.Transfer(ctx, "A", 2, "S", "C")
	require.NoError(t, err)
	assert.Equal(t, "S", p.Owner)
	assert.Equal(t, "C", p.FinalCustomer)

	_, err = h.svc.Transfer(ctx, "S", 2, "C", "")
	require.NoError(t, err)
	_, err = h.svc.Transfer(ctx, "A", 1, "C", "")
	require.NoError(t, err)

	ids, _ := h.svc.ProductsByOwner(ctx, "A")
	assert.ElementsMatch(t, []int64{3}, ids)
	ids, _ = h.svc.ProductsByOwner(ctx, "S")
	assert.Empty(t, ids)
	ids, _ = h.svc.ProductsByOwner(ctx, "C")
	assert.ElementsMatch(t, []int64{1, 2}, ids)

	for _, id := range []int64{1, 2} {
		owner, err := h.titles.OwnerOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "C", owner)
	}
}

func TestForceStatusIsAdminOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 10, 0)

	_, err := h.svc.ForceStatus(ctx, "A", 1, "Expired")
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)

	_, err = h.svc.ForceStatus(ctx, "root", 1, "Packed")
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)

	p, err := h.svc.ForceStatus(ctx, "root", 1, "expired")
	require.NoError(t, err)
	assert.Equal(t, product.StateExpired, p.State)

	allowed, err := h.svc.AllowedTransitions(ctx, 1, "A")
	require.NoError(t, err)
	assert.Empty(t, allowed)
}

func TestDetailsVerifyAndRatings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedSale(t, 10, 0)

	notes := "dry, below 25C"
	p, err := h.svc.UpdateDetails(ctx, "A", 1, product.Details{StorageConditions: &notes})
	require.NoError(t, err)
	assert.Equal(t, notes, p.StorageConditions)

	_, err = h.svc.MarkVerified(ctx, "A", 1)
	require.ErrorIs(t, err, apperrors.ErrNotAuthorized)
	p, err = h.svc.MarkVerified(ctx, "root", 1)
	require.NoError(t, err)
	assert.True(t, p.HumanVerified)

	for _, stars := range []int{5, 2} {
		_, err := h.svc.Rate(ctx, "B", 1, stars, "0xabc")
		require.NoError(t, err)
	}
	_, err = h.svc.Rate(ctx, "B", 1, 6, "")
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	summary, err := h.svc.AverageRating(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Count)
	assert.Equal(t, int64(3), summary.Average)

	latest, err := h.svc.Rating(ctx, 1, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Stars)

	recs, _ := h.svc.Transactions(ctx, 1)
	var actions []string
	for _, rec := range recs {
		actions = append(actions, rec.Action)
	}
	assert.Contains(t, actions, domainaudit.ActionMetadataUpdate)
	assert.Contains(t, actions, domainaudit.ActionVerification)
}

func TestRoleAdministration(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	added, err := h.svc.Bootstrap(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, added)

	require.ErrorIs(t, h.svc.AssignRole(ctx, "A", "B", role.Supplier), apperrors.ErrNotAuthorized)
	require.NoError(t, h.svc.AssignRole(ctx, "root", "B", role.Supplier))
	require.ErrorIs(t, h.svc.AssignInitialRole(ctx, "B", role.Customer), apperrors.ErrAlreadyAssigned)

	info, err := h.svc.Role(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, role.Supplier, info.Role)
	assert.False(t, info.Admin)

	require.NoError(t, h.svc.RemoveRole(ctx, "root", "B", role.Supplier))
	require.NoError(t, h.svc.AssignInitialRole(ctx, "B", role.Customer))
	ok, err := h.svc.HasRole(ctx, "B", role.Customer)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.svc.AddAdmin(ctx, "root", "ops"))
	require.ErrorIs(t, h.svc.AddAdmin(ctx, "root", "ops"), apperrors.ErrAlreadyAssigned)
	admins, err := h.svc.Admins(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"root", "ops"}, admins)

	require.NoError(t, h.svc.RemoveAdmin(ctx, "ops", "root"))
	isAdmin, _ := h.svc.IsAdmin(ctx, "root")
	assert.False(t, isAdmin)

	assert.NotEmpty(t, h.bus.RecentByType(notify.RoleAssigned, 10))
	assert.NotEmpty(t, h.bus.RecentByType(notify.AdminChanged, 10))
}
