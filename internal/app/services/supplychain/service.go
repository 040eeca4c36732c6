// Package supplychain coordinates the role registry, product catalog,
// lifecycle machine, escrow ledger, audit log and ratings so every mutating
// call commits or aborts as one unit.
package supplychain

import (
	"context"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/metrics"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/services/audit"
	"github.com/R3E-Network/supplychain/internal/app/services/escrow"
	"github.com/R3E-Network/supplychain/internal/app/services/lifecycle"
	"github.com/R3E-Network/supplychain/internal/app/services/products"
	"github.com/R3E-Network/supplychain/internal/app/services/ratings"
	"github.com/R3E-Network/supplychain/internal/app/services/roles"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/R3E-Network/supplychain/internal/app/title"
	apperrors "github.com/R3E-Network/supplychain/internal/errors"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Options wires the collaborators. Only Store is required.
type Options struct {
	Store     storage.Store
	Titles    title.Registry
	Halt      halt.Switch
	Publisher notify.Publisher
	Logger    *logger.Logger
	Clock     func() time.Time
}

// Service is the coordinating object every surface calls into.
type Service struct {
	store  storage.Store
	titles title.Registry
	halt   halt.Switch
	bus    notify.Publisher
	log    *logger.Logger
	logs   componentLogs
	now    func() time.Time
	guard  *guard
}

type componentLogs struct {
	roles, products, escrow, audit, ratings *logger.Logger
}

// New constructs the service.
func New(opts Options) *Service {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("supplychain")
	}
	s := &Service{
		store:  opts.Store,
		titles: opts.Titles,
		halt:   opts.Halt,
		bus:    opts.Publisher,
		log:    log,
		now:    opts.Clock,
		guard:  newGuard(),
		logs: componentLogs{
			roles:    log.Named("roles"),
			products: log.Named("products"),
			escrow:   log.Named("escrow"),
			audit:    log.Named("audit"),
			ratings:  log.Named("ratings"),
		},
	}
	if s.titles == nil {
		s.titles = title.Nop{}
	}
	if s.halt == nil {
		s.halt = halt.Never{}
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// components are constructed per transaction over the tx sub-stores.
type components struct {
	roles   *roles.Registry
	machine *lifecycle.Machine
	catalog *products.Catalog
	ledger  *escrow.Ledger
	audit   *audit.Log
	ratings *ratings.Ledger
}

func (s *Service) components(tx storage.Tx, events notify.Recorder) *components {
	reg := roles.New(tx.Roles(), events, s.logs.roles)
	return &components{
		roles:   reg,
		machine: lifecycle.New(tx.Products(), reg),
		catalog: products.New(tx.Products(), reg, tx.Balances(), events, s.logs.products).WithClock(s.now),
		ledger:  escrow.New(tx.Balances(), tx.Products(), reg, events, s.logs.escrow).WithClock(s.now),
		audit:   audit.New(tx.Audit(), s.logs.audit).WithClock(s.now),
		ratings: ratings.New(tx.Ratings(), tx.Products(), events, s.logs.ratings).WithClock(s.now),
	}
}

// InFlight reports whether a mutation of class is currently running.
func (s *Service) InFlight(class Class) bool {
	return s.guard.isHeld(class)
}

// Halted reports the halt switch state. Switch errors count as halted.
func (s *Service) Halted(ctx context.Context) bool {
	halted, err := s.halt.Halted(ctx)
	if err != nil {
		s.log.WithError(err).Warn("halt switch unavailable; treating as halted")
		return true
	}
	return halted
}

// mutate runs fn as one atomic operation of class.
func (s *Service) mutate(ctx context.Context, class Class, op string, fn func(ctx context.Context, c *components) error) error {
	start := time.Now()
	err := s.runMutation(ctx, class, op, fn)
	result := "ok"
	if err != nil {
		result = "error"
		if se := apperrors.GetServiceError(err); se != nil {
			result = string(se.Code)
		}
	}
	metrics.RecordOperation(op, result, time.Since(start))
	return err
}

func (s *Service) runMutation(ctx context.Context, class Class, op string, fn func(ctx context.Context, c *components) error) error {
	if m, ok := inflightFrom(ctx); ok {
		s.log.WithField("operation", op).
			WithField("in_flight", m.op).
			Warn("re-entrant call refused")
		return apperrors.Reentrant(string(m.class))
	}
	if s.Halted(ctx) {
		return apperrors.Halted()
	}

	release, err := s.guard.enter(class)
	if err != nil {
		s.log.WithField("operation", op).Warn("call during collaborator callout refused")
		return err
	}
	defer release()

	var batch notify.Batch
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		batch.Reset()
		inner := withInflight(ctx, &inflight{class: class, op: op, tx: tx})
		return fn(inner, s.components(tx, &batch))
	})
	if err != nil {
		entry := s.log.WithField("operation", op)
		if se := apperrors.GetServiceError(err); se != nil {
			entry.WithField("code", se.Code).Debug("operation denied")
		} else {
			entry.WithError(err).Error("operation failed")
		}
		return err
	}

	s.publish(ctx, batch.Events())
	return nil
}

func (s *Service) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = s.now()
		}
		if ev.Type == notify.EscrowSettled {
			if amount, ok := ev.Data["amount"].(int64); ok {
				metrics.RecordSettlement(amount)
			}
		}
		if s.bus != nil {
			s.bus.Publish(ctx, ev)
		}
	}
}

// callTitles runs a title registry call as the open callout of the in-flight
// mutation.
func (s *Service) callTitles(ctx context.Context, fn func(ctx context.Context) error) error {
	class := ClassProducts
	if m, ok := inflightFrom(ctx); ok {
		class = m.class
	}
	closeCallout := s.guard.openCallout(class)
	defer closeCallout()
	return fn(ctx)
}

// view runs fn against a consistent snapshot. Under an in-flight mutation it
// reuses that transaction so acknowledgment hooks can read. Reads without the
// marker during a callout would wait on the open writer and are refused.
func (s *Service) view(ctx context.Context, fn func(ctx context.Context, c *components) error) error {
	if m, ok := inflightFrom(ctx); ok && m.tx != nil {
		return fn(ctx, s.components(m.tx, notify.Discard))
	}
	if err := s.guard.admit(); err != nil {
		return err
	}
	return s.store.View(ctx, func(tx storage.Tx) error {
		return fn(ctx, s.components(tx, notify.Discard))
	})
}
