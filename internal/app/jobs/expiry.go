// Package jobs holds scheduled background work.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/supplychain/internal/app/domain/product"
	"github.com/R3E-Network/supplychain/internal/app/metrics"
	"github.com/R3E-Network/supplychain/internal/app/system"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// DefaultExpirySchedule runs the sweep once a minute.
const DefaultExpirySchedule = "@every 1m"

// ExpiryTarget is what the sweeper needs from the ledger service.
type ExpiryTarget interface {
	ExpiringProducts(ctx context.Context, now time.Time) ([]product.Product, error)
	ForceStatus(ctx context.Context, caller string, id int64, label string) (product.Product, error)
}

var _ system.Service = (*ExpirySweeper)(nil)

// ExpirySweeper forces Expired on products whose expiry passed, acting as the
// configured operator through the admin override.
type ExpirySweeper struct {
	target   ExpiryTarget
	operator string
	schedule cron.Schedule
	spec     string
	log      *logger.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

// NewExpirySweeper validates the schedule and builds a sweeper. An empty
// operator disables it.
func NewExpirySweeper(target ExpiryTarget, operator, schedule string, log *logger.Logger) (*ExpirySweeper, error) {
	if log == nil {
		log = logger.NewDefault("expiry-sweeper")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		schedule = DefaultExpirySchedule
	}
	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse expiry schedule %q: %w", schedule, err)
	}
	return &ExpirySweeper{
		target:   target,
		operator: strings.TrimSpace(operator),
		schedule: parsed,
		spec:     schedule,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source.
func (s *ExpirySweeper) WithClock(now func() time.Time) *ExpirySweeper {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *ExpirySweeper) Name() string { return "expiry-sweeper" }

// Enabled reports whether an operator account is configured.
func (s *ExpirySweeper) Enabled() bool { return s.operator != "" && s.target != nil }

func (s *ExpirySweeper) Start(ctx context.Context) error {
	if !s.Enabled() {
		s.log.Warn("expiry operator not configured; expiry sweeper disabled")
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(runCtx); err != nil {
			s.log.WithError(err).Warn("expiry sweep failed")
		}
	}))
	c.Start()
	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.spec).WithField("operator", s.operator).Info("expiry sweeper started")
	return nil
}

func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron = nil
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("expiry sweeper stopped")
	return nil
}

// Sweep expires every due product once and returns how many it moved.
// Failures on one product do not stop the rest.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	if !s.Enabled() {
		return 0, nil
	}
	due, err := s.target.ExpiringProducts(ctx, s.now())
	if err != nil {
		metrics.RecordSweep(0, false)
		return 0, err
	}
	expired := 0
	for _, p := range due {
		if _, err := s.target.ForceStatus(ctx, s.operator, p.ID, product.StateExpired.String()); err != nil {
			s.log.WithError(err).WithField("product_id", p.ID).Warn("expire product failed")
			continue
		}
		expired++
	}
	metrics.RecordSweep(expired, true)
	if expired > 0 {
		s.log.WithField("expired", expired).Info("expiry sweep completed")
	}
	return expired, nil
}
