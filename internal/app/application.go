package app

import (
	"context"
	"fmt"
	"time"

	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/jobs"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/oracle"
	"github.com/R3E-Network/supplychain/internal/app/services/supplychain"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/R3E-Network/supplychain/internal/app/storage/memory"
	"github.com/R3E-Network/supplychain/internal/app/system"
	"github.com/R3E-Network/supplychain/internal/app/title"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Options wires the collaborators. Nil fields fall back to in-process
// implementations: memory store, memory title registry, unhalted flag.
type Options struct {
	Store  storage.Store
	Titles title.Registry
	Halt   halt.Switch
	Oracle oracle.Fetcher

	// RocketMQ enables the broker sink when it names at least one server.
	RocketMQ notify.RocketMQOptions

	ExpirySchedule string
	ExpiryOperator string

	// Admins seed the admin set on Start while it is empty.
	Admins []string

	EventBuffer int
	Clock       func() time.Time
}

// Application ties the ledger together and manages its background services.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	admins  []string

	Service *supplychain.Service
	Bus     *notify.Bus
	Oracle  oracle.Fetcher
	Halt    halt.Switch
	Sweeper *jobs.ExpirySweeper
}

// New builds a fully initialised application.
func New(opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if opts.Store == nil {
		opts.Store = memory.New()
	}
	if opts.Titles == nil {
		opts.Titles = title.NewMemory()
	}
	if opts.Halt == nil {
		opts.Halt = halt.NewFlag(false)
	}

	bus := notify.NewBus(opts.EventBuffer)
	svc := supplychain.New(supplychain.Options{
		Store:     opts.Store,
		Titles:    opts.Titles,
		Halt:      opts.Halt,
		Publisher: bus,
		Logger:    log.Named("supplychain"),
		Clock:     opts.Clock,
	})

	manager := system.NewManager()
	if err := manager.Register(system.NoopService{ServiceName: "ledger"}); err != nil {
		return nil, fmt.Errorf("register ledger service: %w", err)
	}

	application := &Application{
		manager: manager,
		log:     log,
		admins:  opts.Admins,
		Service: svc,
		Bus:     bus,
		Oracle:  opts.Oracle,
		Halt:    opts.Halt,
	}

	if opts.ExpiryOperator != "" {
		sweeper, err := jobs.NewExpirySweeper(svc, opts.ExpiryOperator, opts.ExpirySchedule, log.Named("expiry-sweeper"))
		if err != nil {
			return nil, fmt.Errorf("configure expiry sweeper: %w", err)
		}
		if opts.Clock != nil {
			sweeper.WithClock(opts.Clock)
		}
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
		}
		application.Sweeper = sweeper
	} else {
		log.Warn("expiry operator not set; expiry sweeper disabled")
	}

	if len(opts.RocketMQ.NameServers) > 0 {
		sink := notify.NewRocketMQSink(opts.RocketMQ, log.Named("notify-rocketmq"))
		if err := manager.Register(sink); err != nil {
			return nil, fmt.Errorf("register %s: %w", sink.Name(), err)
		}
		bus.Subscribe(sink.Handle)
	}

	return application, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start seeds the admin set and begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	if len(a.admins) > 0 {
		if _, err := a.Service.Bootstrap(ctx, a.admins...); err != nil {
			return fmt.Errorf("bootstrap admins: %w", err)
		}
	}
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists the registered service names in start order.
func (a *Application) Services() []string {
	return a.manager.Names()
}
