// Package runtime turns a config.Config into a running process: stores,
// collaborators, the HTTP server and their shutdown.
package runtime

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/supplychain/internal/app"
	"github.com/R3E-Network/supplychain/internal/app/halt"
	"github.com/R3E-Network/supplychain/internal/app/httpapi"
	"github.com/R3E-Network/supplychain/internal/app/notify"
	"github.com/R3E-Network/supplychain/internal/app/oracle"
	"github.com/R3E-Network/supplychain/internal/app/storage"
	"github.com/R3E-Network/supplychain/internal/app/storage/memory"
	"github.com/R3E-Network/supplychain/internal/app/storage/postgres"
	"github.com/R3E-Network/supplychain/internal/config"
	"github.com/R3E-Network/supplychain/internal/middleware"
	"github.com/R3E-Network/supplychain/internal/platform/migrations"
	"github.com/R3E-Network/supplychain/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	server  *http.Server
	handler http.Handler
	limiter *middleware.RateLimiter
	audit   *httpapi.FileAuditSink
	redis   *redis.Client
	db      *sql.DB
}

// NewApplication constructs a new application instance from cfg.
func NewApplication(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})
	a := &Application{cfg: cfg, log: log}

	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	store, err := a.buildStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure store: %w", err)
	}
	haltSwitch, err := a.buildHalt(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure halt switch: %w", err)
	}
	fetcher, err := a.buildOracle()
	if err != nil {
		return nil, fmt.Errorf("configure oracle: %w", err)
	}

	application, err := app.New(app.Options{
		Store:  store,
		Halt:   haltSwitch,
		Oracle: fetcher,
		RocketMQ: notify.RocketMQOptions{
			NameServers: cfg.RocketMQ.NameServers,
			TopicPrefix: cfg.RocketMQ.TopicPrefix,
			Namespace:   cfg.RocketMQ.Namespace,
			AccessKey:   cfg.RocketMQ.AccessKey,
			SecretKey:   cfg.RocketMQ.SecretKey,
			Buffer:      cfg.RocketMQ.Buffer,
		},
		ExpirySchedule: cfg.Expiry.Schedule,
		ExpiryOperator: cfg.Expiry.Operator,
		Admins:         cfg.Bootstrap.Admins,
	}, log.Named("app"))
	if err != nil {
		return nil, err
	}
	a.app = application

	if cfg.Auth.AllowHeaderIdentity {
		log.Warnf("header identity enabled; %s is trusted without verification", middleware.AccountHeader)
	}
	opts := httpapi.Options{
		Service:     application.Service,
		Bus:         application.Bus,
		Oracle:      application.Oracle,
		Auth:        middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AllowHeaderIdentity, log.Named("auth"), httpapi.PublicPaths),
		AuditWindow: cfg.Audit.Window,
		Logger:      log.Named("httpapi"),
	}
	if cfg.RateLimit.RPS > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, log.Named("ratelimit"))
		opts.RateLimit = a.limiter
	}
	if len(cfg.CORS.AllowedOrigins) > 0 {
		opts.CORS = middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins)
	}
	if cfg.Audit.File != "" {
		sink, err := httpapi.OpenFileAuditSink(cfg.Audit.File)
		if err != nil {
			return nil, fmt.Errorf("open request audit file: %w", err)
		}
		a.audit = sink
		opts.AuditSink = sink
	}
	a.handler = httpapi.NewHandler(opts)
	a.server = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ok = true
	return a, nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// App returns the composed application.
func (a *Application) App() *app.Application { return a.app }

// Run starts background services and the HTTP server, and blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(time.Minute)
	}

	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", listener.Addr())
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server, the background services and
// releases connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var firstErr error
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := a.app.Stop(shutdownCtx); err != nil && firstErr == nil {
		firstErr = err
	}
	a.closeResources()
	return firstErr
}

func (a *Application) closeResources() {
	if a.limiter != nil {
		a.limiter.StopCleanup()
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.log.WithError(err).Warn("error closing request audit file")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis connection")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
}

func (a *Application) buildStore(ctx context.Context) (storage.Store, error) {
	if a.cfg.Database.InMemory() {
		a.log.Warn("no database configured; ledger state is kept in memory")
		return memory.New(), nil
	}
	db, err := OpenDatabase(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.db = db
	if a.cfg.Database.Migrate {
		if err := migrations.Apply(ctx, db); err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		a.log.Info("database migrations applied")
	}
	return postgres.New(db), nil
}

func (a *Application) buildHalt(ctx context.Context) (halt.Switch, error) {
	if a.cfg.Redis.Addr == "" {
		return halt.NewFlag(false), nil
	}
	client, err := halt.DialRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return halt.NewRedisSwitch(client, a.cfg.Redis.HaltKey), nil
}

func (a *Application) buildOracle() (oracle.Fetcher, error) {
	if a.cfg.Oracle.URL == "" {
		a.log.Warn("oracle url not set; price endpoint disabled")
		return nil, nil
	}
	fetcher, err := oracle.NewHTTPFetcher(&http.Client{Timeout: 10 * time.Second}, a.cfg.Oracle.URL, a.cfg.Oracle.APIKey, a.cfg.Oracle.PricePath, a.log.Named("oracle"))
	if err != nil {
		return nil, err
	}
	return fetcher.WithCacheTTL(a.cfg.Oracle.CacheTTL), nil
}

// OpenDatabase opens and pings the configured database.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("database driver not configured")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
