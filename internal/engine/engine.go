// Package engine is the composition root: it wires every component -
// Store, cache, SQL Analyzer, Audit Log, Lock Manager, Approval state
// machine, Rule Lifecycle, Dependency Graph Builder, Executor, Data
// Validation Runner, Notifier, Scheduler, metrics, and the Operations
// API - and owns their combined Start/Stop lifecycle. No package in
// this module reaches for global state; everything downstream of
// Engine is constructed here and handed down by explicit injection.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-labs/brm-core/internal/approval"
	"github.com/r3e-labs/brm-core/internal/audit"
	"github.com/r3e-labs/brm-core/internal/cache"
	"github.com/r3e-labs/brm-core/internal/dependency"
	"github.com/r3e-labs/brm-core/internal/executor"
	"github.com/r3e-labs/brm-core/internal/httpapi"
	"github.com/r3e-labs/brm-core/internal/lock"
	"github.com/r3e-labs/brm-core/internal/notifier"
	"github.com/r3e-labs/brm-core/internal/rule"
	"github.com/r3e-labs/brm-core/internal/scheduler"
	"github.com/r3e-labs/brm-core/internal/sqlanalyzer"
	"github.com/r3e-labs/brm-core/internal/store"
	"github.com/r3e-labs/brm-core/internal/store/postgres"
	"github.com/r3e-labs/brm-core/internal/validation"
	"github.com/r3e-labs/brm-core/pkg/config"
	"github.com/r3e-labs/brm-core/pkg/logger"
	"github.com/r3e-labs/brm-core/pkg/metrics"
	"github.com/r3e-labs/brm-core/pkg/ratelimit"
)

// Engine owns the fully-wired component graph plus the two long-running
// services (the Scheduler tick loop and the Operations API's HTTP
// server) that must start and stop together.
type Engine struct {
	cfg *config.Config
	db  *sql.DB

	Store      store.Store
	Audit      *audit.Log
	Locks      *lock.Manager
	Approvals  *approval.Machine
	Rules      *rule.Lifecycle
	Graphs     *dependency.Builder
	Validation *validation.Runner
	Executor   *executor.Executor
	Notifier   notifier.Notifier
	Scheduler  *scheduler.Scheduler
	API        *httpapi.API
	Log        *logger.Logger
	Metrics    *metrics.Metrics

	server *http.Server
}

// New builds every component in dependency order and returns a fully
// wired, not-yet-started Engine. Callers own db's lifetime; Close
// closes it.
func New(cfg *config.Config, db *sql.DB) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: config must not be nil")
	}
	if db == nil {
		return nil, fmt.Errorf("engine: db must not be nil")
	}

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(db); err != nil {
			return nil, fmt.Errorf("engine: apply migrations: %w", err)
		}
	}

	log := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Component: "brm-core",
	})
	m := metrics.NewWithRegistry("brm-core", "dev", prometheus.DefaultRegisterer)

	st := postgres.New(db)
	auditLog := audit.New(st)

	ownerCache := buildOwnerCache(cfg)

	locks := lock.New(st, ownerCache, log, m)
	approvals := approval.New(st, log, m)
	note := notifier.NewLogNotifier(log)

	rules := rule.New(rule.Config{
		Store:      st,
		Analyzer:   sqlanalyzer.NewDefaultAnalyzer(),
		Locks:      locks,
		Approvals:  approvals,
		Notifier:   note,
		Log:        log,
		Metrics:    m,
		AdminGroup: cfg.RuleEngine.AdminGroup,
	})

	graphs := dependency.New(st)
	sampleMax := cfg.RuleEngine.ValidationSampleMax
	if sampleMax <= 0 {
		sampleMax = 1000
	}
	validator := validation.New(st, sampleMax)
	exec := executor.New(st, graphs, validator, log, m)

	sched := scheduler.New(scheduler.Config{
		Store:    st,
		Executor: exec,
		Log:      log,
		Schedule: cfg.Scheduler.TickInterval,
	})

	rateLimit := ratelimit.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		Window:            time.Second,
	}
	api := httpapi.New(httpapi.Config{
		Store:      st,
		Rules:      rules,
		Approvals:  approvals,
		Locks:      locks,
		Exec:       exec,
		Log:        log,
		Metrics:    m,
		RateLimit:  rateLimit,
		AdminGroup: cfg.RuleEngine.AdminGroup,
	})

	return &Engine{
		cfg:        cfg,
		db:         db,
		Store:      st,
		Audit:      auditLog,
		Locks:      locks,
		Approvals:  approvals,
		Rules:      rules,
		Graphs:     graphs,
		Validation: validator,
		Executor:   exec,
		Notifier:   note,
		Scheduler:  sched,
		API:        api,
		Log:        log,
		Metrics:    m,
	}, nil
}

func buildOwnerCache(cfg *config.Config) cache.OwnerCache {
	if cfg.Cache.RedisAddr == "" {
		return cache.NewInMemoryCache(context.Background(), cache.DefaultConfig())
	}
	ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, ttl)
}

// Start begins the Scheduler tick loop (unless disabled) and the
// Operations API HTTP server. It returns once the server is listening;
// server errors after that point are logged, not returned.
func (e *Engine) Start(ctx context.Context) error {
	if e.cfg.Scheduler.Enabled {
		if err := e.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("engine: start scheduler: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Server.Host, e.cfg.Server.Port)
	e.server = &http.Server{
		Addr:         addr,
		Handler:      e.API.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("engine: http server: %w", err)
	case <-time.After(100 * time.Millisecond):
		e.Log.WithContext(ctx).WithFields(map[string]interface{}{"addr": addr}).Info("operations API listening")
		return nil
	}
}

// Stop drains the Scheduler and shuts down the HTTP server, both bounded
// by ctx.
func (e *Engine) Stop(ctx context.Context) error {
	var firstErr error

	if e.cfg.Scheduler.Enabled {
		if err := e.Scheduler.Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: stop scheduler: %w", err)
		}
	}

	if e.server != nil {
		if err := e.server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("engine: shutdown http server: %w", err)
		}
	}

	return firstErr
}

// Close releases the underlying database connection pool. Call after Stop.
func (e *Engine) Close() error {
	return e.db.Close()
}
