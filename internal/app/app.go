// Package app assembles the analysis pipeline and its backing services from
// configuration. The service binary and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/forensight/forensight/internal/analysis"
	"github.com/forensight/forensight/internal/config"
	"github.com/forensight/forensight/internal/db"
	"github.com/forensight/forensight/internal/health"
	"github.com/forensight/forensight/internal/oracle"
	"github.com/forensight/forensight/internal/review"
	"github.com/forensight/forensight/internal/roles"
	"github.com/forensight/forensight/internal/runs"
	"github.com/forensight/forensight/internal/search"
	"github.com/forensight/forensight/internal/streaming"
)

// App holds every long-lived component.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Oracle   oracle.Oracle
	Gateway  search.Gateway
	Registry *runs.Registry
	StepLog  *db.Client // nil unless database.enabled
	Events   *streaming.Manager
	Runner   *analysis.Runner
	Health   *health.Manager

	redis *redis.Client
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	oracle  oracle.Oracle
	gateway search.Gateway
	store   runs.Store
}

// WithOracle replaces the chat client, e.g. with a scripted oracle.
func WithOracle(o oracle.Oracle) Option { return func(opts *options) { opts.oracle = o } }

// WithGateway replaces the Tavily client.
func WithGateway(g search.Gateway) Option { return func(opts *options) { opts.gateway = g } }

// WithStore replaces the configured run store.
func WithStore(s runs.Store) Option { return func(opts *options) { opts.store = s } }

// New builds the application. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Events: streaming.NewManager(0),
		Health: health.NewManager(logger.Named("health")),
	}
	cbs := cfg.CircuitBreakers

	store := o.store
	if store == nil {
		var err error
		if store, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	a.Registry = runs.NewRegistry(store, cfg.Runs.Timeout(), cfg.Runs.TTL, logger.Named("runs"))

	if cfg.Database.Enabled {
		client, err := db.Open(cfg.Database, cbs.Database, logger.Named("db"))
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		if err := client.EnsureSchema(ctx); err != nil {
			client.Close()
			a.Close(ctx)
			return nil, err
		}
		a.StepLog = client
		_ = a.Health.RegisterChecker(health.NewPingChecker("step_log", client, client.Breaker(), false))
	}

	a.Oracle = o.oracle
	if a.Oracle == nil {
		chat := oracle.NewChatClient(cfg.LLM, cbs.Oracle, logger.Named("oracle"))
		_ = a.Health.RegisterChecker(health.NewBreakerChecker("oracle", chat.Breaker(), true))
		a.Oracle = chat
	}
	a.Gateway = o.gateway
	if a.Gateway == nil {
		tavily := search.NewTavilyClient(cfg.Search, cbs.Search, logger.Named("search"))
		if tavily.Enabled() {
			_ = a.Health.RegisterChecker(health.NewBreakerChecker("search", tavily.Breaker(), false))
		} else {
			logger.Info("External search disabled: no API key configured")
		}
		a.Gateway = tavily
	}

	catalog, err := roles.Default()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	reviewer := review.NewReviewer(a.Oracle, a.Gateway, catalog, logger.Named("reviewer"),
		review.WithMaxInputRunes(cfg.Review.MaxInputRunes))
	runnerOpts := []analysis.RunnerOption{
		analysis.WithEvents(a.Events),
		analysis.WithDefaults(DefaultsFrom(cfg.Review)),
	}
	if a.StepLog != nil {
		runnerOpts = append(runnerOpts, analysis.WithStepLog(a.StepLog))
	}
	if cfg.Review.SanitizeScope {
		runnerOpts = append(runnerOpts, analysis.WithSanitizer(review.NewSanitizer(a.Oracle, logger.Named("sanitizer"))))
	}
	a.Runner = analysis.NewRunner(a.Registry,
		review.NewEnricher(a.Oracle, a.Gateway, logger.Named("enricher")),
		review.NewPanel(reviewer, logger.Named("panel")),
		logger.Named("analysis"),
		runnerOpts...,
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (runs.Store, error) {
	rc := a.Config.Runs
	switch rc.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{
			Addr:     rc.Redis.Addr,
			Password: rc.Redis.Password,
			DB:       rc.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect redis %s: %w", rc.Redis.Addr, err)
		}
		store := runs.NewRedisStore(a.redis, rc.Redis.KeyPrefix, rc.TTL, a.Config.CircuitBreakers.Redis, a.Logger.Named("runs"))
		_ = a.Health.RegisterChecker(health.NewPingChecker("run_store", store, store.Breaker(), true))
		return store, nil
	default:
		return runs.NewMemoryStore(), nil
	}
}

// DefaultsFrom maps the review config section onto runner defaults.
func DefaultsFrom(rc config.ReviewConfig) analysis.Defaults {
	return analysis.Defaults{
		EnableDefense:      rc.EnableDefense,
		EnableResearch:     rc.EnableResearch,
		WorkpaperMaxRounds: rc.WorkpaperMaxRounds,
		MaxConcurrency:     rc.MaxConcurrency,
		AgentMaxRetries:    rc.AgentMaxRetries,
	}
}

// Reload applies the reloadable parts of cfg: runner defaults.
func (a *App) Reload(cfg *config.Config) {
	a.Runner.SetDefaults(DefaultsFrom(cfg.Review))
	a.Logger.Info("Configuration reloaded",
		zap.Int("max_concurrency", cfg.Review.MaxConcurrency),
		zap.Bool("enable_defense", cfg.Review.EnableDefense),
		zap.Int("agent_max_retries", cfg.Review.AgentMaxRetries))
}

// Close waits for background runs (cancelling them when ctx ends) and
// closes the step log and Redis connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Runner != nil {
		if err := a.Runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown runner: %w", err))
		}
	}
	if a.StepLog != nil {
		if err := a.StepLog.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
