// Package app wires configuration, logging, storage and the use case
// shared by the server, fetcher and bot commands.
package app

import (
	"context"
	"time"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/config"
	"github.com/nrega-mitra/backend/internal/integration"
	"github.com/nrega-mitra/backend/internal/integration/openai"
	"github.com/nrega-mitra/backend/internal/logging"
	"github.com/nrega-mitra/backend/internal/metrics"
	"github.com/nrega-mitra/backend/internal/repository"
	"github.com/nrega-mitra/backend/internal/scheduler"
	"github.com/nrega-mitra/backend/internal/usecases"
)

// Options selects which parts of the application a command needs
type Options struct {
	EnvFiles []string
	// Fetch wires the data API client; its settings are then required
	Fetch bool
	// Interpreter wires the OpenAI query interpreter when a key is configured
	Interpreter bool
	// RuntimeMetrics adds Go runtime and process collectors
	RuntimeMetrics bool
}

// App holds the long-lived dependencies of one process
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Repo    repository.NregaRepository
	UseCase *usecases.NregaUseCase
}

// New loads the configuration and opens the store
func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(ctx, cfg, opts)
}

// NewWithConfig wires an App from an already loaded configuration
func NewWithConfig(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Fetch {
		if err := cfg.ValidateFetch(); err != nil {
			return nil, err
		}
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	m := metrics.New(opts.RuntimeMetrics)

	repo, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Sync()
		return nil, errors.Annotate(err, "failed to initialize repository")
	}

	ucOpts := usecases.Options{
		TargetState: cfg.TargetState,
		CacheTTL:    cfg.CacheTTL,
		LocateMaxKm: cfg.LocateMaxKm,
		Logger:      logger,
		Metrics:     m,
	}
	if opts.Interpreter && cfg.OpenAIAPIKey != "" {
		interpreter, err := openai.NewOpenAIService(cfg.OpenAIAPIKey, logger)
		if err != nil {
			repo.Close(ctx)
			logger.Sync()
			return nil, errors.Annotate(err, "failed to initialize OpenAI service")
		}
		ucOpts.Interpreter = interpreter
	}

	var fetcher usecases.RecordFetcher
	if opts.Fetch {
		fetcher = integration.NewDataGovClientFromConfig(cfg, logger, m)
	}

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Repo:    repo,
		UseCase: usecases.NewNregaUseCase(repo, fetcher, ucOpts),
	}, nil
}

// RefreshJob adapts the refresh use case to the scheduler.
// A refresh already running elsewhere is not an error.
func (a *App) RefreshJob() scheduler.Job {
	return func(ctx context.Context) error {
		run, err := a.UseCase.RefreshNregaData(ctx)
		if errors.Is(err, usecases.ErrRefreshInProgress) {
			a.Logger.Info("refresh skipped, another run is in progress")
			return nil
		}
		if err != nil {
			return err
		}
		a.Logger.Info("refresh run finished",
			zap.String("run_id", run.ID),
			zap.String("status", run.Status),
			zap.Int("stored", run.Stored))
		return nil
	}
}

// Scheduler builds the refresh scheduler from the configuration
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(a.Config.RefreshSchedule, a.RefreshJob(), a.Config.RefreshOnStart, a.Logger)
}

// Close releases the store and flushes the logger
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Repo.Close(ctx); err != nil {
		a.Logger.Warn("failed to close repository", zap.Error(err))
	}
	a.Logger.Sync()
}
