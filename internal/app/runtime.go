package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newsai/internal/annotate"
	"horse.fit/newsai/internal/cli"
	"horse.fit/newsai/internal/config"
	"horse.fit/newsai/internal/db"
	"horse.fit/newsai/internal/logging"
	"horse.fit/newsai/internal/provider"
	"horse.fit/newsai/internal/runlock"
	"horse.fit/newsai/internal/scheduler"
	"horse.fit/newsai/internal/settings"
	"horse.fit/newsai/internal/status"
)

const connectTimeout = 10 * time.Second

// environment is what every command needs: config, logger and a database pool.
type environment struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *db.Pool
}

func openEnvironment(envLoader *cli.EnvLoader, command string) (*environment, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, 1
	}
	logger = logger.With().Str("command", command).Logger()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, 1
	}
	return &environment{cfg: cfg, logger: logger, pool: pool}, 0
}

func (e *environment) Close() {
	if e != nil && e.pool != nil {
		_ = e.pool.Close()
	}
}

// pipelineParts is the wired annotation pipeline.
type pipelineParts struct {
	reporter  *status.Reporter
	resolver  *settings.Resolver
	pipeline  *annotate.Pipeline
	locker    runlock.Locker
	scheduler *scheduler.Scheduler
}

func (p *pipelineParts) Close() {
	if p != nil && p.locker != nil {
		_ = p.locker.Close()
	}
}

func buildPipeline(env *environment) (*pipelineParts, error) {
	cfg := env.cfg

	defaults, err := settings.Defaults(cfg)
	if err != nil {
		return nil, fmt.Errorf("load pipeline defaults: %w", err)
	}
	resolver := settings.NewResolver(env.pool, defaults, cfg.Tier(), env.logger)
	reporter := status.NewReporter(cfg.ErrorLogSize)

	pipeline := annotate.NewPipeline(
		env.pool,
		resolver,
		provider.EnvSecrets{},
		provider.HTTPBuilder{Client: &http.Client{}},
		reporter,
		env.logger,
		annotate.Options{
			Workers:          cfg.Workers,
			RequestTimeout:   cfg.RequestTimeout,
			MaxResponseBytes: cfg.MaxResponseBytes,
			Filter:           db.CandidateFilter{Categories: cfg.CategoryList()},
		},
	)

	locker, err := runlock.New(cfg, env.pool)
	if err != nil {
		return nil, fmt.Errorf("build run lock: %w", err)
	}

	sched := scheduler.New(pipeline, locker, reporter, env.logger, scheduler.Options{
		LockName: cfg.LockName,
		LockTTL:  cfg.LockTTL,
		Interval: cfg.Interval,
	})

	return &pipelineParts{
		reporter:  reporter,
		resolver:  resolver,
		pipeline:  pipeline,
		locker:    locker,
		scheduler: sched,
	}, nil
}
