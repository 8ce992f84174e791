package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"horse.fit/newsai/internal/cli"
	"horse.fit/newsai/internal/httpapi"
	"horse.fit/newsai/internal/runlock"
)

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface for the admin API")
	port := fs.Int("port", 8091, "Admin API port")
	noAPI := fs.Bool("no-api", false, "Run the scheduler without the admin API")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	env, code := openEnvironment(envLoader, "run")
	if env == nil {
		return code
	}
	defer env.Close()

	parts, err := buildPipeline(env)
	if err != nil {
		env.logger.Error().Err(err).Msg("failed to build pipeline")
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer parts.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return parts.scheduler.Run(gctx)
	})
	if !*noAPI {
		srv := httpapi.NewServer(httpapi.Deps{
			Annotations: parts.pipeline,
			Status:      parts.reporter,
			Trigger:     parts.scheduler,
			Health:      env.pool,
			Settings:    env.pool,
			Effective:   parts.resolver,
		}, env.logger, httpapi.Options{
			Host:            *host,
			Port:            *port,
			ReadTimeout:     *readTimeout,
			WriteTimeout:    *writeTimeout,
			ShutdownTimeout: *shutdownTimeout,
			AdminTokenHash:  env.cfg.AdminTokenHash,
		})
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}

	env.logger.Info().
		Dur("interval", env.cfg.Interval).
		Int("workers", env.cfg.Workers).
		Str("lock_backend", env.cfg.NormalizedLockBackend()).
		Msg("newsai started")

	if err := g.Wait(); err != nil {
		env.logger.Error().Err(err).Msg("newsai stopped with error")
		fmt.Fprintf(os.Stderr, "newsai failed: %v\n", err)
		return 1
	}
	return 0
}

func runOnce(args []string) int {
	fs := flag.NewFlagSet("run-once", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "run-once does not accept positional args")
		return 2
	}

	env, code := openEnvironment(envLoader, "run-once")
	if env == nil {
		return code
	}
	defer env.Close()

	parts, err := buildPipeline(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build pipeline: %v\n", err)
		return 1
	}
	defer parts.Close()

	summary, err := parts.scheduler.Tick(context.Background())
	if errors.Is(err, runlock.ErrLockHeld) {
		fmt.Println("skipped: another run holds the lock")
		return 0
	}
	if err != nil {
		env.logger.Error().Err(err).Msg("run-once failed")
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode summary: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}
