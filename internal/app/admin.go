package app

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"horse.fit/newsai/internal/auth"
	"horse.fit/newsai/internal/cli"
	"horse.fit/newsai/internal/db"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	env, code := openEnvironment(envLoader, "health")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := env.pool.Ping(ctx); err != nil {
		env.logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	fmt.Println("ok: database ping successful")

	if env.cfg.NormalizedLockBackend() == "postgres" {
		owner, expiresAt, held, err := env.pool.RunLockHolder(ctx, env.cfg.LockName)
		switch {
		case err != nil:
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		case held:
			fmt.Printf("run lock %s held by %s until %s\n", env.cfg.LockName, owner, expiresAt.Format(time.RFC3339))
		default:
			fmt.Printf("run lock %s is free\n", env.cfg.LockName)
		}
	}
	return 0
}

func runMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	// Opening the pool applies the schema.
	env, code := openEnvironment(envLoader, "migrate")
	if env == nil {
		return code
	}
	defer env.Close()

	fmt.Println("ok: schema is up to date")
	return 0
}

func runWords(args []string) int {
	fs := flag.NewFlagSet("words", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	kind := fs.String("kind", db.ModerationKindSensitive, "Word list: sensitive or ad")
	disable := fs.Bool("disable", false, "Disable the words instead of adding them")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	normalizedKind := strings.ToLower(strings.TrimSpace(*kind))
	if normalizedKind != db.ModerationKindSensitive && normalizedKind != db.ModerationKindAd {
		fmt.Fprintln(os.Stderr, "--kind must be sensitive or ad")
		return 2
	}
	words := fs.Args()
	if len(words) == 0 {
		fmt.Fprintln(os.Stderr, "words requires at least one word argument")
		return 2
	}

	env, code := openEnvironment(envLoader, "words")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	for _, word := range words {
		if err := env.pool.UpsertModerationWord(ctx, word, normalizedKind, !*disable); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to store %q: %v\n", word, err)
			return 1
		}
	}
	fmt.Printf("stored %d %s word(s)\n", len(words), normalizedKind)
	return 0
}

func runHashToken(args []string) int {
	fs := flag.NewFlagSet("hash-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	token := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(token) == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "hash-token needs a token argument or one line on stdin")
			return 2
		}
		token = line
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash token: %v\n", err)
		return 2
	}
	fmt.Println(hash)
	return 0
}
