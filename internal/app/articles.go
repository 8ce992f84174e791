package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/newsai/internal/cli"
	"horse.fit/newsai/internal/db"
)

const commandTimeout = 30 * time.Second

func parseArticleFlags(name string, args []string) (*cli.EnvLoader, int64, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	articleID := fs.Int64("article-id", 0, "Article id")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, 0, 0
		}
		return nil, 0, 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintf(os.Stderr, "%s does not accept positional args\n", name)
		return nil, 0, 2
	}
	if *articleID <= 0 {
		fmt.Fprintln(os.Stderr, "--article-id must be a positive integer")
		return nil, 0, 2
	}
	return envLoader, *articleID, -1
}

func runReprocess(args []string) int {
	envLoader, articleID, code := parseArticleFlags("reprocess", args)
	if code >= 0 {
		return code
	}

	env, code := openEnvironment(envLoader, "reprocess")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := env.pool.ForceReprocess(ctx, articleID); err != nil {
		if errors.Is(err, db.ErrArticleNotFound) {
			fmt.Fprintf(os.Stderr, "Article %d not found\n", articleID)
			return 1
		}
		env.logger.Error().Err(err).Int64("article_id", articleID).Msg("force reprocess failed")
		fmt.Fprintf(os.Stderr, "Reprocess failed: %v\n", err)
		return 1
	}
	fmt.Printf("queued article %d for re-annotation\n", articleID)
	return 0
}

func runAnnotation(args []string) int {
	envLoader, articleID, code := parseArticleFlags("annotation", args)
	if code >= 0 {
		return code
	}

	env, code := openEnvironment(envLoader, "annotation")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	record, err := env.pool.GetAnnotation(ctx, articleID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load annotation failed: %v\n", err)
		return 1
	}
	if record == nil {
		fmt.Fprintf(os.Stderr, "No annotation for article %d\n", articleID)
		return 1
	}

	out, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode annotation: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runReset(args []string) int {
	envLoader, articleID, code := parseArticleFlags("reset", args)
	if code >= 0 {
		return code
	}

	env, code := openEnvironment(envLoader, "reset")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	removed, err := env.pool.DeleteAnnotation(ctx, articleID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reset failed: %v\n", err)
		return 1
	}
	fmt.Printf("removed %d annotation(s) for article %d\n", removed, articleID)
	return 0
}

func runReconcile(args []string) int {
	fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	env, code := openEnvironment(envLoader, "reconcile")
	if env == nil {
		return code
	}
	defer env.Close()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	removed, err := env.pool.ReconcileAnnotations(ctx)
	if err != nil {
		env.logger.Error().Err(err).Msg("reconcile failed")
		fmt.Fprintf(os.Stderr, "Reconcile failed: %v\n", err)
		return 1
	}
	env.logger.Info().Int64("removed", removed).Msg("annotations reconciled")
	fmt.Printf("removed %d orphaned annotation(s)\n", removed)
	return 0
}
