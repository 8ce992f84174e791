package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "run", "serve":
		return runDaemon(args[1:])
	case "run-once":
		return runOnce(args[1:])
	case "reprocess":
		return runReprocess(args[1:])
	case "annotation":
		return runAnnotation(args[1:])
	case "reset":
		return runReset(args[1:])
	case "reconcile":
		return runReconcile(args[1:])
	case "health":
		return runHealth(args[1:])
	case "migrate":
		return runMigrate(args[1:])
	case "words":
		return runWords(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "newsai CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  newsai <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  run         Start the annotation scheduler and the admin API")
	fmt.Fprintln(os.Stderr, "  run-once    Run a single annotation tick under the run lock")
	fmt.Fprintln(os.Stderr, "  reprocess   Flag an article for re-annotation on the next tick")
	fmt.Fprintln(os.Stderr, "  annotation  Print the stored annotation of an article")
	fmt.Fprintln(os.Stderr, "  reset       Drop the annotation of an article so it is rebuilt")
	fmt.Fprintln(os.Stderr, "  reconcile   Remove annotations of deleted or replaced articles")
	fmt.Fprintln(os.Stderr, "  health      Verify database connectivity and show the run lock holder")
	fmt.Fprintln(os.Stderr, "  migrate     Apply the annotation schema")
	fmt.Fprintln(os.Stderr, "  words       Add or disable a moderation word")
	fmt.Fprintln(os.Stderr, "  hash-token  Print a bcrypt hash for ADMIN_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"newsai <command> -h\" for command-specific flags.")
}
