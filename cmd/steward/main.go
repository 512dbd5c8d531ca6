// Package main is the entry point for the steward CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// errTaskFailed marks a run that completed with a failed task. The
// report already told the story; main only sets the exit code.
var errTaskFailed = errors.New("task failed")

func init() {
	// Pick up API keys and local overrides from a .env next to the
	// invocation. Existing environment variables win.
	_ = godotenv.Load()
}

func main() {
	cli := &CLI{}
	kctx := kong.Parse(cli,
		kong.Name("steward"),
		kong.Description("A task loop that plans with an LLM, executes guarded tools, and answers for every action."),
		kong.UsageOnError(),
		kongVars(),
	)
	if err := kctx.Run(); err != nil {
		if !errors.Is(err, errTaskFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}
