// Package main provides the CLI entry point for strand, the session
// execution core for LLM coding assistants.
//
// # Basic Usage
//
// Replay a recorded event trace through the processor:
//
//	strand replay session.jsonl
//
// Estimate token count and cost for a prompt:
//
//	strand estimate --model claude-sonnet-4 prompt.txt
//
// List the model catalog:
//
//	strand models
//
// # Environment Variables
//
//   - STRAND_API_KEY: provider API key (overrides config)
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: provider-specific keys
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "strand",
		Short: "strand - session execution core for LLM coding assistants",
		Long: `strand processes model stream events through a per-tool-call state
machine with doom-loop guarding, retry control, and token accounting.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildReplayCmd(),
		buildEstimateCmd(),
		buildModelsCmd(),
	)

	return rootCmd
}
