// commands.go contains the cobra command definitions and their flag
// configurations. Each builder wires a command to its handler.
package main

import (
	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		model      string
		system     string
	)

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run one prompt through the configured provider",
		Long: `Run sends a single prompt to the configured provider and streams the
response to stdout, driving the full session loop: stream processing,
retry control, and token accounting. The final usage ledger is printed
to stderr.`,
		Example: `  strand run "explain this stack trace" < trace.txt
  strand run --model gpt-4o "write a haiku about mutexes"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrompt(cmd, configPath, model, system, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id (overrides config)")
	cmd.Flags().StringVarP(&system, "system", "s", "", "System prompt")

	return cmd
}

func buildReplayCmd() *cobra.Command {
	var (
		configPath string
		model      string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "replay <trace.jsonl>",
		Short: "Replay a recorded event trace through the processor",
		Long: `Replay feeds a JSONL stream-event trace through the processor one
event at a time, printing the verdict for each event and the final
usage ledger. Use it to inspect recorded sessions or to test traces
against the state machine.`,
		Example: `  # Replay a recorded session
  strand replay session.jsonl

  # Replay with a different model for cost accounting
  strand replay --model claude-opus-4 session.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, configPath, model, args[0], verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model for pricing and token limits (overrides config)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print a verdict line for every event")

	return cmd
}

func buildEstimateCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "estimate [file]",
		Short: "Estimate token count and input cost for text",
		Long: `Estimate tokenizes the given file (or stdin when omitted or "-")
with the model's encoding and prints the token count and the input
cost at catalog pricing.`,
		Example: `  strand estimate prompt.txt
  cat prompt.txt | strand estimate --model gpt-4o`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runEstimate(cmd, model, path)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "claude-sonnet-4", "Model for encoding and pricing")

	return cmd
}

func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog with pricing and limits",
		Args:  cobra.NoArgs,
		RunE:  runModels,
	}
}
