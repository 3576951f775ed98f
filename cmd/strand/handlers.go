// handlers.go contains the command handlers invoked by the cobra
// commands defined in commands.go.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/observability"
	"github.com/strandlabs/strand/internal/providers"
	"github.com/strandlabs/strand/internal/session"
	"github.com/strandlabs/strand/internal/stream"
	"github.com/strandlabs/strand/internal/usage"
)

// runPrompt drives one prompt through the full session loop against
// the configured provider.
func runPrompt(cmd *cobra.Command, configPath, model, system, prompt string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if model == "" {
		model = cfg.LLM.Model
	}

	provider, err := providers.New(cfg.LLM.Provider, providers.Config{APIKey: cfg.LLM.APIKey})
	if err != nil {
		return err
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	defer func() {
		if err := shutdown(cmd.Context()); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	runner := session.NewRunner(provider, nil, session.RunnerConfig{
		Model:         model,
		System:        system,
		MaxTokens:     cfg.LLM.MaxTokens,
		MaxIterations: cfg.Session.MaxIterations,
		MaxRetries:    cfg.Session.MaxRetries,
		TokenLimit:    cfg.LLM.TokenLimit,
		OnText:        func(s string) { fmt.Fprint(out, s) },
		Logger:        slog.Default(),
		Metrics:       observability.NewMetrics(),
		Tracer:        tracer,
	})

	res, _, err := runner.Run(cmd.Context(), []session.Message{{Role: "user", Content: prompt}})
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintf(cmd.ErrOrStderr(), "tokens: total=%d prompt=%d completion=%d  cost: $%.6f\n",
		res.Usage.TotalTokens, res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.EstimatedCost)
	return nil
}

// runReplay feeds a JSONL event trace through a fresh processor and
// reports verdicts and the final ledger.
func runReplay(cmd *cobra.Command, configPath, model, tracePath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if model == "" {
		model = cfg.LLM.Model
	}

	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "strand",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	defer func() {
		if err := shutdown(cmd.Context()); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	file, err := os.Open(tracePath)
	if err != nil {
		return fmt.Errorf("open trace: %w", err)
	}
	defer file.Close()

	proc := stream.NewProcessor(stream.Config{
		Model:      model,
		MaxRetries: cfg.Session.MaxRetries,
		Logger:     slog.Default(),
		Metrics:    observability.NewMetrics(),
	})
	if cfg.LLM.TokenLimit > 0 {
		proc.Usage().SetTokenLimit(cfg.LLM.TokenLimit)
	}

	_, span := tracer.StartRun(cmd.Context(), model, "replay")
	defer span.End()

	out := cmd.OutOrStdout()
	verdictCounts := make(map[stream.ResultKind]int)
	line := 0

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var ev stream.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("trace line %d: %w", line, err)
		}

		// Completion text is not accompanied by usage counts in a
		// trace; estimate them so the ledger stays meaningful.
		if ev.Kind == stream.EventTextDelta || ev.Kind == stream.EventReasoningDelta {
			proc.Usage().RecordCompletion(int64(usage.CountTokens(ev.Text, model)))
		}

		verdict := proc.ProcessEvent(ev)
		verdictCounts[verdict.Kind]++

		if verbose || verdict.Kind != stream.ResultContinue {
			fmt.Fprintf(out, "%4d  %-16s -> %s", line, ev.Kind, verdict.Kind)
			switch verdict.Kind {
			case stream.ResultToolCallRequired:
				fmt.Fprintf(out, "  %s(%s)", verdict.Name, verdict.ID)
			case stream.ResultFinished:
				fmt.Fprintf(out, "  reason=%s", verdict.Reason)
			case stream.ResultError:
				fmt.Fprintf(out, "  %s", verdict.Message)
			}
			fmt.Fprintln(out)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read trace: %w", err)
	}

	snapshot := proc.Usage().Snapshot()
	fmt.Fprintf(out, "\n%d events", line)
	for _, kind := range []stream.ResultKind{
		stream.ResultContinue,
		stream.ResultToolCallRequired,
		stream.ResultFinished,
		stream.ResultCancelled,
		stream.ResultError,
	} {
		if n := verdictCounts[kind]; n > 0 {
			fmt.Fprintf(out, "  %s=%d", kind, n)
		}
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "tokens: total=%d prompt=%d completion=%d (estimated)\n",
		snapshot.TotalTokens, snapshot.PromptTokens, snapshot.CompletionTokens)
	fmt.Fprintf(out, "cost:   $%.6f  limit status: %s\n",
		snapshot.EstimatedCost, proc.Usage().LimitStatus())
	return nil
}

// runEstimate tokenizes the input and prints count and cost.
func runEstimate(cmd *cobra.Command, model, path string) error {
	var reader io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		reader = file
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	estimate := usage.EstimateTokens(string(data), model)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "model:      %s\n", estimate.Model)
	fmt.Fprintf(out, "characters: %d\n", estimate.Characters)
	fmt.Fprintf(out, "tokens:     %d\n", estimate.Tokens)
	fmt.Fprintf(out, "input cost: $%.6f\n", estimate.EstimatedCost)
	return nil
}

// runModels prints the catalog.
func runModels(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tINPUT $/1M\tOUTPUT $/1M\tCACHE READ $/1M\tCONTEXT\tMAX OUTPUT")

	for _, model := range usage.CatalogModels() {
		pricing, ok := usage.LookupPricing(model)
		if !ok {
			continue
		}
		maxOutput := pricing.MaxOutputTokens
		if maxOutput == 0 {
			maxOutput = usage.DefaultMaxOutputTokens
		}
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.3f\t%d\t%d\n",
			model,
			pricing.InputPer1M,
			pricing.OutputPer1M,
			pricing.CacheReadPer1M,
			pricing.ContextWindow,
			maxOutput,
		)
	}

	return w.Flush()
}
