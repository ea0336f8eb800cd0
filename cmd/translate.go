/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/valpere/mdtran/internal"
	"github.com/valpere/mdtran/internal/backoff"
	"github.com/valpere/mdtran/internal/metrics"
	"github.com/valpere/mdtran/internal/orchestrator"
	"github.com/valpere/mdtran/internal/prompt"
	"github.com/valpere/mdtran/internal/store"
	"github.com/valpere/mdtran/internal/translator"
	"github.com/valpere/mdtran/internal/turn"
	"github.com/valpere/mdtran/internal/usage"
	"github.com/valpere/mdtran/internal/workspace"
)

var translateCmd = &cobra.Command{
	Use:   "translate",
	Short: "Translate every markdown file in a directory",
	Long: `Translate every *.md file directly inside the input directory and write
each translation to <output-dir>/<prefix><name>.

A document is translated over several turns: the model is asked to continue
until it emits the completion marker. Transient failures (rate limits,
connection errors, overload, timeouts) are retried with exponential backoff;
a document fails once its consecutive failures exceed --max-retries. A failed
document never stops the others.

Several API keys may be given; document i uses key i mod N and, unless
--concurrency or --sequential is set, N documents are translated at once.

Examples:
  mdtran translate --api-keys sk-1,sk-2
  mdtran translate -i papers -o out --sequential --db ./data/mdtran.db
  MDTRAN_API_KEYS=sk-1 mdtran translate --base-url https://gateway.example/v1`,
	RunE: runTranslate,
}

func runTranslate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	layout := workspace.Layout{
		InputDir:  viper.GetString("input-dir"),
		OutputDir: viper.GetString("output-dir"),
		Prefix:    viper.GetString("prefix"),
	}
	jobs, err := workspace.Discover(layout)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(viper.GetStringSlice("header"))
	if err != nil {
		return err
	}
	timeout := viper.GetDuration("timeout")
	clients, err := buildClients(splitList(viper.GetStringSlice("api-keys")), viper.GetString("base-url"), timeout, headers)
	if err != nil {
		return err
	}

	var db *store.Store
	if path := viper.GetString("db"); path != "" {
		db, err = openStore(path)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	prompts, err := buildPrompts(ctx, db)
	if err != nil {
		return err
	}

	acc := usage.New(usage.Pricing{
		InputPer1K:  viper.GetFloat64("input-rate"),
		OutputPer1K: viper.GetFloat64("output-rate"),
	})

	var observers []turn.Observer
	if addr := viper.GetString("metrics-addr"); addr != "" {
		m := metrics.New()
		acc.AddObserver(m)
		observers = append(observers, m)
		go func() {
			if err := m.Serve(ctx, addr); err != nil {
				log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
			}
		}()
	}

	cfg := orchestrator.OrchestratorConfig{
		Concurrency: viper.GetInt("concurrency"),
		Sequential:  viper.GetBool("sequential"),
		Turn: turn.Config{
			MaxRetries:  viper.GetInt("max-retries"),
			MaxTurns:    viper.GetInt("max-turns"),
			CallTimeout: timeout,
			Model:       modelConfig(),
		},
	}

	concurrency := cfg.Concurrency
	switch {
	case cfg.Sequential:
		concurrency = 1
	case concurrency <= 0:
		concurrency = len(clients)
	}

	var journal *store.Journal
	if db != nil {
		journal, err = store.OpenJournal(ctx, db, store.Run{
			InputDir:    layout.InputDir,
			OutputDir:   layout.OutputDir,
			Model:       cfg.Turn.Model.Model,
			Concurrency: concurrency,
		})
		if err != nil {
			return fmt.Errorf("failed to start run journal: %w", err)
		}
		observers = append(observers, journal)
	}

	policy := backoff.Default()
	policy.Base = viper.GetDuration("backoff-base")
	policy.Ceiling = viper.GetDuration("backoff-max")

	orch, err := orchestrator.New(clients, prompts, acc, cfg, turn.WithObservers(observers...), turn.WithBackoff(policy))
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		fmt.Printf("No markdown files found in %s\n", layout.InputDir)
	}

	result := orch.Execute(ctx, jobs)
	printOutcomes(os.Stdout, result)
	result.Usage.Print(os.Stdout)

	if journal != nil {
		// the run context may already be cancelled
		if err := journal.Finish(context.Background(), result.Succeeded, result.Failed, result.Usage, ctx.Err() != nil); err != nil {
			log.Warn().Err(err).Msg("failed to finish run journal")
		} else {
			fmt.Printf("Run ID: %s\n", journal.RunID())
		}
	}
	return nil
}

func buildPrompts(ctx context.Context, db *store.Store) (*prompt.Builder, error) {
	opts := prompt.Options{
		Sentinel: viper.GetString("sentinel"),
		Continue: viper.GetString("continue-prompt"),
	}
	if path := viper.GetString("prompt-file"); path != "" {
		tmpl, err := prompt.LoadTemplate(path)
		if err != nil {
			return nil, err
		}
		opts.Template = tmpl
	}
	if db != nil {
		terms, err := db.GetGlossaryTerms(ctx, viper.GetString("source-lang"), viper.GetString("target-lang"))
		if err != nil {
			return nil, fmt.Errorf("failed to load glossary: %w", err)
		}
		if len(terms) > 0 {
			log.Info().Int("terms", len(terms)).Msg("glossary loaded")
		}
		opts.Glossary = terms
	}
	return prompt.New(opts)
}

func modelConfig() translator.ModelConfig {
	mc := translator.ModelConfig{
		Model:     viper.GetString("model"),
		MaxTokens: viper.GetInt("max-tokens"),
	}
	if t := viper.GetFloat64("temperature"); t >= 0 {
		v := float32(t)
		mc.Temperature = &v
	}
	return mc
}

func printOutcomes(out io.Writer, result *orchestrator.OrchestratorResult) {
	if len(result.Outcomes) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSTATUS\tTURNS\tRETRIES\tTOKENS\tDURATION\tREASON")
		for _, o := range result.Outcomes {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				o.JobID, o.Status, o.Turns, o.Retries, o.InputTokens+o.OutputTokens,
				o.Duration.Round(time.Millisecond), o.Reason)
		}
		w.Flush()
	}

	fmt.Fprintf(out, "\nTranslated %d/%d files (%d failed) in %s\n",
		result.Succeeded, len(result.Outcomes), result.Failed, result.Duration.Round(time.Second))
	for _, o := range result.Outcomes {
		if o.Status == internal.StatusFailed {
			fmt.Fprintf(out, "  failed: %s (%s)\n", o.JobID, o.Reason)
		}
	}
}

func init() {
	rootCmd.AddCommand(translateCmd)

	f := translateCmd.Flags()
	f.StringP("input-dir", "i", workspace.DefaultInputDir, "Directory with markdown files to translate")
	f.StringP("output-dir", "o", workspace.DefaultOutputDir, "Directory for translated files")
	f.String("prefix", workspace.DefaultPrefix, "File name prefix for translated files")

	f.StringSlice("api-keys", nil, "API keys, one client per key (comma-separated)")
	f.String("base-url", translator.DefaultBaseURL, "OpenAI-compatible API base URL")
	f.StringSlice("header", nil, "Extra HTTP header sent with every request (Name=value, repeatable)")
	f.StringP("model", "m", translator.DefaultModel, "Model name")
	f.Int("max-tokens", 8192, "Maximum tokens per reply")
	f.Float64("temperature", -1, "Sampling temperature (negative leaves it to the endpoint)")

	f.IntP("concurrency", "c", 0, "Documents translated at once (0 = one per API key)")
	f.Bool("sequential", false, "Translate one document at a time in file name order")
	f.Int("max-retries", turn.DefaultMaxRetries, "Consecutive failed calls tolerated per document")
	f.Int("max-turns", 0, "Maximum successful calls per document (0 = until the completion marker)")
	f.Duration("timeout", translator.DefaultTimeout, "Timeout of a single call")
	f.Duration("backoff-base", backoff.DefaultBase, "Base retry delay")
	f.Duration("backoff-max", backoff.DefaultCeiling, "Maximum retry delay")

	f.Float64("input-rate", usage.DefaultInputPer1K, "Input token price in USD per 1K tokens")
	f.Float64("output-rate", usage.DefaultOutputPer1K, "Output token price in USD per 1K tokens")

	f.String("prompt-file", "", "Instruction template file (Go template with .Content and .Sentinel)")
	f.String("sentinel", prompt.DefaultSentinel, "Completion marker the model emits when done")
	f.String("continue-prompt", "", "Continuation instruction (default asks to continue and emit the marker)")

	f.String("db", "", "Database path for the run journal and glossary (empty disables)")
	f.String("source-lang", "en", "Glossary source language")
	f.String("target-lang", "zh", "Glossary target language")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}
