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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var runsDBPath string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run journal",
	Long:  `List, inspect, and clear batch runs recorded with "mdtran translate --db".`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		runs, err := db.ListRuns(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tOK\tFAILED\tCALLS\tTOKENS\tCOST")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t$%.4f\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04"), r.Status,
				r.JobsSucceeded, r.JobsFailed, r.Calls, r.InputTokens+r.OutputTokens, r.Cost)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run and its documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		run, err := db.GetRun(ctx, args[0])
		if err != nil {
			return err
		}
		jobs, err := db.ListJobs(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		fmt.Printf("Run:         %s\n", run.ID)
		fmt.Printf("Status:      %s\n", run.Status)
		fmt.Printf("Input:       %s\n", run.InputDir)
		fmt.Printf("Output:      %s\n", run.OutputDir)
		fmt.Printf("Model:       %s\n", run.Model)
		fmt.Printf("Concurrency: %d\n", run.Concurrency)
		fmt.Printf("Started:     %s\n", run.StartedAt.Format(time.RFC3339))
		if run.FinishedAt.Valid {
			fmt.Printf("Finished:    %s (%s)\n", run.FinishedAt.Time.Format(time.RFC3339), run.FinishedAt.Time.Sub(run.StartedAt).Round(time.Second))
		}
		fmt.Printf("Calls:       %d\n", run.Calls)
		fmt.Printf("Tokens:      %d in / %d out\n", run.InputTokens, run.OutputTokens)
		fmt.Printf("Cost:        $%.4f\n\n", run.Cost)

		if len(jobs) == 0 {
			fmt.Println("No documents recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FILE\tSTATUS\tTURNS\tRETRIES\tTOKENS\tDURATION\tREASON")
		for _, j := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				j.JobID, j.Status, j.Turns, j.Retries, j.InputTokens+j.OutputTokens,
				j.Duration.Round(time.Millisecond), j.Reason)
		}
		return w.Flush()
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show totals across all recorded runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Runs:          %d\n", stats.Runs)
		fmt.Printf("Documents:     %d (%d succeeded, %d failed)\n", stats.Jobs, stats.JobsSucceeded, stats.JobsFailed)
		fmt.Printf("Turns:         %d\n", stats.Turns)
		fmt.Printf("Input tokens:  %d\n", stats.InputTokens)
		fmt.Printf("Output tokens: %d\n", stats.OutputTokens)
		fmt.Printf("Cost:          $%.4f\n", stats.Cost)
		return nil
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a run with its documents and turns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.DeleteRun(context.Background(), args[0]); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
		fmt.Printf("Deleted run: %s\n", args[0])
		return nil
	},
}

var runsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every recorded run",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(runsDBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.ClearRuns(context.Background())
		if err != nil {
			return fmt.Errorf("failed to clear runs: %w", err)
		}
		fmt.Printf("Cleared %d runs from the journal.\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.PersistentFlags().StringVar(&runsDBPath, "db", defaultDBPath, "Database path")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsClearCmd)
}
