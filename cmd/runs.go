package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/pkg/db"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/runlog"
)

// Runs command flags
var (
	runsOutput string
	runsLimit  int
	runsUserID string
	runsStatus string
)

// RunsCommandDeps holds the dependencies for the runs command.
type RunsCommandDeps struct {
	LoadConfig func() (*config.Config, error)

	// OpenStore returns the run store and a cleanup func.
	OpenStore func(ctx context.Context, cfg *config.Config) (runlog.Store, func(), error)
}

// DefaultRunsDeps returns the default dependencies for production use.
func DefaultRunsDeps() *RunsCommandDeps {
	return &RunsCommandDeps{
		LoadConfig: config.Load,
		OpenStore: func(ctx context.Context, cfg *config.Config) (runlog.Store, func(), error) {
			pool, err := db.Connect(ctx, cfg.Database)
			if err != nil {
				return nil, nil, fmt.Errorf("connecting to database: %w", err)
			}
			return runlog.NewPostgresStore(pool, logging.MustGlobal()), pool.Close, nil
		},
	}
}

// NewRunsCommand creates the 'runs' command.
func NewRunsCommand(deps *RunsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRunsDeps()
	}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List pipeline run records",
		Long: `List pipeline run records, newest first.

Every ingested event leaves exactly one run record: what kind of data it
carried, where it came from, where it was written, and how the run ended
(Success, Failed, Processed, or Skip).

Examples:
  # Show the latest runs
  mailroute runs

  # Show failed runs for one user
  mailroute runs --user u-42 --status Failed --limit 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd.Context(), deps)
		},
	}

	cmd.Flags().StringVarP(&runsOutput, "output", "o", outputText, "Output format: text, json, yaml")
	cmd.Flags().IntVarP(&runsLimit, "limit", "l", 50, "Maximum number of runs")
	cmd.Flags().StringVar(&runsUserID, "user", "default", "Filter by user ID")
	cmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status (Success, Failed, Processed, Skip)")

	return cmd
}

func runRuns(ctx context.Context, deps *RunsCommandDeps) error {
	if runsStatus != "" && !runlog.Status(runsStatus).Valid() {
		return fmt.Errorf("invalid status %q (must be Success, Failed, Processed, or Skip)", runsStatus)
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, cleanup, err := deps.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := store.ListByUser(ctx, runsUserID, runsLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if runsStatus != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == runlog.Status(runsStatus) {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	if len(records) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	if runsOutput != outputText {
		return printFormatted(runsOutput, records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSTATUS\tDATA TYPE\tSOURCE\tDESTINATION")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.RunTime.Format("2006-01-02 15:04:05"),
			rec.Status, rec.DataType, rec.Source, rec.Destination)
	}
	return w.Flush()
}
