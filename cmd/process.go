package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/credentials"
	"github.com/mailroute/mailroute/pkg/db"
	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/event"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/pipeline"
	"github.com/mailroute/mailroute/pkg/reasoning"
	"github.com/mailroute/mailroute/pkg/routing"
	"github.com/mailroute/mailroute/pkg/runlog"
	"github.com/mailroute/mailroute/pkg/server"
	"github.com/mailroute/mailroute/pkg/triage"
)

// Process command flags
var (
	processOutput string
	processUserID string
)

// ProcessCommandDeps holds the dependencies for the process command.
type ProcessCommandDeps struct {
	LoadConfig func() (*config.Config, error)
	LoadCreds  func() ([]destination.Credentials, error)

	// NewProcessor builds the pipeline and a cleanup func.
	NewProcessor func(ctx context.Context, cfg *config.Config) (server.Processor, func(), error)
}

// DefaultProcessDeps returns the default dependencies for production use.
func DefaultProcessDeps() *ProcessCommandDeps {
	return &ProcessCommandDeps{
		LoadConfig: config.Load,
		LoadCreds: func() ([]destination.Credentials, error) {
			store, err := credentials.NewStore()
			if err != nil {
				return nil, err
			}
			return store.All()
		},
		NewProcessor: buildProcessor,
	}
}

// NewProcessCommand creates the 'process' command.
func NewProcessCommand(deps *ProcessCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultProcessDeps()
	}

	cmd := &cobra.Command{
		Use:   "process [envelope-file]",
		Short: "Run a relay envelope through the pipeline once",
		Long: `Run a relay envelope through the pipeline once, without the HTTP server.

Reads the envelope from the given file, or stdin when no file is given. Each
email in the envelope is one pipeline run, exactly as if it had arrived over
/ingest.

Examples:
  # Process a captured envelope
  mailroute process envelope.json

  # Pipe an envelope in
  cat envelope.json | mailroute process`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runProcess(cmd.Context(), deps, path)
		},
	}

	cmd.Flags().StringVarP(&processOutput, "output", "o", outputJSON, "Output format: json, yaml")
	cmd.Flags().StringVar(&processUserID, "user", "default", "User ID to record runs under")

	return cmd
}

func runProcess(ctx context.Context, deps *ProcessCommandDeps, path string) error {
	var body []byte
	var err error
	if path == "" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("reading envelope: %w", err)
	}

	events, err := event.DecodeEnvelope(body, time.Now().UTC())
	if err != nil {
		return err
	}

	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	creds, err := deps.LoadCreds()
	if err != nil {
		return fmt.Errorf("loading destination credentials: %w", err)
	}

	processor, cleanup, err := deps.NewProcessor(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	results := make([]*pipeline.Result, 0, len(events))
	for i := range events {
		results = append(results, processor.Process(ctx, processUserID, &events[i], creds))
	}

	return printFormatted(processOutput, results)
}

// buildProcessor assembles the production pipeline. Without a reachable
// database, run records go to an in-memory store and are lost on exit.
func buildProcessor(ctx context.Context, cfg *config.Config) (server.Processor, func(), error) {
	logger := logging.NewLogger(cfg.LoggingConfig())

	var runs runlog.Store
	cleanup := func() {}
	pool, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Warn("Database unreachable, run records will not persist", logging.Err(err))
		runs = runlog.NewMemoryStore()
	} else {
		if _, err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		runs = runlog.NewPostgresStore(pool, logger)
		cleanup = pool.Close
	}

	provider := reasoning.NewOpenAIProvider(cfg.Reasoning)
	client := destination.NewClient(destination.WithLogger(logger))

	pipe := pipeline.New(
		triage.NewStage(provider, triage.WithLogger(logger)),
		buildRelay(cfg.Extraction, logger),
		routing.NewRouter(client, provider, routing.WithLogger(logger)),
		client,
		runs,
		pipeline.WithTimeout(cfg.Server.PipelineTimeout),
		pipeline.WithLogger(logger),
	)

	closeAll := func() {
		provider.Close()
		cleanup()
	}
	return pipe, closeAll, nil
}
