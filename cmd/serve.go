package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mailroute/mailroute/config"
	"github.com/mailroute/mailroute/credentials"
	"github.com/mailroute/mailroute/pkg/chat"
	"github.com/mailroute/mailroute/pkg/db"
	"github.com/mailroute/mailroute/pkg/destination"
	"github.com/mailroute/mailroute/pkg/logging"
	"github.com/mailroute/mailroute/pkg/observability"
	"github.com/mailroute/mailroute/pkg/pipeline"
	"github.com/mailroute/mailroute/pkg/reasoning"
	"github.com/mailroute/mailroute/pkg/routing"
	"github.com/mailroute/mailroute/pkg/runlog"
	"github.com/mailroute/mailroute/pkg/server"
	"github.com/mailroute/mailroute/pkg/triage"
)

var servePort int

// ServeCommandDeps holds the dependencies for the serve command.
type ServeCommandDeps struct {
	LoadConfig func() (*config.Config, error)
}

// DefaultServeDeps returns the default dependencies for production use.
func DefaultServeDeps() *ServeCommandDeps {
	return &ServeCommandDeps{
		LoadConfig: config.Load,
	}
}

// NewServeCommand creates the 'serve' command.
func NewServeCommand(deps *ServeCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultServeDeps()
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion and chat HTTP server",
		Long: `Run the ingestion and chat HTTP server.

Endpoints:
  /ingest    Relay webhook (GET challenge handshake, POST/PUT/PATCH events)
  /chat      Interactive assistant (NDJSON stream)
  /healthz   Liveness and dependency health
  /metrics   Prometheus metrics

Examples:
  # Run with the configured port
  mailroute serve

  # Override the listen port
  mailroute serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), deps)
		},
	}

	cmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides config)")

	return cmd
}

func runServe(ctx context.Context, deps *ServeCommandDeps) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger := logging.NewLogger(cfg.LoggingConfig())
	logging.SetGlobal(logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.ConnectWithRetry(ctx, cfg.Database, 5, 2*time.Second)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	migration, err := db.Migrate(ctx, pool)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if len(migration.Applied) > 0 {
		logger.Info("Applied database migrations",
			logging.F("applied", migration.Applied))
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewPipelineMetrics(registry)
	if _, err := db.RegisterPoolStatsCollector(pool, registry); err != nil {
		logger.Warn("Failed to register pool metrics", logging.Err(err))
	}

	deduper, closeDedup := buildDeduper(cfg, logger)
	defer closeDedup()

	provider := reasoning.NewOpenAIProvider(cfg.Reasoning)
	defer provider.Close()

	client := destination.NewClient(destination.WithLogger(logger))
	relay := buildRelay(cfg.Extraction, logger)

	pipe := pipeline.New(
		triage.NewStage(observability.InstrumentProvider(provider, "triage", metrics),
			triage.WithLogger(logger)),
		relay,
		routing.NewRouter(client,
			observability.InstrumentProvider(provider, "routing", metrics),
			routing.WithLogger(logger)),
		client,
		runlog.NewPostgresStore(pool, logger),
		pipeline.WithTimeout(cfg.Server.PipelineTimeout),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	)

	credStore, err := credentials.NewStore()
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}

	sessions := func(userID string) (*chat.Session, error) {
		creds, err := credStore.All()
		if err != nil {
			return nil, fmt.Errorf("loading destination credentials: %w", err)
		}
		return chat.NewSession(observability.InstrumentProvider(provider, "chat", metrics),
			client, client, creds,
			chat.WithTrusted(cfg.Chat.Trusted),
			chat.WithLogger(logger)), nil
	}

	srv := server.New(cfg.Server.Port,
		server.NewIngestHandler(pipe, credStore, deduper, metrics, logger),
		server.NewChatHandler(sessions, logger),
		registry,
		server.WithLogger(logger),
		server.WithHealthChecks(db.NewHealthChecker(pool)),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildDeduper returns the delivery dedup store and its cleanup func. Without
// a Redis address every delivery is treated as fresh.
func buildDeduper(cfg *config.Config, logger logging.Logger) (server.Deduper, func()) {
	if !cfg.Redis.Enabled() {
		return server.NopDeduper{}, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	logger.Info("Delivery dedup enabled", logging.F("addr", cfg.Redis.Addr))
	return server.NewRedisDeduper(client), func() { client.Close() }
}
