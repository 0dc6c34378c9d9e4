// Command ghmirror mirrors one or more GitHub repositories' issues,
// pull requests, and comments into a local SQLite database, staying
// current under a configured hourly request budget.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/ghsync/ghmirror/internal/budget"
	"github.com/ghsync/ghmirror/internal/config"
	"github.com/ghsync/ghmirror/internal/creds"
	"github.com/ghsync/ghmirror/internal/handler"
	"github.com/ghsync/ghmirror/internal/orchestrator"
	"github.com/ghsync/ghmirror/internal/store/sqlite"
	"github.com/ghsync/ghmirror/internal/upstream"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ghmirror",
		Short: "Mirror GitHub issues, pull requests, and comments into SQLite",
		RunE:  run,
	}
	root.Flags().StringVar(&configPath, "config", "ghmirror.toml", "path to the TOML config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repos, err := cfg.ParsedRepos()
	if err != nil {
		return fmt.Errorf("parse repos: %w", err)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queue, err := sqlite.NewQueue(ctx, store, log)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	upserter := sqlite.NewUpserter(store, log)
	for _, repo := range repos {
		if err := upserter.EnsureRepo(ctx, repo); err != nil {
			return fmt.Errorf("ensure repo %s: %w", repo, err)
		}
	}

	initialCreds, err := cfg.InitialCredentials()
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	pool, err := creds.New(initialCreds)
	if err != nil {
		return fmt.Errorf("init credential pool: %w", err)
	}
	if cfg.CredentialsFile != "" {
		if err := creds.WatchFile(ctx, cfg.CredentialsFile, pool, log); err != nil {
			return fmt.Errorf("watch credentials file: %w", err)
		}
	}

	client := upstream.NewClient()
	h := handler.New(client, pool, store, upserter, queue, log)

	stats, err := buildStats()
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// SPEC_FULL.md §6: requests_per_hour is a per-credential budget: each
	// identity in the pool carries its own upstream rate limit, so the
	// effective global budget scales linearly with the pool size.
	effectiveLimit := cfg.RequestsPerHour * pool.Len()
	b := budget.New(effectiveLimit)
	orch := orchestrator.New(queue, b, h, repos, log, stats)

	log.Info("ghmirror starting", "repos", len(repos), "requests_per_hour", cfg.RequestsPerHour, "credentials", pool.Len(), "effective_budget", effectiveLimit)
	orch.Run(ctx, cfg.TickInterval, cfg.RefreshInterval)
	log.Info("ghmirror stopped")
	return nil
}

// buildStats wires an OTel meter with the stdout exporter. This keeps
// the dependency exercised without requiring an external collector;
// swapping in otlpmetricgrpc here is a one-line change since the rest
// of the program only depends on the orchestrator.Stats interface.
func buildStats() (*orchestrator.MetricStats, error) {
	exporter, err := stdoutmetric.New(stdoutmetric.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("create stdout metric exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	meter := provider.Meter("github.com/ghsync/ghmirror")
	return orchestrator.NewMetricStats(meter)
}
