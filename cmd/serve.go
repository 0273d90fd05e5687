package cmd

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/findings"
	"github.com/olorin-labs/olorin-risk/internal/httpapi"
	"github.com/olorin-labs/olorin-risk/internal/investigation"
	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

func newServeCmd(provider storeProvider) *cobra.Command {
	var listenAddr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the investigation and scoring HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.SetServerListenAddr(listenAddr)
			}
			return runServe(ctx, observability.GetLogger(), cfg, provider)
		},
	}
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides server.listen_addr)")
	return serveCmd
}

// runServe wires the service graph and blocks until ctx is cancelled.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, provider storeProvider) error {
	var repo schemas.InvestigationRepository
	var findingStore schemas.FindingStore

	if cfg.Database().URL == "" {
		logger.Warn("Database URL (OLORIN_DATABASE_URL) is not set. Investigations are kept in memory only.")
		repo = investigation.NewMemoryRepository()
	} else {
		be, cleanup, err := provider.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		repo = be
		findingStore = be
		logger.Info("Database connection established successfully.")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var sink results.FindingSink
	if cfg.Findings().Persist && findingStore != nil {
		processor := findings.NewProcessor(findingStore, logger, cfg.Findings())
		processor.Start(ctx)
		defer processor.Stop()
		sink = processor
	}

	svc := investigation.NewService(repo, cfg.Locking(), logger, metrics)
	pipeline := results.NewPipeline(cfg.Scoring(), logger, metrics, sink)
	handlers := httpapi.NewHandlers(logger, svc, pipeline, cfg.Server(), reg)

	return httpapi.NewServer(cfg.Server(), handlers.Router(), logger).Run(ctx)
}
