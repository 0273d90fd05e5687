// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/reporting"
	"github.com/olorin-labs/olorin-risk/internal/results"
	"github.com/olorin-labs/olorin-risk/internal/store"
)

// backend is everything the commands persist: investigations with their
// audit log, and lint findings.
type backend interface {
	schemas.InvestigationRepository
	schemas.FindingStore
}

// storeProvider creates the persistence backend. This abstraction allows
// tests to inject an in-memory backend instead of a live database.
type storeProvider interface {
	// Create returns the backend, a cleanup function to release resources,
	// and an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (backend, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider is a factory function that creates a new defaultStoreProvider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the PostgreSQL database, optionally applies migrations,
// and returns the store along with a cleanup function that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (backend, func(), error) {
	logger := observability.GetLogger()
	dbCfg := cfg.Database()
	if dbCfg.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (OLORIN_DATABASE_URL)")
	}

	if dbCfg.MigrateOnStart {
		if err := store.Migrate(ctx, dbCfg.URL, logger); err != nil {
			return nil, nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(dbCfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if dbCfg.MaxConns > 0 {
		poolCfg.MaxConns = dbCfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed.")
	}
	return storeService, cleanup, nil
}

// writeReport renders report through the reporting module.
func writeReport(logger *zap.Logger, report *results.Report, outputPath, format string) error {
	reporter, err := reporting.New(format, outputPath, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize reporter: %w", err)
	}

	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	if outputPath != "" && outputPath != "stdout" {
		logger.Info("Report successfully written to file", zap.String("path", outputPath))
	}
	return nil
}
