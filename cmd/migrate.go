package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/store"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			dsn := cfg.Database().URL
			if dsn == "" {
				return fmt.Errorf("database URL is not configured (OLORIN_DATABASE_URL)")
			}

			if !status {
				return store.Migrate(ctx, dsn, observability.GetLogger())
			}
			statuses, err := store.MigrationStatus(ctx, dsn)
			if err != nil {
				return fmt.Errorf("failed to read migration status: %w", err)
			}
			for _, s := range statuses {
				cmd.Printf("%-8s %s\n", s.State, s.Source.Path)
			}
			return nil
		},
	}
	migrateCmd.Flags().BoolVar(&status, "status", false, "Print migration status instead of applying")
	return migrateCmd
}
