// -- cmd/root.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds the root command wired to the production store.
func NewRootCommand() *cobra.Command {
	return newRootCmd(NewStoreProvider())
}

// newRootCmd builds a fresh command tree. Each call is independent so tests
// can execute commands without state leaking between runs.
func newRootCmd(provider storeProvider) *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "olorin-risk",
		Short:         "Olorin risk scores fraud investigations across independent evidence domains.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			config.SetDefaults(v)

			if err := initializeConfig(v, cfgFile); err != nil {
				return fmt.Errorf("failed to initialize configuration: %w", err)
			}

			cfg, err := config.NewConfigFromViper(v)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "olorin-risk"})
				return fmt.Errorf("failed to load or validate config: %w", err)
			}

			observability.InitializeLogger(cfg.Logger())
			observability.GetLogger().Debug("Starting olorin-risk", zap.String("version", Version))

			cmd.SetContext(context.WithValue(cmd.Context(), configKey, config.Interface(cfg)))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	rootCmd.AddCommand(newScoreCmd(provider))
	rootCmd.AddCommand(newInvestigationCmd(provider))
	rootCmd.AddCommand(newServeCmd(provider))
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

// Execute runs the root command with ctx and logs any failure.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// initializeConfig reads in the config file and OLORIN_* environment variables.
func initializeConfig(v *viper.Viper, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("OLORIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults and env vars.
	}
	return nil
}

// getConfigFromContext retrieves the configuration stored by PersistentPreRunE.
func getConfigFromContext(ctx context.Context) (config.Interface, error) {
	cfg, ok := ctx.Value(configKey).(config.Interface)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not found in context")
	}
	return cfg, nil
}
