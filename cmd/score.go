package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/facts"
	"github.com/olorin-labs/olorin-risk/internal/findings"
	"github.com/olorin-labs/olorin-risk/internal/investigation"
	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

// ErrLintFailed is returned by score --strict when the report carries
// error-severity lint findings.
var ErrLintFailed = errors.New("lint reported error-severity findings")

type scoreOptions struct {
	factsPath       string
	investigationID string
	format          string
	outputPath      string
	strict          bool
	publish         bool
}

func newScoreCmd(provider storeProvider) *cobra.Command {
	var opts scoreOptions

	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Score a facts bundle and report the gated risk",
		Long: `Runs the five domain scorers on a YAML or JSON facts file, validates and
aggregates the results, lints the output for contradictions, and writes the
report. With --publish the report is stored on the investigation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runScore(ctx, observability.GetLogger(), cfg, opts, provider)
		},
	}

	scoreCmd.Flags().StringVar(&opts.factsPath, "facts", "", "Path to a YAML or JSON facts file (required)")
	_ = scoreCmd.MarkFlagRequired("facts")
	scoreCmd.Flags().StringVar(&opts.investigationID, "investigation-id", "", "Override the investigation ID from the facts file")
	scoreCmd.Flags().StringVarP(&opts.format, "format", "f", "json", "Output format: json, sarif or text")
	scoreCmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Output file path. If unset, the report is printed to stdout.")
	scoreCmd.Flags().BoolVar(&opts.strict, "strict", false, "Exit non-zero when lint reports error-severity findings")
	scoreCmd.Flags().BoolVar(&opts.publish, "publish", false, "Store the report on the investigation as the system actor")

	return scoreCmd
}

// runScore contains the core, testable logic of the score command.
func runScore(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts scoreOptions, provider storeProvider) error {
	bundle, err := facts.Load(opts.factsPath)
	if err != nil {
		return err
	}
	if opts.investigationID != "" {
		bundle.InvestigationID = opts.investigationID
	}
	if opts.publish && bundle.InvestigationID == "" {
		return fmt.Errorf("--publish requires an investigation ID")
	}

	var be backend
	if opts.publish || cfg.Findings().Persist {
		var cleanup func()
		be, cleanup, err = provider.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
	}

	var sink results.FindingSink
	if cfg.Findings().Persist {
		processor := findings.NewProcessor(be, logger, cfg.Findings())
		processor.Start(ctx)
		// Stop drains and flushes before the store is closed.
		defer processor.Stop()
		sink = processor
	}

	pipeline := results.NewPipeline(cfg.Scoring(), logger, nil, sink)
	report, err := pipeline.Run(ctx, *bundle)
	if err != nil {
		return fmt.Errorf("scoring failed: %w", err)
	}

	if err := writeReport(logger, report, opts.outputPath, opts.format); err != nil {
		return err
	}

	if opts.publish {
		svc := investigation.NewService(be, cfg.Locking(), logger, nil)
		state, err := svc.PublishResults(ctx, bundle.InvestigationID, report.Results())
		if err != nil {
			return fmt.Errorf("failed to publish results: %w", err)
		}
		logger.Info("Published results",
			zap.String("investigation_id", state.InvestigationID),
			zap.Int64("version", state.Version))
	}

	if opts.strict && schemas.HasErrors(report.Findings) {
		return ErrLintFailed
	}
	return nil
}
