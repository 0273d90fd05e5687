// File: internal/results/pipeline.go
package results

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/lint"
	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/scoring"
)

// Pipeline runs the scoring stages for one fact bundle: domain scorers in
// parallel, then validation, aggregation and linting.
type Pipeline struct {
	scorer     *scoring.Scorer
	validator  *scoring.Validator
	aggregator *Aggregator
	linter     *lint.Linter
	sink       FindingSink
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewPipeline wires the scoring stages from configuration. sink and metrics
// may be nil.
func NewPipeline(cfg config.ScoringConfig, logger *zap.Logger, metrics *observability.Metrics, sink FindingSink) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		scorer:     scoring.New(cfg),
		validator:  scoring.NewValidator(logger, metrics),
		aggregator: NewAggregator(cfg.Aggregation, logger, metrics),
		linter:     lint.New(logger, metrics),
		sink:       sink,
		metrics:    metrics,
		logger:     logger.Named("results_pipeline"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Run scores bundle and returns the full report. The only error is context
// cancellation; scoring itself never fails.
func (p *Pipeline) Run(ctx context.Context, bundle schemas.FactBundle) (*Report, error) {
	p.logger.Info("Starting scoring run", zap.String("investigation_id", bundle.InvestigationID))

	domains := make([]schemas.DomainResult, len(schemas.AllDomains))
	g, gctx := errgroup.WithContext(ctx)
	for i, domain := range schemas.AllDomains {
		i, domain := i, domain
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			domains[i] = p.validator.Validate(p.scorer.Score(domain, bundle))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, d := range domains {
		p.metrics.ObserveDomain(string(d.Name), string(d.Status), d.Score)
	}

	aggregation := p.aggregator.Aggregate(domains, bundle.HardEvidence)

	findings := p.linter.Lint(bundle.InvestigationID, domains, aggregation.FinalRisk)
	Prioritize(findings)
	if findings == nil {
		findings = []schemas.LintFinding{}
	}
	if p.sink != nil && len(findings) > 0 {
		p.sink.Submit(findings)
	}

	report := &Report{
		InvestigationID: bundle.InvestigationID,
		DomainResults:   domains,
		Aggregation:     aggregation,
		Findings:        findings,
		Summary:         Summarize(findings),
		GeneratedAt:     p.now(),
	}

	p.logger.Info("Scoring run complete",
		zap.String("investigation_id", bundle.InvestigationID),
		zap.String("gating", string(aggregation.Gating)),
		zap.String("final_risk", schemas.FormatRisk(aggregation.FinalRisk)),
		zap.Int("findings", len(findings)))
	return report, nil
}
