package results

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/config"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

// Aggregator fuses validated domain results into a single gated risk.
//
// The fused value is the weighted arithmetic mean of every present score,
// using the configured per-domain weights (missing weights count as 1.0),
// rounded to three decimals. Confirmed fraud in the hard evidence forces
// PASS with the fused value raised to at least the hard-evidence floor.
// Otherwise fewer than MinCorroboratingDomains present scores blocks
// publication and leaves the final risk absent.
type Aggregator struct {
	cfg     config.AggregationConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewAggregator creates an Aggregator. metrics may be nil.
func NewAggregator(cfg config.AggregationConfig, logger *zap.Logger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, logger: logger.Named("aggregator"), metrics: metrics}
}

// Aggregate computes the gated result. It is pure apart from logging and
// metrics and never fails.
func (a *Aggregator) Aggregate(domains []schemas.DomainResult, evidence schemas.HardEvidence) schemas.AggregationResult {
	contributing := make([]schemas.DomainName, 0, len(domains))
	var weightedSum, weightSum, plainSum float64

	for _, d := range domains {
		if d.Score == nil || math.IsNaN(*d.Score) || math.IsInf(*d.Score, 0) {
			continue
		}
		score := math.Max(0, math.Min(1, *d.Score))
		w := a.weight(d.Name)
		weightedSum += score * w
		weightSum += w
		plainSum += score
		contributing = append(contributing, d.Name)
	}

	var fused *float64
	if n := len(contributing); n > 0 {
		var v float64
		if weightSum > 0 {
			v = weightedSum / weightSum
		} else {
			v = plainSum / float64(n)
		}
		v = round3(v)
		fused = &v
	}

	var result schemas.AggregationResult
	switch {
	case evidence.HasConfirmedFraud():
		floor := a.cfg.HardEvidenceFloor
		if fused != nil {
			floor = math.Max(*fused, floor)
		}
		floor = round3(floor)
		result = schemas.AggregationResult{
			FinalRisk:    &floor,
			Gating:       schemas.GatingPass,
			Reason:       schemas.ReasonHardEvidenceFloor,
			Contributing: contributing,
		}
	case len(contributing) == 0 || len(contributing) < a.cfg.MinCorroboratingDomains:
		result = schemas.AggregationResult{
			Gating:       schemas.GatingBlock,
			Reason:       schemas.ReasonInsufficientEvidence,
			Contributing: contributing,
		}
	default:
		result = schemas.AggregationResult{
			FinalRisk:    fused,
			Gating:       schemas.GatingPass,
			Reason:       schemas.ReasonCorroborated,
			Contributing: contributing,
		}
	}

	a.logger.Debug("Aggregated domain results.",
		zap.String("gating", string(result.Gating)),
		zap.String("final_risk", schemas.FormatRisk(result.FinalRisk)),
		zap.Int("contributing", len(contributing)),
		zap.Bool("confirmed_fraud", evidence.HasConfirmedFraud()))
	a.metrics.ObserveGating(string(result.Gating), result.Reason)
	return result
}

func (a *Aggregator) weight(name schemas.DomainName) float64 {
	if w, ok := a.cfg.DomainWeights[string(name)]; ok && w >= 0 {
		return w
	}
	return 1.0
}

func round3(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}
