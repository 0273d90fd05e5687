package scoring

import (
	"math"

	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

// Validator enforces the DomainResult invariants on scorer output before it
// reaches aggregation. Corrections are applied to a copy and logged.
type Validator struct {
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewValidator creates a Validator. metrics may be nil.
func NewValidator(logger *zap.Logger, metrics *observability.Metrics) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger.Named("validator"), metrics: metrics}
}

// Validate returns a corrected copy of r:
//   - a non-finite score is dropped and the status becomes INSUFFICIENT_EVIDENCE
//   - an INSUFFICIENT_EVIDENCE result loses any score it carries
//   - an OK result without a score is downgraded to INSUFFICIENT_EVIDENCE
//   - a finite score outside [0,1] is clamped
//
// Validate is idempotent.
func (v *Validator) Validate(r schemas.DomainResult) schemas.DomainResult {
	out := r.Clone()
	if out.Signals == nil {
		out.Signals = []string{}
	}

	if out.Score != nil && (math.IsNaN(*out.Score) || math.IsInf(*out.Score, 0)) {
		v.corrected(out, "non-finite score dropped", zap.Float64("score", *out.Score))
		out.Score = nil
		out.Status = schemas.StatusInsufficientEvidence
	}

	switch out.Status {
	case schemas.StatusInsufficientEvidence:
		if out.Score != nil {
			v.corrected(out, "score removed from insufficient-evidence result", zap.Float64("score", *out.Score))
			out.Score = nil
		}
	case schemas.StatusOK:
		if out.Score == nil {
			v.corrected(out, "OK result without score downgraded")
			out.Status = schemas.StatusInsufficientEvidence
		}
	}

	if out.Score != nil && (*out.Score < 0 || *out.Score > 1) {
		clamped := round3(clamp01(*out.Score))
		v.corrected(out, "score clamped to [0,1]", zap.Float64("score", *out.Score), zap.Float64("clamped", clamped))
		out.Score = &clamped
	}

	return out
}

// ValidateAll validates every result in order.
func (v *Validator) ValidateAll(results []schemas.DomainResult) []schemas.DomainResult {
	out := make([]schemas.DomainResult, len(results))
	for i, r := range results {
		out[i] = v.Validate(r)
	}
	return out
}

func (v *Validator) corrected(r schemas.DomainResult, msg string, fields ...zap.Field) {
	fields = append(fields, zap.String("domain", string(r.Name)), zap.String("status", string(r.Status)))
	v.logger.Warn("Corrected domain result: "+msg, fields...)
	v.metrics.ObserveCorrection(string(r.Name))
}
