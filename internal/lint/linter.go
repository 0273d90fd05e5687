// Package lint detects self-contradictory scoring output. Findings are data,
// never errors: the linter runs in CI and optionally at runtime, and the
// aggregator's gating remains the publication safety mechanism.
package lint

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/observability"
)

// Narrative thresholds. A narrative claiming low risk above lowRiskCeiling,
// or high risk below highRiskFloor, contradicts its own score.
const (
	lowRiskCeiling = 0.6
	highRiskFloor  = 0.3
)

var (
	lowRiskPattern      = regexp.MustCompile(`(?i)\blow[- ]risk\b`)
	highRiskPattern     = regexp.MustCompile(`(?i)\bhigh[- ]risk\b`)
	insufficientPattern = regexp.MustCompile(`(?i)\binsufficient (evidence|data)\b`)
	// Placeholder literals that leak from unformatted absent values.
	leakedValuePattern = regexp.MustCompile(`\bNaN\b|\bNone\b|<nil>|%!f\(`)
)

// Linter produces structured findings for a set of domain results and a
// final risk value.
type Linter struct {
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// New creates a Linter. metrics may be nil.
func New(logger *zap.Logger, metrics *observability.Metrics) *Linter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Linter{
		logger:  logger.Named("linter"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Lint returns every contradiction found in domains and finalRisk. Domain
// findings are emitted in input order, followed by aggregate findings.
func (l *Linter) Lint(investigationID string, domains []schemas.DomainResult, finalRisk *float64) []schemas.LintFinding {
	var findings []schemas.LintFinding
	emit := func(domain schemas.DomainName, kind schemas.FindingKind, sev schemas.Severity, format string, args ...any) {
		findings = append(findings, schemas.LintFinding{
			ID:              uuid.NewString(),
			InvestigationID: investigationID,
			Domain:          domain,
			Kind:            kind,
			Severity:        sev,
			Detail:          fmt.Sprintf(format, args...),
			ObservedAt:      l.now(),
		})
	}

	for _, d := range domains {
		l.lintDomain(d, emit)
	}
	lintFinalRisk(finalRisk, emit)

	for _, f := range findings {
		l.metrics.ObserveFinding(string(f.Kind), string(f.Severity))
	}
	if schemas.HasErrors(findings) {
		l.logger.Warn("Lint found contradictions in scoring output.",
			zap.String("investigation_id", investigationID),
			zap.Int("findings", len(findings)))
	}
	return findings
}

type emitFunc func(domain schemas.DomainName, kind schemas.FindingKind, sev schemas.Severity, format string, args ...any)

func (l *Linter) lintDomain(d schemas.DomainResult, emit emitFunc) {
	finite := d.Score != nil && !math.IsNaN(*d.Score) && !math.IsInf(*d.Score, 0)

	if d.Score != nil && (!finite || *d.Score < 0 || *d.Score > 1) {
		emit(d.Name, schemas.KindScoreOutOfRange, schemas.SeverityError,
			"score %v is not a finite value in [0,1]", *d.Score)
	}

	switch {
	case d.Status != schemas.StatusOK && d.Score != nil:
		emit(d.Name, schemas.KindStatusScoreMismatch, schemas.SeverityError,
			"status %s carries score %s", d.Status, schemas.FormatRisk(d.Score))
	case d.Status == schemas.StatusOK && d.Score == nil:
		emit(d.Name, schemas.KindStatusScoreMismatch, schemas.SeverityWarning,
			"status OK without a score")
	}

	if finite {
		score := *d.Score
		if score > lowRiskCeiling && lowRiskPattern.MatchString(d.Narrative) {
			emit(d.Name, schemas.KindNarrativeContradiction, schemas.SeverityError,
				"narrative claims low risk but score is %.3f", score)
		}
		if score < highRiskFloor && highRiskPattern.MatchString(d.Narrative) {
			emit(d.Name, schemas.KindNarrativeContradiction, schemas.SeverityError,
				"narrative claims high risk but score is %.3f", score)
		}
	}
	if d.Score != nil && insufficientPattern.MatchString(d.Narrative) {
		emit(d.Name, schemas.KindNarrativeContradiction, schemas.SeverityError,
			"narrative claims insufficient evidence but score %s is present", schemas.FormatRisk(d.Score))
	}

	if leakedValuePattern.MatchString(d.Narrative) {
		emit(d.Name, schemas.KindNaNSurfaced, schemas.SeverityWarning,
			"narrative contains an unformatted placeholder: %q", leakedValuePattern.FindString(d.Narrative))
	}
	for _, s := range d.Signals {
		if leakedValuePattern.MatchString(s) {
			emit(d.Name, schemas.KindNaNSurfaced, schemas.SeverityWarning,
				"signal contains an unformatted placeholder: %q", s)
		}
	}
}

func lintFinalRisk(finalRisk *float64, emit emitFunc) {
	if finalRisk == nil {
		emit("", schemas.KindFinalRiskAbsent, schemas.SeverityInfo,
			"final risk is absent; renderers must show %s instead of formatting a number", schemas.FormatRisk(nil))
		return
	}
	v := *finalRisk
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
		emit("", schemas.KindFinalRiskInvalid, schemas.SeverityError,
			"final risk %v is not a finite value in [0,1]", v)
	}
}
