package schemas

import (
	"time"
)

// -- Lint Finding Schemas --

// Severity represents how serious a lint finding is. The values are lowercase
// to align with database ENUMs.
type Severity string

const (
	SeverityError   Severity = "error"   // Self-contradictory output that must not reach a user.
	SeverityWarning Severity = "warning" // Suspicious but publishable output.
	SeverityInfo    Severity = "info"    // Informational; renderers should take care.
)

// FindingKind classifies a contradiction pattern detected by the linter.
type FindingKind string

const (
	// KindNarrativeContradiction: narrative text disagrees with score/status.
	KindNarrativeContradiction FindingKind = "NARRATIVE_SCORE_CONTRADICTION"
	// KindStatusScoreMismatch: status and presence of a score disagree.
	KindStatusScoreMismatch FindingKind = "STATUS_SCORE_MISMATCH"
	// KindScoreOutOfRange: a present score is NaN, infinite or outside [0,1].
	KindScoreOutOfRange FindingKind = "SCORE_OUT_OF_RANGE"
	// KindNaNSurfaced: a NaN/None literal leaked into user-facing text.
	KindNaNSurfaced FindingKind = "NAN_SURFACED"
	// KindFinalRiskAbsent: the final risk is absent and must not be formatted as a float.
	KindFinalRiskAbsent FindingKind = "FINAL_RISK_ABSENT"
	// KindFinalRiskInvalid: the final risk is present but not a finite value in [0,1].
	KindFinalRiskInvalid FindingKind = "FINAL_RISK_INVALID"
)

// LintFinding is a structured report of a contradiction or invariant
// violation in scored or aggregated output. It maps directly to the
// `lint_findings` table.
type LintFinding struct {
	ID              string      `json:"id"`
	InvestigationID string      `json:"investigation_id,omitempty"`
	Domain          DomainName  `json:"domain,omitempty"` // Empty for aggregate-level findings.
	Kind            FindingKind `json:"kind"`
	Severity        Severity    `json:"severity"`
	Detail          string      `json:"detail"`
	ObservedAt      time.Time   `json:"observed_at"`
}

// HasErrors reports whether any finding carries error severity.
func HasErrors(findings []LintFinding) bool {
	for _, f := range findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}
