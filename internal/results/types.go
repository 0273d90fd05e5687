package results

import (
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/olorin-labs/olorin-risk/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FindingSink receives lint findings for asynchronous persistence.
type FindingSink interface {
	Submit(findings []schemas.LintFinding)
}

// Report is the complete output of one scoring run.
type Report struct {
	InvestigationID string                    `json:"investigation_id,omitempty"`
	DomainResults   []schemas.DomainResult    `json:"domain_results"`
	Aggregation     schemas.AggregationResult `json:"aggregation"`
	Findings        []schemas.LintFinding     `json:"findings"`
	Summary         map[string]int            `json:"summary"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

// ToJSON serializes the report to an indented JSON byte slice.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Results converts the report into the shape stored on an investigation.
func (r *Report) Results() *schemas.InvestigationResults {
	return &schemas.InvestigationResults{
		Aggregation:   r.Aggregation,
		DomainResults: r.DomainResults,
		Findings:      r.Findings,
		CompletedAt:   r.GeneratedAt,
	}
}
