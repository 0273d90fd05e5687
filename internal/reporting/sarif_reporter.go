// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/observability"
	"github.com/olorin-labs/olorin-risk/internal/reporting/sarif"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName     = "olorin-risk"
	ToolInfoURI  = "https://github.com/olorin-labs/olorin-risk"
	RulePrefix   = "OLORIN-"
	SARIFVersion = "2.1.0"
	SARIFSchema  = "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json"
)

// ruleIDSanitizer replaces anything outside alphanumerics and dots with a
// single hyphen, collapsing consecutive sequences.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9.]+`)

type ruleText struct {
	short, full, help string
}

var ruleCatalog = map[schemas.FindingKind]ruleText{
	schemas.KindNarrativeContradiction: {
		short: "Narrative contradicts score",
		full:  "The narrative wording claims a risk band or evidence state that the numeric score or status does not support.",
		help:  "Regenerate the narrative from the final score, or correct the score before publishing.",
	},
	schemas.KindStatusScoreMismatch: {
		short: "Status and score disagree",
		full:  "A domain with insufficient evidence carries a score, or an OK domain has none.",
		help:  "Drop the score for insufficient evidence. Downgrade OK results without a score.",
	},
	schemas.KindScoreOutOfRange: {
		short: "Score outside [0,1]",
		full:  "A present score is NaN, infinite, or outside the closed unit interval.",
		help:  "Run the result through validation before aggregation.",
	},
	schemas.KindNaNSurfaced: {
		short: "Sentinel leaked into text",
		full:  "A NaN, None, or nil sentinel appears in user-facing narrative or signals.",
		help:  "Render absent values as N/A instead of formatting them.",
	},
	schemas.KindFinalRiskAbsent: {
		short: "Final risk absent",
		full:  "Aggregation produced no final risk. Renderers must show N/A and must not format it as a number.",
		help:  "Collect corroborating evidence from additional domains.",
	},
	schemas.KindFinalRiskInvalid: {
		short: "Final risk invalid",
		full:  "The final risk is present but is not a finite value in [0,1].",
		help:  "Recompute the aggregation from validated domain results.",
	},
}

// SARIFReporter implements the Reporter interface for the SARIF 2.1.0 format.
// It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	log    *sarif.Log
	// mu protects the log structure and the rule index.
	mu          sync.Mutex
	rulesByKind map[schemas.FindingKind]string
	decisions   []map[string]interface{}
}

// NewSARIFReporter creates a new reporter that writes SARIF output.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) *SARIFReporter {
	logger := observability.GetLogger().Named("sarif_reporter")
	log := &sarif.Log{
		Version: SARIFVersion,
		Schema:  SARIFSchema,
		Runs: []*sarif.Run{
			{
				Tool: &sarif.Tool{
					Driver: &sarif.ToolComponent{
						Name:           ToolName,
						Version:        pString(toolVersion),
						InformationURI: pString(ToolInfoURI),
						// Initialize empty slices (not nil) for proper JSON marshalling
						Rules: []*sarif.ReportingDescriptor{},
					},
				},
				Results: []*sarif.Result{},
			},
		},
	}

	return &SARIFReporter{
		writer:      writer,
		logger:      logger,
		log:         log,
		rulesByKind: make(map[schemas.FindingKind]string),
	}
}

// Write converts the lint findings of a report into SARIF results and records
// the gating decision in the run properties.
func (r *SARIFReporter) Write(report *results.Report) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	for _, finding := range report.Findings {
		ruleID := r.ensureRule(finding.Kind)

		investigationID := finding.InvestigationID
		if investigationID == "" {
			investigationID = report.InvestigationID
		}
		props := sarif.PropertyBag{
			"finding_id": finding.ID,
			"gating":     string(report.Aggregation.Gating),
		}
		if investigationID != "" {
			props["investigation_id"] = investigationID
		}
		if finding.Domain != "" {
			props["domain"] = string(finding.Domain)
		}

		run.Results = append(run.Results, &sarif.Result{
			RuleID:     ruleID,
			Message:    &sarif.Message{Text: pString(finding.Detail)},
			Level:      mapSeverityToSARIFLevel(finding.Severity),
			Locations:  r.createLocations(investigationID, finding.Domain),
			Properties: &props,
		})
	}

	r.decisions = append(r.decisions, map[string]interface{}{
		"investigation_id": report.InvestigationID,
		"gating":           string(report.Aggregation.Gating),
		"reason":           report.Aggregation.Reason,
		"final_risk":       schemas.FormatRisk(report.Aggregation.FinalRisk),
	})

	if len(report.Findings) > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.Int("findings_count", len(report.Findings)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close finalizes the SARIF log and writes it to the output writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	if len(r.decisions) > 0 {
		run.Properties = &sarif.PropertyBag{"decisions": r.decisions}
	}
	run.Invocations = []*sarif.Invocation{{
		ExecutionSuccessful: true,
		EndTimeUTC:          pString(time.Now().UTC().Format(time.RFC3339)),
	}}

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	data, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		_, encodeErr = r.writer.Write(append(data, '\n'))
	}
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Info("Successfully wrote SARIF report",
		zap.Duration("duration_ms", time.Since(startTime)),
	)
	return nil
}

// RuleID derives the SARIF rule identifier for a finding kind.
func RuleID(kind schemas.FindingKind) string {
	name := strings.Trim(ruleIDSanitizer.ReplaceAllString(strings.ToUpper(string(kind)), "-"), "-")
	if name == "" {
		name = "UNKNOWN"
	}
	return RulePrefix + name
}

// ensureRule registers the rule for kind on first use and returns its ID.
// Must be called while holding the mutex.
func (r *SARIFReporter) ensureRule(kind schemas.FindingKind) string {
	if ruleID, exists := r.rulesByKind[kind]; exists {
		return ruleID
	}

	ruleID := RuleID(kind)
	r.logger.Debug("Registering new SARIF rule definition", zap.String("rule_id", ruleID))

	text, known := ruleCatalog[kind]
	if !known {
		text = ruleText{short: string(kind), full: string(kind)}
	}
	markdownHelp := fmt.Sprintf("**Finding:** %s\n\n**Description:**\n%s\n\n**Remediation:**\n%s",
		text.short, text.full, text.help)

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:               ruleID,
		Name:             pString(string(kind)),
		ShortDescription: &sarif.MultiformatMessageString{Text: pString(text.short)},
		FullDescription:  &sarif.MultiformatMessageString{Text: pString(text.full)},
		Help: &sarif.MultiformatMessageString{
			Text:     pString(text.help),
			Markdown: pString(markdownHelp),
		},
		Properties: &sarif.PropertyBag{
			"tags":      []string{"risk-scoring", "lint"},
			"precision": "high",
		},
	})
	r.rulesByKind[kind] = ruleID
	return ruleID
}

// createLocations points a result at its investigation and, when set, domain.
func (r *SARIFReporter) createLocations(investigationID string, domain schemas.DomainName) []*sarif.Location {
	if investigationID == "" && domain == "" {
		return nil
	}
	name := "aggregate"
	kind := "aggregation"
	if domain != "" {
		name = string(domain)
		kind = "domain"
	}
	fqn := name
	if investigationID != "" {
		fqn = investigationID + "/" + name
	}
	return []*sarif.Location{{
		LogicalLocations: []*sarif.LogicalLocation{{
			Name:               pString(name),
			FullyQualifiedName: pString(fqn),
			Kind:               pString(kind),
		}},
	}}
}

// mapSeverityToSARIFLevel converts lint severity to the SARIF standard.
func mapSeverityToSARIFLevel(severity schemas.Severity) sarif.Level {
	switch severity {
	case schemas.SeverityError:
		return sarif.LevelError
	case schemas.SeverityWarning:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value. Helper for optional SARIF fields.
func pString(s string) *string {
	return &s
}
