package reporting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/olorin-labs/olorin-risk/api/schemas"
	"github.com/olorin-labs/olorin-risk/internal/results"
)

// TextReporter renders reports as aligned tables for terminals.
type TextReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

func NewTextReporter(writer io.WriteCloser) *TextReporter {
	return &TextReporter{writer: writer}
}

func (r *TextReporter) Write(report *results.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := tabwriter.NewWriter(r.writer, 0, 4, 2, ' ', 0)
	if report.InvestigationID != "" {
		fmt.Fprintf(w, "Investigation: %s\n", report.InvestigationID)
	}
	fmt.Fprintf(w, "Domain\tStatus\tScore\tSignals\n")
	fmt.Fprintf(w, "------\t------\t-----\t-------\n")
	for _, d := range report.DomainResults {
		signals := "-"
		if len(d.Signals) > 0 {
			signals = strings.Join(d.Signals, ", ")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.Status, schemas.FormatRisk(d.Score), signals)
	}
	fmt.Fprintf(w, "\nFinal risk:\t%s\n", schemas.FormatRisk(report.Aggregation.FinalRisk))
	fmt.Fprintf(w, "Gating:\t%s\n", report.Aggregation.Gating)
	fmt.Fprintf(w, "Reason:\t%s\n", report.Aggregation.Reason)

	if len(report.Findings) > 0 {
		fmt.Fprintf(w, "\nSeverity\tKind\tDomain\tDetail\n")
		for _, f := range report.Findings {
			domain := string(f.Domain)
			if domain == "" {
				domain = "aggregate"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Severity, f.Kind, domain, f.Detail)
		}
	}
	fmt.Fprintln(w)

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}
