package reporting

import (
	"fmt"
	"io"
	"sync"

	"github.com/olorin-labs/olorin-risk/internal/results"
)

// JSONReporter writes each report as an indented JSON document as soon as it
// arrives.
type JSONReporter struct {
	writer io.WriteCloser
	mu     sync.Mutex
}

func NewJSONReporter(writer io.WriteCloser) *JSONReporter {
	return &JSONReporter{writer: writer}
}

func (r *JSONReporter) Write(report *results.Report) error {
	data, err := report.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writer.Close()
}
