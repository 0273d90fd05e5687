package reporting

import (
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/olorin-labs/olorin-risk/internal/results"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Reporter defines the interface for writing scoring reports to an output.
type Reporter interface {
	// Write processes a single scoring report.
	Write(report *results.Report) error
	// Close finalizes the output and closes any underlying resources (e.g., file handles).
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a new reporter based on the specified format and output path.
func New(format, outputPath, toolVersion string) (Reporter, error) {
	switch format {
	case "sarif", "json", "text":
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		// Wrap Stdout so Close() is a no-op.
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case "sarif":
		// NewSARIFReporter takes ownership of the writer.
		return NewSARIFReporter(writer, toolVersion), nil
	case "json":
		return NewJSONReporter(writer), nil
	default:
		return NewTextReporter(writer), nil
	}
}
