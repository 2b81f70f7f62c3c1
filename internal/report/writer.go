package report

import (
	"fmt"
	"io"

	"github.com/nao1215/roundscout/internal/model"
)

// Writer renders reports to a destination.
type Writer interface {
	// Write outputs a round report.
	// Returns the number of bytes written and any error encountered.
	Write(report *model.RoundReport) (int, error)

	// WriteStatus outputs a node status snapshot.
	WriteStatus(status *model.NodeStatus) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the report to all configured Writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(report *model.RoundReport) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(report)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteStatus outputs the status to all configured Writers.
func (m *MultiWriter) WriteStatus(status *model.NodeStatus) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.WriteStatus(status)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// New returns the writer for format: "text", "markdown" or "json".
func New(format string, output io.Writer, version string) (Writer, error) {
	switch format {
	case "", "text":
		return NewTextWriter(output), nil
	case "markdown", "md":
		return NewMarkdownWriter(output), nil
	case "json":
		return NewFullJSONWriter(output, version, WithPrettyPrint()), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// statusText describes how a round ended.
func statusText(report *model.RoundReport) string {
	switch {
	case report.Canceled:
		return "Canceled (partial results)"
	case report.ErrorMessage != "":
		return "Error - " + report.ErrorMessage
	default:
		return "Complete"
	}
}

// orDash returns s, or "-" when s is empty.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// truncateString truncates a string to maxLen characters with ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
