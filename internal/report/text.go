package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/nao1215/roundscout/internal/model"
)

// TextWriter outputs human-readable plain text for terminal display.
type TextWriter struct {
	baseWriter

	// verbose adds audit reasons and sampled IDs.
	verbose bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithVerbose enables verbose output with additional details.
func WithVerbose(verbose bool) TextWriterOption {
	return func(w *TextWriter) {
		w.verbose = verbose
	}
}

// NewTextWriter creates a TextWriter that outputs to the given writer.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{
		baseWriter: newBaseWriter(output),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs a round report as text.
func (w *TextWriter) Write(report *model.RoundReport) (int, error) {
	var sb strings.Builder

	writeBanner(&sb, fmt.Sprintf("ROUND %d", report.Round))

	fmt.Fprintf(&sb, "Search Term:    %s\n", orDash(report.SearchTerm))
	fmt.Fprintf(&sb, "Started:        %s\n", report.StartedAt.Format(timeLayout))
	if !report.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, "Finished:       %s\n", report.FinishedAt.Format(timeLayout))
	}
	fmt.Fprintf(&sb, "Status:         %s\n", statusText(report))
	sb.WriteString("\n")

	writeSection(&sb, "CRAWL")
	fmt.Fprintf(&sb, "  Exit:       %s\n", report.Crawl.Exit)
	fmt.Fprintf(&sb, "  Iterations: %d\n", report.Crawl.Iterations)
	fmt.Fprintf(&sb, "  Seen:       %d\n", report.Crawl.Seen)
	fmt.Fprintf(&sb, "  Inserted:   %d\n", report.Crawl.Inserted)
	fmt.Fprintf(&sb, "  Skipped:    %d\n", report.Crawl.Skipped)
	fmt.Fprintf(&sb, "  Records:    %d\n", report.Records)
	sb.WriteString("\n")

	writeSection(&sb, "PROOF")
	if report.Published() {
		fmt.Fprintf(&sb, "  %s\n", report.ProofCID)
	} else {
		sb.WriteString("  not published\n")
	}
	sb.WriteString("\n")

	w.writeAudits(&sb, report.Audits)

	return w.output.Write([]byte(sb.String()))
}

// WriteStatus outputs a node status as text.
func (w *TextWriter) WriteStatus(status *model.NodeStatus) (int, error) {
	var sb strings.Builder

	writeBanner(&sb, "NODE STATUS")
	fmt.Fprintf(&sb, "Round:          %d\n", status.Round)
	fmt.Fprintf(&sb, "Search Term:    %s\n", orDash(status.SearchTerm))
	fmt.Fprintf(&sb, "Records:        %d\n", status.Records)
	sb.WriteString("\n")

	writeSection(&sb, "PROOFS")
	if len(status.Proofs) == 0 {
		sb.WriteString("  none\n")
	}
	for _, p := range status.Proofs {
		fmt.Fprintf(&sb, "  round %-8d %s  %s\n", p.Round, p.CID, p.CreatedAt.Format(timeLayout))
	}
	sb.WriteString("\n")

	w.writeAudits(&sb, status.Audits)

	return w.output.Write([]byte(sb.String()))
}

func (w *TextWriter) writeAudits(sb *strings.Builder, audits []model.AuditResult) {
	writeSection(sb, "AUDITS")
	if len(audits) == 0 {
		sb.WriteString("  none\n\n")
		return
	}
	for _, a := range audits {
		fmt.Fprintf(sb, "  [%s] round %d  %s  %s\n", strings.ToUpper(string(a.Verdict)), a.Round, a.Peer, a.CID)
		if w.verbose {
			fmt.Fprintf(sb, "         reason:  %s\n", orDash(a.Reason))
			if len(a.Samples) > 0 {
				fmt.Fprintf(sb, "         samples: %s\n", strings.Join(a.Samples, ", "))
			}
		}
	}
	sb.WriteString("\n")
}

func writeBanner(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	pad := (70 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	sb.WriteString(strings.Repeat(" ", pad) + title + "\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")
}

func writeSection(sb *strings.Builder, title string) {
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("-", len(title)) + "\n")
}
