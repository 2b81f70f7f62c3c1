package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/roundscout/internal/model"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// MarkdownWriter outputs reports in Markdown format.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs a round report in Markdown format.
func (w *MarkdownWriter) Write(report *model.RoundReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Round " + strconv.FormatInt(report.Round, 10) + " Report")
	md.PlainText("")

	proof := "-"
	if report.Published() {
		proof = "`" + report.ProofCID + "`"
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Search Term", orDash(report.SearchTerm)},
			{"Started", report.StartedAt.Format(timeLayout)},
			{"Finished", formatOptionalTime(report.FinishedAt.IsZero(), report.FinishedAt.Format(timeLayout))},
			{"Records", strconv.Itoa(report.Records)},
			{"Proof", proof},
			{"Steps", orDash(strings.Join(report.PerformedSteps, ", "))},
			{"Status", statusText(report)},
		},
	})
	md.PlainText("")

	w.writeCrawl(md, report.Crawl)
	w.writeAudits(md, report.Audits)
	w.writeAlert(md, report)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

// WriteStatus outputs a node status in Markdown format.
func (w *MarkdownWriter) WriteStatus(status *model.NodeStatus) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Node Status")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", status.GeneratedAt.Format(timeLayout)},
			{"Round", strconv.FormatInt(status.Round, 10)},
			{"Search Term", orDash(status.SearchTerm)},
			{"Records", strconv.Itoa(status.Records)},
		},
	})
	md.PlainText("")

	md.H2("Published Proofs")
	md.PlainText("")
	if len(status.Proofs) == 0 {
		md.PlainText("No proofs published yet.")
		md.PlainText("")
	} else {
		rows := make([][]string, len(status.Proofs))
		for i, p := range status.Proofs {
			rows[i] = []string{strconv.FormatInt(p.Round, 10), "`" + p.CID + "`", p.CreatedAt.Format(timeLayout)}
		}
		md.Table(markdown.TableSet{Header: []string{"Round", "CID", "Created"}, Rows: rows})
		md.PlainText("")
	}

	w.writeAudits(md, status.Audits)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeCrawl(md *markdown.Markdown, stats model.CrawlStats) {
	md.H2("Crawl")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Exit", "Iterations", "Seen", "Inserted", "Skipped"},
		Rows: [][]string{{
			stats.Exit.String(),
			strconv.Itoa(stats.Iterations),
			strconv.Itoa(stats.Seen),
			strconv.Itoa(stats.Inserted),
			strconv.Itoa(stats.Skipped),
		}},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeAudits(md *markdown.Markdown, audits []model.AuditResult) {
	md.H2("Peer Audits")
	md.PlainText("")

	if len(audits) == 0 {
		md.PlainText("No peer proofs were audited.")
		md.PlainText("")
		return
	}

	passed, failed := 0, 0
	rows := make([][]string, len(audits))
	for i, a := range audits {
		verdict := "✅ pass"
		if a.Passed() {
			passed++
		} else {
			verdict = "❌ fail"
			failed++
		}
		rows[i] = []string{
			strconv.FormatInt(a.Round, 10),
			truncateString(a.Peer, 40),
			"`" + truncateString(a.CID, 24) + "`",
			verdict,
			truncateString(orDash(a.Reason), 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Round", "Peer", "CID", "Verdict", "Reason"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Audit Verdicts"),
		piechart.WithShowData(true),
	)
	if passed > 0 {
		chart.LabelAndIntValue("Pass", uint64(passed))
	}
	if failed > 0 {
		chart.LabelAndIntValue("Fail", uint64(failed))
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *model.RoundReport) {
	switch {
	case report.FailedAudits() > 0:
		md.Cautionf("%d peer proof(s) did not match the source.", report.FailedAudits())
	case report.ErrorMessage != "":
		md.Warningf("The round finished with an error: %s", report.ErrorMessage)
	case report.Crawl.Exit == model.CrawlRateLimited:
		md.Importantf("The source rate-limited the crawl after %d iteration(s).", report.Crawl.Iterations)
	case report.CrawlPending():
		md.Notef("The crawl is pending (%s); the round is retried on the next tick.", report.Crawl.Exit)
	case !report.Published():
		md.Note("No proof was published for this round.")
	default:
		md.Tip("Round published and all audited peers passed.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [roundscout](https://github.com/nao1215/roundscout)*")
}

func formatOptionalTime(zero bool, formatted string) string {
	if zero {
		return "-"
	}
	return formatted
}
