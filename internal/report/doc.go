// Package report renders round reports and node status.
//
// Three formats are available:
//   - TextWriter: plain text for terminal display
//   - MarkdownWriter: Markdown for sharing, built with nao1215/markdown
//   - JSONWriter: structured JSON for tool integration
//
// Writers implement the Writer interface, allowing them to be used
// interchangeably and composed for multi-format output.
package report
