package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"ai-market-intelligence/models"
)

const reportTitle = "AI-Powered Market Intelligence Report"

// RenderMarkdown renders insights, in order, as the executive report.
func RenderMarkdown(insights []*models.Insight) (string, error) {
	var b strings.Builder
	b.WriteString("# " + reportTitle + "\n\n")
	b.WriteString("This report details key insights generated from the analysis of top mobile applications.\n\n")
	b.WriteString("---\n\n")

	for _, ins := range insights {
		data, err := formatSupportingData(ins.SupportingData)
		if err != nil {
			return "", fmt.Errorf("insight %s: %w", ins.ID, err)
		}
		fmt.Fprintf(&b, "## %s\n\n", ins.Title)
		fmt.Fprintf(&b, "**Insight Type:** %s\n\n", ins.InsightType)
		fmt.Fprintf(&b, "**Summary:** %s\n\n", ins.Summary)
		fmt.Fprintf(&b, "**Recommendation:** %s\n\n", ins.Recommendation)
		fmt.Fprintf(&b, "**Confidence:** %.0f%%\n\n", ins.ConfidenceScore*100)
		b.WriteString("**Supporting Data:**\n")
		b.WriteString("```json\n")
		b.WriteString(data)
		b.WriteString("\n```\n\n")
		b.WriteString("---\n\n")
	}
	return b.String(), nil
}

func formatSupportingData(data map[string]any) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

const htmlHead = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 860px; margin: 2rem auto; padding: 0 1rem; color: #222; line-height: 1.5; }
h1 { border-bottom: 2px solid #333; padding-bottom: .3rem; }
h2 { margin-top: 2rem; color: #1a4d8f; }
pre { background: #f5f5f5; padding: .75rem; border-radius: 4px; overflow-x: auto; }
hr { border: 0; border-top: 1px solid #ddd; }
</style>
</head>
<body>
`

// RenderHTML converts the Markdown report into a standalone HTML page.
func RenderHTML(md string) ([]byte, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	var out bytes.Buffer
	fmt.Fprintf(&out, htmlHead, html.EscapeString(reportTitle))
	out.Write(body.Bytes())
	out.WriteString("</body>\n</html>\n")
	return out.Bytes(), nil
}
