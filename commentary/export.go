package commentary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"

	exportVersion   = "1.0"
	timestampLayout = "2006-01-02 15:04:05"
)

// Formats lists every supported export format.
var Formats = []Format{FormatText, FormatMarkdown, FormatHTML, FormatJSON, FormatPDF}

var contentTypes = map[Format]string{
	FormatText:     "text/plain; charset=utf-8",
	FormatMarkdown: "text/markdown; charset=utf-8",
	FormatHTML:     "text/html; charset=utf-8",
	FormatJSON:     "application/json",
	FormatPDF:      "application/pdf",
}

type Exported struct {
	Content     []byte
	ContentType string
	Filename    string
}

var htmlPage = template.Must(template.New("comment").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Generated Comment</title>
    <style>
        body { font-family: Georgia, serif; max-width: 800px; margin: 40px auto; padding: 20px; line-height: 1.6; }
        h1 { color: #333; }
        table { border-collapse: collapse; }
        td, th { border: 1px solid #ccc; padding: 4px 8px; }
        .meta { color: #666; font-size: 0.9em; margin-top: 20px; }
    </style>
</head>
<body>
    <h1>Generated Comment</h1>
    {{.Body}}
    <p class="meta">Generated on {{.Timestamp}}</p>
</body>
</html>
`))

func markdownParser() goldmark.Markdown {
	return goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))
}

// Export renders comment in the given format, stamped with the current time.
func Export(comment string, format Format) (Exported, error) {
	return ExportAt(comment, format, time.Now())
}

func ExportAt(comment string, format Format, at time.Time) (Exported, error) {
	ct, ok := contentTypes[format]
	if !ok {
		return Exported{}, fmt.Errorf("unsupported export format: %q", format)
	}
	ts := at.Format(timestampLayout)
	out := Exported{
		ContentType: ct,
		Filename:    fmt.Sprintf("comment_%s.%s", at.Format("20060102_150405"), format),
	}

	switch format {
	case FormatText:
		out.Content = []byte(comment)
	case FormatMarkdown:
		out.Content = []byte(fmt.Sprintf("# Generated Comment\n\n%s\n\n---\n*Generated on %s*\n", comment, ts))
	case FormatHTML:
		var body bytes.Buffer
		if err := markdownParser().Convert([]byte(comment), &body); err != nil {
			return Exported{}, fmt.Errorf("render html: %w", err)
		}
		var page bytes.Buffer
		err := htmlPage.Execute(&page, struct {
			Body      template.HTML
			Timestamp string
		}{template.HTML(body.String()), ts})
		if err != nil {
			return Exported{}, fmt.Errorf("render html: %w", err)
		}
		out.Content = page.Bytes()
	case FormatJSON:
		data, err := json.MarshalIndent(map[string]any{
			"comment":        comment,
			"word_count":     len(strings.Fields(comment)),
			"generated_at":   ts,
			"format_version": exportVersion,
		}, "", "  ")
		if err != nil {
			return Exported{}, fmt.Errorf("encode json: %w", err)
		}
		out.Content = data
	case FormatPDF:
		data, err := renderPDF(comment, ts)
		if err != nil {
			return Exported{}, err
		}
		out.Content = data
	}
	return out, nil
}

func renderPDF(comment, ts string) ([]byte, error) {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.SetAutoPageBreak(true, 15)
	doc.SetTitle("Generated Comment", true)
	doc.AddPage()

	r := &pdfWriter{pdf: doc, tr: doc.UnicodeTranslatorFromDescriptor(""), size: 10}
	doc.SetFont("Helvetica", "B", 16)
	doc.Write(8, "Generated Comment")
	doc.Ln(12)
	r.setFont()

	source := []byte(comment)
	root := markdownParser().Parser().Parse(text.NewReader(source))
	r.source = source
	if err := ast.Walk(root, r.walk); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	doc.Ln(6)
	doc.SetFont("Helvetica", "I", 8)
	doc.SetTextColor(102, 102, 102)
	doc.Write(5, r.tr("Generated on "+ts))

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	source []byte
	size   float64
	bold   bool
	italic bool
	depth  int
}

func (w *pdfWriter) setFont() {
	style := ""
	if w.bold {
		style += "B"
	}
	if w.italic {
		style += "I"
	}
	w.pdf.SetFont("Helvetica", style, w.size)
}

func (w *pdfWriter) walk(n ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node := n.(type) {
	case *ast.Heading:
		w.pdf.Ln(6)
		if entering {
			w.pdf.SetFont("Helvetica", "B", headingSize(node.Level))
		} else {
			w.setFont()
		}
	case *ast.Paragraph:
		if !entering {
			w.pdf.Ln(7)
		}
	case *ast.Text:
		if entering {
			w.pdf.Write(5, w.tr(string(node.Segment.Value(w.source))))
			if node.SoftLineBreak() {
				w.pdf.Write(5, " ")
			}
			if node.HardLineBreak() {
				w.pdf.Ln(5)
			}
		}
	case *ast.Emphasis:
		if node.Level == 2 {
			w.bold = entering
		} else {
			w.italic = entering
		}
		w.setFont()
	case *ast.List:
		if entering {
			w.depth++
		} else {
			w.depth--
			w.pdf.Ln(2)
		}
	case *ast.ListItem:
		if entering {
			w.pdf.Ln(5)
			w.pdf.SetX(15 + float64(w.depth)*5)
			w.pdf.Write(5, "- ")
		}
	case *ast.ThematicBreak:
		if entering {
			w.pdf.Ln(2)
			w.pdf.Line(15, w.pdf.GetY(), 195, w.pdf.GetY())
			w.pdf.Ln(2)
		}
	case *extast.Table:
		if entering {
			w.table(node)
			return ast.WalkSkipChildren, nil
		}
	}
	return ast.WalkContinue, nil
}

func (w *pdfWriter) table(n *extast.Table) {
	var rows [][]string
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, w.tr(plainText(cell, w.source)))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	width := 180 / float64(len(rows[0]))
	w.pdf.Ln(2)
	w.pdf.SetFont("Helvetica", "", 8)
	for i, row := range rows {
		if i == 0 {
			w.pdf.SetFont("Helvetica", "B", 8)
		}
		for _, cell := range row {
			w.pdf.CellFormat(width, 6, cell, "1", 0, "L", false, 0, "")
		}
		w.pdf.Ln(-1)
		if i == 0 {
			w.pdf.SetFont("Helvetica", "", 8)
		}
	}
	w.pdf.Ln(4)
	w.setFont()
}

func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			b.Write(t.Segment.Value(source))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

func headingSize(level int) float64 {
	switch level {
	case 1:
		return 14
	case 2:
		return 12
	case 3:
		return 11
	default:
		return 10
	}
}

// ParseFormat accepts a format name with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if f == "markdown" {
		f = FormatMarkdown
	}
	if f == "text" {
		f = FormatText
	}
	if _, ok := contentTypes[f]; !ok {
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
	return f, nil
}
