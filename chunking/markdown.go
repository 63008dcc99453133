package chunking

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()

type heading struct {
	level int
	title string
}

// ChunkMarkdown chunks a structured document. Blocks under the same heading
// path are merged while they fit the token budget, and every piece starts
// with its ancestor headings. Tables become their own pieces.
func (c *Chunker) ChunkMarkdown(markdown string) []Piece {
	return c.chunkMarkdown(markdown, true)
}

func (c *Chunker) chunkMarkdown(markdown string, withTables bool) []Piece {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}

	src := []byte(markdown)
	doc := markdownParser.Parse(text.NewReader(src))

	var (
		pieces []Piece
		stack  []heading
		group  []string
	)

	path := func() []string {
		if len(stack) == 0 {
			return nil
		}
		out := make([]string, len(stack))
		for i, h := range stack {
			out[i] = h.title
		}
		return out
	}

	emit := func(body string, typ ChunkType, headers []string) {
		hs := path()
		pieces = append(pieces, Piece{
			Content:      contextualize(hs, body),
			Type:         typ,
			Headings:     hs,
			TableHeaders: headers,
		})
	}

	flush := func() {
		if len(group) == 0 {
			return
		}
		emit(strings.Join(group, "\n\n"), TypeHybrid, nil)
		group = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch node := n.(type) {
		case *ast.Heading:
			flush()
			title := inlineText(node, src)
			if title == "" {
				continue
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= node.Level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, heading{level: node.Level, title: title})

		case *extast.Table:
			flush()
			if !withTables {
				continue
			}
			headers, rows := tableCells(node, src)
			for _, body := range c.renderMarkdownTable(headers, rows) {
				emit(body, TypeTable, headers)
			}

		default:
			block := blockText(n, src)
			if block == "" {
				continue
			}
			budget := c.maxTokens - c.tokens(contextualize(path(), ""))
			if c.tokens(block) > budget {
				flush()
				for _, part := range c.ChunkText(block) {
					emit(part, TypeHybrid, nil)
				}
				continue
			}
			if len(group) > 0 && c.tokens(strings.Join(append(group, block), "\n\n")) > budget {
				flush()
			}
			group = append(group, block)
		}
	}
	flush()

	return pieces
}

func contextualize(headings []string, body string) string {
	if len(headings) == 0 {
		return body
	}
	prefix := strings.Join(headings, "\n")
	if body == "" {
		return prefix
	}
	return prefix + "\n" + body
}

// renderMarkdownTable renders a table in windows of at most maxRows rows,
// repeating the header in each window.
func (c *Chunker) renderMarkdownTable(headers []string, rows [][]string) []string {
	if len(headers) == 0 && len(rows) == 0 {
		return nil
	}

	head := &strings.Builder{}
	if len(headers) > 0 {
		head.WriteString("| " + strings.Join(headers, " | ") + " |\n")
		head.WriteString("|" + strings.Repeat(" --- |", len(headers)) + "\n")
	}

	if len(rows) == 0 {
		return []string{strings.TrimSpace(head.String())}
	}

	var out []string
	for start := 0; start < len(rows); start += c.maxRows {
		end := start + c.maxRows
		if end > len(rows) {
			end = len(rows)
		}
		b := &strings.Builder{}
		b.WriteString(head.String())
		for _, row := range rows[start:end] {
			b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		out = append(out, strings.TrimSpace(b.String()))
	}
	return out
}

func tableCells(table *extast.Table, src []byte) ([]string, [][]string) {
	var (
		headers []string
		rows    [][]string
	)
	for child := table.FirstChild(); child != nil; child = child.NextSibling() {
		var cells []string
		for cell := child.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		switch child.(type) {
		case *extast.TableHeader:
			headers = cells
		case *extast.TableRow:
			rows = append(rows, cells)
		}
	}
	return headers, rows
}

// inlineText concatenates the literal text below n.
func inlineText(n ast.Node, src []byte) string {
	b := &strings.Builder{}
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// blockText returns the source text spanned by a block, widened to the
// start of its first line so list markers and quote prefixes survive.
func blockText(n ast.Node, src []byte) string {
	start, stop := -1, -1
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if node.Type() != ast.TypeBlock {
			return ast.WalkSkipChildren, nil
		}
		lines := node.Lines()
		if lines == nil || lines.Len() == 0 {
			return ast.WalkContinue, nil
		}
		first, last := lines.At(0), lines.At(lines.Len()-1)
		if start < 0 || first.Start < start {
			start = first.Start
		}
		if last.Stop > stop {
			stop = last.Stop
		}
		return ast.WalkContinue, nil
	})
	if start < 0 || stop <= start {
		return ""
	}
	for start > 0 && src[start-1] != '\n' {
		start--
	}
	return strings.TrimSpace(string(src[start:stop]))
}
