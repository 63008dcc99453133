package chunking

import (
	"fmt"
	"strings"

	"github.com/fabfab/fundlens/models"
)

// ChunkDocument chunks one extracted report. Structured markdown goes
// through the hybrid path; without it, or when it yields nothing, the raw
// text is split by the fallback. Raw tables and titled sections are always
// appended as their own pieces.
func (c *Chunker) ChunkDocument(data models.ExtractedData) []Piece {
	var pieces []Piece

	if strings.TrimSpace(data.Markdown) != "" {
		// raw tables carry page and type, so prefer them over the
		// markdown copies of the same tables
		pieces = c.chunkMarkdown(data.Markdown, len(data.RawTables) == 0)
	}

	if len(pieces) == 0 {
		body := data.RawText
		if strings.TrimSpace(body) == "" {
			body = data.Markdown
		}
		for _, chunk := range c.ChunkText(body) {
			pieces = append(pieces, Piece{Content: chunk, Type: TypeText})
		}
	}

	for _, table := range data.RawTables {
		pieces = append(pieces, c.TablePieces(table)...)
	}

	for _, section := range data.Sections {
		pieces = append(pieces, c.SectionPieces(section)...)
	}

	return pieces
}

// TablePieces renders one extracted table. Tables longer than the row cap
// are split into several pieces that each repeat the headers.
func (c *Chunker) TablePieces(table models.Table) []Piece {
	base := Piece{
		Type:         TypeTable,
		Page:         table.Page,
		TableType:    table.TableType,
		TableHeaders: table.Headers,
	}

	if md := strings.TrimSpace(table.Markdown); md != "" && len(table.Rows) <= c.maxRows {
		p := base
		p.Content = md
		return []Piece{p}
	}

	if len(table.Headers) == 0 && len(table.Rows) == 0 {
		return nil
	}

	header := ""
	if len(table.Headers) > 0 {
		header = "Table Headers: " + strings.Join(table.Headers, " | ")
	}

	if len(table.Rows) == 0 {
		p := base
		p.Content = header
		return []Piece{p}
	}

	var pieces []Piece
	for start := 0; start < len(table.Rows); start += c.maxRows {
		end := start + c.maxRows
		if end > len(table.Rows) {
			end = len(table.Rows)
		}
		lines := make([]string, 0, end-start+1)
		if header != "" {
			lines = append(lines, header)
		}
		for _, row := range table.Rows[start:end] {
			lines = append(lines, strings.Join(row, " | "))
		}
		p := base
		p.Content = strings.Join(lines, "\n")
		pieces = append(pieces, p)
	}
	return pieces
}

// SectionPieces renders a titled section, splitting it when it exceeds the
// chunk size.
func (c *Chunker) SectionPieces(section models.Section) []Piece {
	title := strings.TrimSpace(section.Title)
	if title == "" {
		title = "Section"
	}
	if strings.TrimSpace(section.Content) == "" {
		return nil
	}

	content := fmt.Sprintf("## %s\n\n%s", title, strings.TrimSpace(section.Content))
	var pieces []Piece
	for _, chunk := range c.ChunkText(content) {
		pieces = append(pieces, Piece{
			Content:      chunk,
			Type:         TypeSection,
			Page:         section.Page,
			SectionTitle: title,
		})
	}
	return pieces
}
