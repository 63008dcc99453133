package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/models"
)

const annualReport = `# Nordic Growth Fund

Annual report for 2024.

## Performance

The fund returned 5.2% in 2024.

The benchmark returned 4.1%.

## Top Holdings

| Company | Weight |
| --- | --- |
| Atlas Copco | 6.1 |
| Investor AB | 5.4 |

### Commentary

- Atlas Copco contributed most.
- Investor AB lagged.
`

func TestChunkMarkdownAddsHeadingContext(t *testing.T) {
	pieces := New().ChunkMarkdown(annualReport)
	require.NotEmpty(t, pieces)

	var perf *Piece
	for i := range pieces {
		if strings.Contains(pieces[i].Content, "returned 5.2%") {
			perf = &pieces[i]
		}
	}
	require.NotNil(t, perf)
	assert.Equal(t, TypeHybrid, perf.Type)
	assert.Equal(t, []string{"Nordic Growth Fund", "Performance"}, perf.Headings)
	assert.True(t, strings.HasPrefix(perf.Content, "Nordic Growth Fund\nPerformance\n"))
	// small peers under the same heading are merged
	assert.Contains(t, perf.Content, "benchmark returned 4.1%")
}

func TestChunkMarkdownEmitsTablesSeparately(t *testing.T) {
	pieces := New().ChunkMarkdown(annualReport)

	var tables []Piece
	for _, p := range pieces {
		if p.Type == TypeTable {
			tables = append(tables, p)
		}
	}
	require.Len(t, tables, 1)
	assert.Equal(t, []string{"Company", "Weight"}, tables[0].TableHeaders)
	assert.Contains(t, tables[0].Content, "| Atlas Copco | 6.1 |")
	assert.Contains(t, tables[0].Content, "Top Holdings")
}

func TestChunkMarkdownNestedHeadingsAndLists(t *testing.T) {
	pieces := New().ChunkMarkdown(annualReport)

	var commentary *Piece
	for i := range pieces {
		if strings.Contains(pieces[i].Content, "contributed most") {
			commentary = &pieces[i]
		}
	}
	require.NotNil(t, commentary)
	assert.Equal(t, []string{"Nordic Growth Fund", "Top Holdings", "Commentary"}, commentary.Headings)
	assert.Contains(t, commentary.Content, "- Atlas Copco contributed most.")
}

func TestChunkMarkdownSplitsOversizedBlocks(t *testing.T) {
	c := New(WithMaxTokens(40), WithChunkSize(120), WithOverlap(20))
	md := "# Outlook\n\n" + strings.Repeat("Valuations in the Nordic small cap segment remain attractive. ", 20)

	pieces := c.ChunkMarkdown(md)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.Equal(t, []string{"Outlook"}, p.Headings)
		assert.True(t, strings.HasPrefix(p.Content, "Outlook\n"))
	}
}

func TestChunkDocumentFallsBackToText(t *testing.T) {
	data := models.ExtractedData{
		RawText: reportProse(10),
		RawTables: []models.Table{{
			Page:      3,
			TableType: "holdings",
			Headers:   []string{"Company", "Weight"},
			Rows:      [][]string{{"Atlas Copco", "6.1"}},
		}},
		Sections: []models.Section{{Title: "Risk", Content: "Volatility was 14%."}},
	}

	pieces := New().ChunkDocument(data)

	counts := map[ChunkType]int{}
	for _, p := range pieces {
		counts[p.Type]++
	}
	assert.Greater(t, counts[TypeText], 0)
	assert.Equal(t, 1, counts[TypeTable])
	assert.Equal(t, 1, counts[TypeSection])
	assert.Zero(t, counts[TypeHybrid])

	last := pieces[len(pieces)-1]
	assert.Equal(t, "## Risk\n\nVolatility was 14%.", last.Content)
	assert.Equal(t, "Risk", last.SectionTitle)
}

func TestChunkDocumentPrefersRawTablesOverMarkdownTables(t *testing.T) {
	data := models.ExtractedData{
		Markdown: annualReport,
		RawTables: []models.Table{{
			Page:      2,
			TableType: "holdings",
			Headers:   []string{"Company", "Weight"},
			Rows:      [][]string{{"Atlas Copco", "6.1"}, {"Investor AB", "5.4"}},
		}},
	}

	var tables []Piece
	for _, p := range New().ChunkDocument(data) {
		if p.Type == TypeTable {
			tables = append(tables, p)
		}
	}
	require.Len(t, tables, 1)
	assert.Equal(t, 2, tables[0].Page)
	assert.Equal(t, "holdings", tables[0].TableType)
}

func TestTablePiecesNeverDropRows(t *testing.T) {
	rows := make([][]string, 45)
	for i := range rows {
		rows[i] = []string{"Company", "1.0"}
	}
	table := models.Table{Page: 7, TableType: "holdings", Headers: []string{"Name", "Weight"}, Rows: rows}

	pieces := New(WithMaxTableRows(20)).TablePieces(table)
	require.Len(t, pieces, 3)

	total := 0
	for _, p := range pieces {
		lines := strings.Split(p.Content, "\n")
		assert.Equal(t, "Table Headers: Name | Weight", lines[0])
		assert.LessOrEqual(t, len(lines)-1, 20)
		total += len(lines) - 1
		assert.Equal(t, 7, p.Page)
	}
	assert.Equal(t, 45, total)
}

func TestTablePiecesUseMarkdownWhenSmall(t *testing.T) {
	table := models.Table{
		Headers:  []string{"Sector", "Weight"},
		Rows:     [][]string{{"Industrials", "31.0"}},
		Markdown: "| Sector | Weight |\n| --- | --- |\n| Industrials | 31.0 |",
	}
	pieces := New().TablePieces(table)
	require.Len(t, pieces, 1)
	assert.Equal(t, table.Markdown, pieces[0].Content)
}
