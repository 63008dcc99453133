// Package models holds the records exchanged between ingestion, retrieval
// and commentary.
package models

// Performance figures are percentages. Nil means the report did not state it.
type Performance struct {
	FundReturn      *float64 `json:"fund_return,omitempty"`
	BenchmarkReturn *float64 `json:"benchmark_return,omitempty"`
	Period          string   `json:"period,omitempty"`
	Outperformance  *float64 `json:"outperformance,omitempty"`
}

// ExcessReturn returns the stated outperformance, or derives it from the
// fund and benchmark returns when both are known.
func (p Performance) ExcessReturn() (float64, bool) {
	if p.Outperformance != nil {
		return *p.Outperformance, true
	}
	if p.FundReturn != nil && p.BenchmarkReturn != nil {
		return *p.FundReturn - *p.BenchmarkReturn, true
	}
	return 0, false
}

type Holding struct {
	Name         string   `json:"name"`
	Weight       *float64 `json:"weight,omitempty"`
	Sector       string   `json:"sector,omitempty"`
	Contribution *float64 `json:"contribution,omitempty"`
}

type Sector struct {
	Sector string  `json:"sector"`
	Weight float64 `json:"weight"`
}

// Table is one table found in the report. Markdown is set when the
// extractor could render it.
type Table struct {
	Page      int        `json:"page"`
	TableType string     `json:"table_type"`
	Headers   []string   `json:"headers"`
	Rows      [][]string `json:"rows"`
	Markdown  string     `json:"markdown,omitempty"`
}

// Section is a titled block of report text.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Page    int    `json:"page,omitempty"`
}

// ExtractedData is the output of the extraction step for one report.
// Markdown, when present, carries the document structure used by the
// hybrid chunker.
type ExtractedData struct {
	FundName          string       `json:"fund_name,omitempty"`
	ReportPeriod      string       `json:"report_period,omitempty"`
	BenchmarkIndex    string       `json:"benchmark_index,omitempty"`
	Currency          string       `json:"currency,omitempty"`
	Performance       *Performance `json:"performance,omitempty"`
	Holdings          []Holding    `json:"holdings,omitempty"`
	Sectors           []Sector     `json:"sectors,omitempty"`
	RawText           string       `json:"raw_text,omitempty"`
	RawTables         []Table      `json:"raw_tables,omitempty"`
	ChartDescriptions []string     `json:"chart_descriptions,omitempty"`
	Markdown          string       `json:"markdown,omitempty"`
	Sections          []Section    `json:"sections,omitempty"`
	PageCount         int          `json:"page_count,omitempty"`
}

// Float is a convenience for building optional figures.
func Float(v float64) *float64 { return &v }
