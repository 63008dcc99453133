package commentary

import (
	"fmt"
	"strings"

	"github.com/fabfab/fundlens/models"
)

const (
	maxSectors      = 8
	maxTables       = 10
	maxRowsPerTable = 15
	maxCharts       = 5
	maxExcerptRunes = 8000
	analyzedOpen    = "=== AI-ANALYZED CONTENT ==="
	analyzedClose   = "=== END AI-ANALYZED CONTENT ==="
)

// BuildDataContext renders the facts a comment may use. The output depends
// only on its arguments.
func BuildDataContext(data models.ExtractedData, params models.CommentParameters) string {
	var parts []string

	if data.FundName != "" {
		parts = append(parts, "Fund Name: "+data.FundName)
	}
	if data.ReportPeriod != "" {
		parts = append(parts, "Report Period: "+data.ReportPeriod)
	}
	if data.BenchmarkIndex != "" && params.CompareBenchmark {
		parts = append(parts, "Benchmark: "+data.BenchmarkIndex)
	}
	if data.Currency != "" {
		parts = append(parts, "Currency: "+data.Currency)
	}

	if perf := data.Performance; perf != nil {
		parts = append(parts, "", "Performance Data:")
		if perf.FundReturn != nil {
			parts = append(parts, fmt.Sprintf("  Fund Return: %+.2f%%", *perf.FundReturn))
		}
		if params.CompareBenchmark {
			if perf.BenchmarkReturn != nil {
				parts = append(parts, fmt.Sprintf("  Benchmark Return: %+.2f%%", *perf.BenchmarkReturn))
			}
			if excess, ok := perf.ExcessReturn(); ok {
				parts = append(parts, fmt.Sprintf("  Outperformance: %+.2f%%", excess))
			}
		}
		if perf.Period != "" {
			parts = append(parts, "  Period: "+perf.Period)
		}
	}

	if len(data.Holdings) > 0 && params.TopNHoldings > 0 {
		top := data.Holdings
		if len(top) > params.TopNHoldings {
			top = top[:params.TopNHoldings]
		}
		parts = append(parts, "", fmt.Sprintf("Top %d Holdings:", len(top)))
		for i, h := range top {
			weight := "N/A"
			if h.Weight != nil && *h.Weight != 0 {
				weight = fmt.Sprintf("%.2f%%", *h.Weight)
			}
			contrib := ""
			if h.Contribution != nil && *h.Contribution != 0 {
				contrib = fmt.Sprintf(", contribution: %+.2f%%", *h.Contribution)
			}
			sector := ""
			if h.Sector != "" {
				sector = " (" + h.Sector + ")"
			}
			parts = append(parts, fmt.Sprintf("  %d. %s%s: %s%s", i+1, h.Name, sector, weight, contrib))
		}
	}

	if len(data.Sectors) > 0 && params.IncludeSectorImpact {
		parts = append(parts, "", "Sector Allocation:")
		for i, s := range data.Sectors {
			if i == maxSectors {
				break
			}
			parts = append(parts, fmt.Sprintf("  %s: %.1f%%", s.Sector, s.Weight))
		}
	}

	if len(data.RawTables) > 0 {
		parts = append(parts, "\n\n=== RAW TABLES FROM DOCUMENT ===")
		for i, t := range data.RawTables {
			if i == maxTables {
				break
			}
			parts = append(parts, fmt.Sprintf("\nTable (Page %d, Type: %s):", t.Page, t.TableType))
			if len(t.Headers) > 0 {
				parts = append(parts, "  Headers: "+strings.Join(t.Headers, " | "))
			}
			for j, row := range t.Rows {
				if j == maxRowsPerTable {
					break
				}
				parts = append(parts, "  "+strings.Join(row, " | "))
			}
		}
		parts = append(parts, "=== END TABLES ===")
	}

	if len(data.ChartDescriptions) > 0 {
		parts = append(parts, "", "Charts Found:")
		for i, d := range data.ChartDescriptions {
			if i == maxCharts {
				break
			}
			parts = append(parts, "  - "+d)
		}
	}

	if data.RawText != "" {
		excerpt := data.RawText
		if r := []rune(excerpt); len(r) > maxExcerptRunes {
			excerpt = string(r[:maxExcerptRunes])
		}
		parts = append(parts, "\n\n=== DOCUMENT TEXT ===\n"+excerpt+"\n=== END DOCUMENT TEXT ===")
	}

	return strings.Join(parts, "\n")
}

// WithAdditional appends externally analysed content in its own block.
func WithAdditional(dataContext, additional string) string {
	if strings.TrimSpace(additional) == "" {
		return dataContext
	}
	return fmt.Sprintf("%s\n\n%s\n%s\n%s", dataContext, analyzedOpen, additional, analyzedClose)
}
