package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

const (
	QueryTablesName      = "query_tables"
	CompareDocumentsName = "compare_documents"
)

// tableKeywords decide whether a table chunk is of the requested kind.
// "all" has no entry and accepts every table.
var tableKeywords = map[string][]string{
	"holdings":          {"holding", "company", "stock", "weight", "portfolio"},
	"performance":       {"return", "performance", "ytd", "benchmark"},
	"sector_allocation": {"sector", "industry", "allocation"},
	"risk_metrics":      {"risk", "volatility", "sharpe", "drawdown"},
}

type QueryTablesInput struct {
	TableType string `json:"table_type" validate:"required,oneof=holdings performance sector_allocation risk_metrics all" jsonschema:"enum=holdings,enum=performance,enum=sector_allocation,enum=risk_metrics,enum=all" jsonschema_description:"Type of table to query: holdings, performance, sector_allocation, risk_metrics or all"`
	DocID     string `json:"doc_id,omitempty" jsonschema:"description=Optional document ID to filter tables"`
	Query     string `json:"query,omitempty" jsonschema:"description=Optional query to filter table contents"`
}

const (
	tableCandidates = 10
	maxTables       = 5
)

func QueryTables(index ChunkIndex) Tool {
	return New(QueryTablesName,
		`Query structured table data from annual reports.
Use this to get specific data like:
- Holdings: top holdings, company names, weights, contributions
- Performance: fund returns, benchmark comparisons, time periods
- Sector allocation: sector weights, geographic allocation
- Risk metrics: volatility, Sharpe ratio, drawdowns
Returns formatted table data matching your query.`,
		func(ctx context.Context, in QueryTablesInput) (string, error) {
			q := in.TableType + " table data"
			if in.Query != "" {
				q = in.TableType + ": " + in.Query
			}

			results, err := index.Search(ctx, q, tableCandidates, vectorstore.Filter{DocID: in.DocID})
			if err != nil {
				return "", err
			}

			var tables []vectorstore.Result
			for _, r := range results {
				if r.Metadata.ChunkType == "table" && matchesTableType(r, in.TableType) {
					tables = append(tables, r)
				}
			}
			if len(tables) == 0 {
				return fmt.Sprintf("No %s tables found.", in.TableType), nil
			}

			lines := []string{fmt.Sprintf("Found %d %s table(s):\n", len(tables), in.TableType)}
			for i, t := range tables {
				if i == maxTables {
					break
				}
				page := "?"
				if t.Metadata.Page > 0 {
					page = fmt.Sprint(t.Metadata.Page)
				}
				lines = append(lines, fmt.Sprintf("\n[Table %d] (Source: %s, Page: %s)", i+1, orUnknown(t.Metadata.DocID, "Unknown"), page))
				lines = append(lines, t.Content)
			}
			return strings.Join(lines, "\n"), nil
		})
}

func matchesTableType(r vectorstore.Result, tableType string) bool {
	keywords, ok := tableKeywords[tableType]
	if !ok {
		return true
	}
	headers := strings.ToLower(strings.Join(r.Metadata.TableHeaders, " "))
	content := strings.ToLower(r.Content)
	for _, kw := range keywords {
		if strings.Contains(headers, kw) || strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

type CompareDocumentsInput struct {
	DocIDs []string `json:"doc_ids" validate:"required,min=1" jsonschema:"description=List of document IDs to compare"`
	Metric string   `json:"metric" validate:"required" jsonschema_description:"Metric to compare, for example performance, holdings or sectors"`
}

const (
	maxCompared      = 5
	compareChunks    = 3
	compareChunkLen  = 500
	compareDataLimit = 1000
)

func CompareDocuments(index ChunkIndex, docs storage.Documents, graph knowledge.Graph) Tool {
	return New(CompareDocumentsName,
		`Compare specific metrics across multiple annual reports.
Use this to compare:
- Performance: returns across different funds or periods
- Holdings: portfolio composition differences
- Sectors: allocation changes over time
Provide document IDs and the metric to compare.`,
		func(ctx context.Context, in CompareDocumentsInput) (string, error) {
			ids := in.DocIDs
			if len(ids) > maxCompared {
				ids = ids[:maxCompared]
			}

			var sections, found []string
			for _, id := range ids {
				doc, err := docs.Get(ctx, id)
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				if err != nil {
					return "", fmt.Errorf("load document %s: %w", id, err)
				}

				results, err := index.Search(ctx, in.Metric+" data", compareChunks, vectorstore.Filter{DocID: id})
				if err != nil {
					return "", err
				}
				parts := make([]string, len(results))
				for i, r := range results {
					parts[i] = truncateRunes(r.Content, compareChunkLen)
				}

				found = append(found, id)
				sections = append(sections,
					fmt.Sprintf("\n## %s (%s)", orUnknown(doc.FundName, "Unknown"), orUnknown(doc.ReportPeriod, "Unknown")),
					"Document ID: "+id,
					truncateRunes(strings.Join(parts, "\n"), compareDataLimit),
					"\n---",
				)
			}
			if len(found) == 0 {
				return "No documents found for comparison.", nil
			}

			lines := append([]string{fmt.Sprintf("Comparison of %s across %d documents:\n", in.Metric, len(found))}, sections...)
			if shared := sharedHoldings(ctx, graph, found); shared != "" {
				lines = append(lines, shared)
			}
			return strings.Join(lines, "\n"), nil
		})
}

// sharedHoldings lists companies held by more than one compared document.
// Graph errors only cost the extra section.
func sharedHoldings(ctx context.Context, graph knowledge.Graph, ids []string) string {
	if graph == nil || len(ids) < 2 {
		return ""
	}
	shared, err := graph.SharedHoldings(ctx, ids)
	if err != nil || len(shared) == 0 {
		return ""
	}

	lines := []string{"\n## Shared holdings"}
	for _, h := range shared {
		docIDs := make([]string, 0, len(h.Weights))
		for id := range h.Weights {
			docIDs = append(docIDs, id)
		}
		sort.Strings(docIDs)
		weights := make([]string, len(docIDs))
		for i, id := range docIDs {
			weights[i] = fmt.Sprintf("%s %.2f%%", id, h.Weights[id])
		}
		line := "- " + h.Company
		if h.Sector != "" {
			line += " (" + h.Sector + ")"
		}
		lines = append(lines, line+": "+strings.Join(weights, ", "))
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
