package knowledge

import (
	"strings"

	"github.com/fabfab/fundlens/models"
)

func documentParams(doc models.Document, data models.ExtractedData) map[string]any {
	params := map[string]any{
		"id":               doc.ID,
		"filename":         doc.Filename,
		"period":           data.ReportPeriod,
		"currency":         data.Currency,
		"fund":             strings.TrimSpace(data.FundName),
		"benchmark":        strings.TrimSpace(data.BenchmarkIndex),
		"fund_return":      nil,
		"benchmark_return": nil,
	}
	if data.Performance != nil {
		params["fund_return"] = optional(data.Performance.FundReturn)
		params["benchmark_return"] = optional(data.Performance.BenchmarkReturn)
	}
	return params
}

// holdingParams drops unnamed holdings and merges duplicate names, keeping
// the first occurrence's rank.
func holdingParams(docID string, holdings []models.Holding) []map[string]any {
	seen := make(map[string]bool, len(holdings))
	out := make([]map[string]any, 0, len(holdings))
	for i, h := range holdings {
		name := strings.TrimSpace(h.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, map[string]any{
			"doc_id":       docID,
			"company":      name,
			"sector":       strings.TrimSpace(h.Sector),
			"weight":       optional(h.Weight),
			"contribution": optional(h.Contribution),
			"rank":         i + 1,
		})
	}
	return out
}

func optional(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func convertWeights(value any) map[string]float64 {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	weights := make(map[string]float64, len(raw))
	for _, item := range raw {
		data, ok := item.(map[string]any)
		if !ok {
			continue
		}
		doc, _ := data["doc"].(string)
		if doc == "" {
			continue
		}
		switch w := data["weight"].(type) {
		case float64:
			weights[doc] = w
		case int64:
			weights[doc] = float64(w)
		default:
			weights[doc] = 0
		}
	}
	return weights
}
