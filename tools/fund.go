package tools

import (
	"context"

	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/search"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

// ChunkIndex is the part of the vector store the document tools read.
type ChunkIndex interface {
	search.Index
	Fetch(ctx context.Context, filter vectorstore.Filter, limit int) ([]vectorstore.Result, error)
}

type PageFetcher interface {
	Markdown(ctx context.Context, pageURL string) (string, error)
}

type QuoteLookup interface {
	Lookup(ctx context.Context, nameOrTicker string) (string, error)
}

// Deps are the services behind the fund analysis tools. Graph, Fetcher and
// Market are optional; the tools that need them are skipped when unset.
type Deps struct {
	Index       ChunkIndex
	Documents   storage.Documents
	Graph       knowledge.Graph
	Fetcher     PageFetcher
	Market      QuoteLookup
	PageSize    int
	MaxURLChars int
}

// Register adds the fund analysis tools to r.
func Register(r *Registry, deps Deps) error {
	searcher := search.New(deps.Index, search.WithLimit(deps.PageSize))

	set := []Tool{
		SearchDocuments(searcher),
		GetDocumentContent(deps.Index, deps.Documents),
		QueryTables(deps.Index),
		CompareDocuments(deps.Index, deps.Documents, deps.Graph),
		CalculateMetrics(),
		ExtractNumbers(),
	}
	if deps.Fetcher != nil {
		set = append(set, FetchURLContent(deps.Fetcher, deps.MaxURLChars))
	}
	if deps.Market != nil {
		set = append(set, GetStockData(deps.Market))
	}
	return r.Register(set...)
}
