// Package search wraps the vector index with stateless skip/limit
// pagination and a completeness hint for the calling agent.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/fundlens/vectorstore"
)

const DefaultLimit = 10

// Index is the slice of the vector store the searcher needs.
type Index interface {
	Search(ctx context.Context, query string, k int, filter vectorstore.Filter) ([]vectorstore.Result, error)
}

type Searcher struct {
	index Index
	limit int
}

type Option func(*Searcher)

func WithLimit(limit int) Option {
	return func(s *Searcher) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func New(index Index, opts ...Option) *Searcher {
	s := &Searcher{index: index, limit: DefaultLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Limit is the default page size.
func (s *Searcher) Limit() int { return s.limit }

// Request asks for one page. A zero Filter searches the whole corpus,
// secondary sources included.
type Request struct {
	Query  string
	Skip   int
	Limit  int
	Filter vectorstore.Filter
}

type Page struct {
	Query    string
	Skip     int
	Limit    int
	Results  []vectorstore.Result
	HasMore  bool
	NextSkip int
}

// Search fetches skip+limit neighbours and returns the [skip, skip+limit)
// window. HasMore is set exactly when the window is full.
func (s *Searcher) Search(ctx context.Context, req Request) (Page, error) {
	if req.Skip < 0 {
		req.Skip = 0
	}
	if req.Limit <= 0 {
		req.Limit = s.limit
	}
	page := Page{Query: req.Query, Skip: req.Skip, Limit: req.Limit, NextSkip: req.Skip + req.Limit}

	results, err := s.index.Search(ctx, req.Query, req.Skip+req.Limit, req.Filter)
	if err != nil {
		return page, fmt.Errorf("search %q: %w", req.Query, err)
	}

	if req.Skip < len(results) {
		end := min(req.Skip+req.Limit, len(results))
		page.Results = results[req.Skip:end]
	}
	page.HasMore = len(page.Results) == req.Limit
	return page, nil
}

// Format renders a page the way the agent reads it: one attributed block
// per result and a trailing pagination hint.
func Format(page Page) string {
	if len(page.Results) == 0 {
		return fmt.Sprintf("No more results found (skip=%d). You have retrieved all relevant information.", page.Skip)
	}

	blocks := make([]string, len(page.Results))
	for i, r := range page.Results {
		blocks[i] = fmt.Sprintf("[Result %d] (Source: %s, Type: %s, SourceType: %s)\n%s",
			i+1, attribution(r.Metadata), orDefault(r.Metadata.ChunkType, "text"),
			orDefault(string(r.Metadata.SourceType), string(vectorstore.SourcePrimary)), r.Content)
	}

	var b strings.Builder
	b.WriteString(strings.Join(blocks, "\n\n---\n\n"))
	if page.HasMore {
		fmt.Fprintf(&b, "\n\n---\n📊 [INFO: Received %d results. More may exist (skip=%d).]", len(page.Results), page.NextSkip)
		fmt.Fprintf(&b, "\n💡 [DECISION: If these results SUFFICIENTLY answer the user's question, respond now. Otherwise, call search_documents with skip=%d for more results.]", page.NextSkip)
	} else {
		fmt.Fprintf(&b, "\n\n---\n✅ [COMPLETE: %d results. No more data available.]", len(page.Results))
	}
	return b.String()
}

// attribution names the document and, for attached material, the source.
func attribution(m vectorstore.Metadata) string {
	source := orDefault(m.DocID, "Unknown")
	if m.SourceID == "" {
		return source
	}
	if m.SourceName != "" {
		return fmt.Sprintf("%s/%s %q", source, m.SourceID, m.SourceName)
	}
	return source + "/" + m.SourceID
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
