package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fabfab/fundlens/search"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

const (
	SearchDocumentsName    = "search_documents"
	GetDocumentContentName = "get_document_content"
)

type SearchDocumentsInput struct {
	Query string `json:"query" validate:"required" jsonschema:"description=The search query to find relevant document sections"`
	DocID string `json:"doc_id,omitempty" jsonschema:"description=Optional document ID to search within. Leave empty to search every report and attached source"`
	Skip  int    `json:"skip,omitempty" validate:"gte=0" jsonschema:"description=Number of results to skip for pagination. Increase by the page size to get the next page,default=0"`
}

func searchDocumentsDescription(limit int) string {
	return fmt.Sprintf(`Search for relevant information across all uploaded annual reports and their attached sources.
Use this to find specific data like performance figures, holdings information, sector allocations, or any other content from the documents.
Returns up to %[1]d text chunks per call. Use the 'skip' parameter for pagination.
IMPORTANT: If you receive exactly %[1]d results, there may be more relevant data. Call again with skip=%[1]d, then skip=%[2]d, etc. until you get fewer than %[1]d results.`, limit, 2*limit)
}

func SearchDocuments(s *search.Searcher) Tool {
	return NewPaged(SearchDocumentsName, searchDocumentsDescription(s.Limit()),
		func(ctx context.Context, in SearchDocumentsInput) (Output, error) {
			page, err := s.Search(ctx, search.Request{
				Query:  in.Query,
				Skip:   in.Skip,
				Filter: vectorstore.Filter{DocID: in.DocID},
			})
			if err != nil {
				return Output{}, err
			}

			out := Output{Text: search.Format(page)}
			if page.HasMore {
				next := in
				next.Skip = page.NextSkip
				out.Next, _ = json.Marshal(next)
			}
			return out, nil
		})
}

type GetDocumentContentInput struct {
	DocID   string `json:"doc_id" validate:"required" jsonschema:"description=The document ID to retrieve content from"`
	Section string `json:"section,omitempty" jsonschema:"description=Optional section name to retrieve"`
}

const maxDocumentChunks = 10

func GetDocumentContent(index ChunkIndex, docs storage.Documents) Tool {
	return New(GetDocumentContentName,
		`Retrieve content from a specific document by its ID.
Use this when you need comprehensive information from a particular annual report.
You can optionally specify a section name to get only that section.`,
		func(ctx context.Context, in GetDocumentContentInput) (string, error) {
			doc, err := docs.Get(ctx, in.DocID)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Sprintf("Document with ID '%s' not found.", in.DocID), nil
			}
			if err != nil {
				return "", fmt.Errorf("load document: %w", err)
			}

			chunks, err := index.Fetch(ctx, vectorstore.Filter{DocID: in.DocID}, 0)
			if err != nil {
				return "", err
			}
			if in.Section != "" {
				chunks = inSection(chunks, in.Section)
			}
			if len(chunks) == 0 {
				return fmt.Sprintf("No content found for document '%s'.", in.DocID), nil
			}
			if len(chunks) > maxDocumentChunks {
				chunks = chunks[:maxDocumentChunks]
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Document: %s\n", orUnknown(doc.Filename, in.DocID))
			fmt.Fprintf(&b, "Fund: %s\n", orUnknown(doc.FundName, "Unknown"))
			fmt.Fprintf(&b, "Period: %s\n", orUnknown(doc.ReportPeriod, "Unknown"))
			b.WriteString("---\n\n")
			for i, c := range chunks {
				if i > 0 {
					b.WriteString("\n\n")
				}
				b.WriteString(c.Content)
			}
			return b.String(), nil
		})
}

// inSection keeps chunks whose section or heading names match, or whose
// opening text mentions the section.
func inSection(chunks []vectorstore.Result, section string) []vectorstore.Result {
	needle := strings.ToLower(section)
	var out []vectorstore.Result
	for _, c := range chunks {
		names := strings.ToLower(c.Metadata.SectionTitle + " " + strings.Join(c.Metadata.Headings, " "))
		head := []rune(strings.ToLower(c.Content))
		if len(head) > 200 {
			head = head[:200]
		}
		if strings.Contains(names, needle) || strings.Contains(string(head), needle) {
			out = append(out, c)
		}
	}
	return out
}

func orUnknown(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
