// Package vectorstore persists chunk vectors with their metadata and
// answers filtered nearest-neighbour queries.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

type SourceKind string

const (
	SourcePrimary   SourceKind = "primary"
	SourceSecondary SourceKind = "secondary"
)

var ErrInvalidOwner = errors.New("invalid chunk owner")

// Metadata is persisted with every chunk and round-trips unchanged. The
// JSON names are what filters key off.
type Metadata struct {
	DocID      string     `json:"doc_id"`
	SourceType SourceKind `json:"source_type"`
	SourceID   string     `json:"source_id,omitempty"`
	ChunkIndex int        `json:"chunk_index"`
	ChunkType  string     `json:"chunk_type,omitempty"`
	Page       int        `json:"page,omitempty"`
	Headings   []string   `json:"headings,omitempty"`

	SourceName   string   `json:"source_name,omitempty"`
	OriginalURL  string   `json:"original_url,omitempty"`
	TableType    string   `json:"table_type,omitempty"`
	TableHeaders []string `json:"table_headers,omitempty"`
	SectionTitle string   `json:"section_title,omitempty"`
}

// Filter is an exact-match conjunction. Empty fields match anything, so
// the zero Filter spans the whole corpus.
type Filter struct {
	DocID      string
	SourceID   string
	SourceType SourceKind
	ChunkType  string
}

func (f Filter) IsZero() bool {
	return f == Filter{}
}

func (f Filter) Match(m Metadata) bool {
	return (f.DocID == "" || m.DocID == f.DocID) &&
		(f.SourceID == "" || m.SourceID == f.SourceID) &&
		(f.SourceType == "" || m.SourceType == f.SourceType) &&
		(f.ChunkType == "" || m.ChunkType == f.ChunkType)
}

// Owner identifies the chunk set that is replaced as a unit. Primary
// chunks are owned by their document; secondary chunks by their source,
// which always names its parent document.
type Owner struct {
	DocID    string
	SourceID string
}

func DocumentOwner(docID string) Owner {
	return Owner{DocID: docID}
}

func SourceOwner(sourceID, parentDocID string) Owner {
	return Owner{DocID: parentDocID, SourceID: sourceID}
}

func (o Owner) Kind() SourceKind {
	if o.SourceID != "" {
		return SourceSecondary
	}
	return SourcePrimary
}

// Key is the prefix of the owner's chunk ids.
func (o Owner) Key() string {
	if o.SourceID != "" {
		return o.SourceID
	}
	return o.DocID
}

// Filter selects exactly the chunks this owner replaces. A document's
// secondary sources are not part of it.
func (o Owner) Filter() Filter {
	if o.SourceID != "" {
		return Filter{SourceID: o.SourceID}
	}
	return Filter{DocID: o.DocID, SourceType: SourcePrimary}
}

func (o Owner) validate() error {
	if o.DocID == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidOwner)
	}
	return nil
}

func ChunkID(owner Owner, index int) string {
	return fmt.Sprintf("%s_chunk_%d", owner.Key(), index)
}

// Entry is a chunk handed to Upsert. Ownership fields in Metadata are
// overwritten from the Owner.
type Entry struct {
	Content  string
	Metadata Metadata
}

type Record struct {
	ID        string
	Content   string
	Metadata  Metadata
	Embedding []float32
}

type Result struct {
	ID       string
	Content  string
	Metadata Metadata
	Distance float64
}

type Stats struct {
	TotalChunks    int `json:"total_chunks"`
	TotalDocuments int `json:"total_documents"`
}

// Backend is the storage engine behind a Store. Replace must delete the
// owner's chunks and insert the new ones as one unit.
type Backend interface {
	Replace(ctx context.Context, owner Owner, records []Record) error
	Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error)
	Fetch(ctx context.Context, filter Filter, limit int) ([]Result, error)
	Delete(ctx context.Context, filter Filter) (int, error)
	Count(ctx context.Context, filter Filter) (int, error)
	DocumentIDs(ctx context.Context) ([]string, error)
}
