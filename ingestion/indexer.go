// Package ingestion turns extracted reports and attached material into
// indexed chunks, and removes them again when their owner goes away.
package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/chunking"
	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

// ChunkIndex is the part of the vector store indexing writes to.
type ChunkIndex interface {
	Upsert(ctx context.Context, owner vectorstore.Owner, entries []vectorstore.Entry) (int, error)
	DeleteByDocument(ctx context.Context, docID string) (int, error)
	DeleteBySource(ctx context.Context, sourceID string) (int, error)
	Count(ctx context.Context, filter vectorstore.Filter) (int, error)
}

var _ ChunkIndex = (*vectorstore.Store)(nil)

type Indexer struct {
	docs    storage.Documents
	sources storage.Sources
	index   ChunkIndex
	graph   knowledge.Graph
	chunker *chunking.Chunker
	logger  *log.Logger
}

// NewIndexer wires the stores together. A nil graph disables the
// knowledge graph mirror.
func NewIndexer(docs storage.Documents, sources storage.Sources, index ChunkIndex, graph knowledge.Graph, chunker *chunking.Chunker, logger *log.Logger) *Indexer {
	if graph == nil {
		graph = knowledge.Noop{}
	}
	if chunker == nil {
		chunker = chunking.New()
	}
	return &Indexer{
		docs:    docs,
		sources: sources,
		index:   index,
		graph:   graph,
		chunker: chunker,
		logger:  logging.OrDefault(logger),
	}
}

// Upload is one extracted report handed over for indexing. FileHash
// identifies the original file; when empty it is derived from Data.
type Upload struct {
	Filename string
	FileHash string
	FilePath string
	Data     models.ExtractedData
}

type IndexResult struct {
	DocID   string `json:"doc_id"`
	Chunks  int    `json:"chunks"`
	Created bool   `json:"created"`
}

// IndexDocument stores the document and indexes its chunks. A file whose
// hash is already known is not indexed again and its existing id is
// returned, unless it has no primary chunks, in which case indexing is
// repaired. A new document row is removed again when indexing fails.
func (ix *Indexer) IndexDocument(ctx context.Context, up Upload) (IndexResult, error) {
	if up.Filename == "" {
		return IndexResult{}, errors.New("filename is required")
	}
	hash := up.FileHash
	if hash == "" {
		var err error
		if hash, err = contentHash(up.Data); err != nil {
			return IndexResult{}, err
		}
	}

	data := up.Data
	doc := models.Document{
		ID:           models.DocumentID(up.Filename, hash),
		Filename:     up.Filename,
		FileHash:     hash,
		FilePath:     up.FilePath,
		PageCount:    data.PageCount,
		FundName:     data.FundName,
		ReportPeriod: data.ReportPeriod,
		Benchmark:    data.BenchmarkIndex,
		Currency:     data.Currency,
		Extracted:    &data,
	}
	id, created, err := ix.docs.Add(ctx, doc)
	if err != nil {
		return IndexResult{}, fmt.Errorf("store document: %w", err)
	}
	if !created {
		indexed, err := ix.index.Count(ctx, vectorstore.Filter{DocID: id, SourceType: vectorstore.SourcePrimary})
		if err != nil {
			return IndexResult{}, fmt.Errorf("count chunks for %s: %w", id, err)
		}
		if indexed > 0 {
			ix.logger.Info().Str("doc_id", id).Str("filename", up.Filename).Msg("document already indexed")
			return IndexResult{DocID: id}, nil
		}
		ix.logger.Warn().Str("doc_id", id).Msg("document has no chunks, indexing again")
		existing, err := ix.docs.Get(ctx, id)
		if err != nil {
			return IndexResult{}, err
		}
		if existing.Extracted != nil {
			data = *existing.Extracted
		}
		n, err := ix.indexPrimary(ctx, existing, data)
		if err != nil {
			return IndexResult{}, err
		}
		return IndexResult{DocID: id, Chunks: n}, nil
	}
	doc.ID = id

	n, err := ix.indexPrimary(ctx, doc, data)
	if err != nil {
		if derr := ix.docs.Delete(ctx, id); derr != nil {
			ix.logger.Error().Err(derr).Str("doc_id", id).Msg("remove document after failed indexing")
		}
		return IndexResult{}, err
	}
	return IndexResult{DocID: id, Chunks: n, Created: true}, nil
}

// Reindex rebuilds a document's primary chunks from its stored extraction.
// Chunks of attached sources are left in place.
func (ix *Indexer) Reindex(ctx context.Context, docID string) (IndexResult, error) {
	doc, err := ix.docs.Get(ctx, docID)
	if err != nil {
		return IndexResult{}, err
	}
	if doc.Extracted == nil {
		return IndexResult{}, fmt.Errorf("document %s has no extracted data to index", docID)
	}
	n, err := ix.indexPrimary(ctx, doc, *doc.Extracted)
	if err != nil {
		return IndexResult{}, err
	}
	return IndexResult{DocID: docID, Chunks: n}, nil
}

func (ix *Indexer) indexPrimary(ctx context.Context, doc models.Document, data models.ExtractedData) (int, error) {
	start := time.Now()
	pieces := ix.chunker.ChunkDocument(data)
	entries := make([]vectorstore.Entry, len(pieces))
	for i, p := range pieces {
		entries[i] = vectorstore.Entry{
			Content: p.Content,
			Metadata: vectorstore.Metadata{
				ChunkType:    string(p.Type),
				Page:         p.Page,
				Headings:     p.Headings,
				TableType:    p.TableType,
				TableHeaders: p.TableHeaders,
				SectionTitle: p.SectionTitle,
				SourceName:   doc.Filename,
			},
		}
	}

	n, err := ix.index.Upsert(ctx, vectorstore.DocumentOwner(doc.ID), entries)
	if err != nil {
		return 0, fmt.Errorf("index document %s: %w", doc.ID, err)
	}
	if err := ix.graph.SyncDocument(ctx, doc, data); err != nil {
		ix.logger.Warn().Err(err).Str("doc_id", doc.ID).Msg("knowledge graph sync failed")
	}

	ix.logger.Info().
		Str("doc_id", doc.ID).
		Int("chunks", n).
		Dur("duration", time.Since(start)).
		Msg("indexed document")
	return n, nil
}

// IndexSource replaces the chunks of one secondary source. Its content is
// chunked with the plain text splitter only.
func (ix *Indexer) IndexSource(ctx context.Context, src models.SecondarySource, chunker *chunking.Chunker) (int, error) {
	if chunker == nil {
		chunker = ix.chunker
	}
	chunks := chunker.ChunkText(src.ContentMD)
	entries := make([]vectorstore.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectorstore.Entry{
			Content: c,
			Metadata: vectorstore.Metadata{
				ChunkType:   string(chunking.TypeText),
				SourceName:  src.Name,
				OriginalURL: src.OriginalURL,
			},
		}
	}
	n, err := ix.index.Upsert(ctx, vectorstore.SourceOwner(src.SourceID, src.ParentDocID), entries)
	if err != nil {
		return 0, fmt.Errorf("index source %s: %w", src.SourceID, err)
	}
	err = ix.graph.SyncSource(ctx, knowledge.Source{
		ID:          src.SourceID,
		ParentDocID: src.ParentDocID,
		Name:        src.Name,
		Type:        string(src.SourceType),
	})
	if err != nil {
		ix.logger.Warn().Err(err).Str("source_id", src.SourceID).Msg("knowledge graph sync failed")
	}
	return n, nil
}

// DeleteDocument removes a document with everything it owns: primary and
// secondary chunks, source rows, comments and its graph nodes.
func (ix *Indexer) DeleteDocument(ctx context.Context, docID string) (int, error) {
	if _, err := ix.docs.Get(ctx, docID); err != nil {
		return 0, err
	}
	n, err := ix.index.DeleteByDocument(ctx, docID)
	if err != nil {
		return 0, err
	}
	if _, err := ix.sources.DeleteByParent(ctx, docID); err != nil {
		return n, fmt.Errorf("delete sources of %s: %w", docID, err)
	}
	if err := ix.docs.Delete(ctx, docID); err != nil {
		return n, fmt.Errorf("delete document %s: %w", docID, err)
	}
	if err := ix.graph.DeleteDocument(ctx, docID); err != nil {
		ix.logger.Warn().Err(err).Str("doc_id", docID).Msg("knowledge graph delete failed")
	}
	ix.logger.Info().Str("doc_id", docID).Int("chunks", n).Msg("deleted document")
	return n, nil
}

// DeleteSource removes one secondary source and its chunks. Sibling
// sources and the parent's primary chunks are untouched.
func (ix *Indexer) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	if _, err := ix.sources.Get(ctx, sourceID); err != nil {
		return 0, err
	}
	n, err := ix.index.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if err := ix.sources.Delete(ctx, sourceID); err != nil {
		return n, fmt.Errorf("delete source %s: %w", sourceID, err)
	}
	if err := ix.graph.DeleteSource(ctx, sourceID); err != nil {
		ix.logger.Warn().Err(err).Str("source_id", sourceID).Msg("knowledge graph delete failed")
	}
	ix.logger.Info().Str("source_id", sourceID).Int("chunks", n).Msg("deleted source")
	return n, nil
}

func contentHash(data models.ExtractedData) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("hash extracted data: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// FileHash is the sha256 of raw file bytes, hex encoded.
func FileHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
