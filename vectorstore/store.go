package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/embeddings"
	"github.com/fabfab/fundlens/logging"
)

type Store struct {
	backend    Backend
	embedder   embeddings.Embedder
	logger     *log.Logger
	retryDelay time.Duration
}

type Option func(*Store)

// WithRetryDelay sets the pause before the single query-embedding retry.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Store) { s.retryDelay = d }
}

func New(backend Backend, embedder embeddings.Embedder, logger *log.Logger, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		embedder:   embedder,
		logger:     logging.OrDefault(logger),
		retryDelay: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert replaces every chunk of owner with entries. Ids are derived from
// the owner and position, so indexing the same content twice leaves the
// same chunk set. Embedding failures are returned without retry.
func (s *Store) Upsert(ctx context.Context, owner Owner, entries []Entry) (int, error) {
	if err := owner.validate(); err != nil {
		return 0, err
	}
	if s.backend == nil {
		return 0, fmt.Errorf("vector backend is not configured")
	}

	var vectors [][]float32
	if len(entries) > 0 {
		if s.embedder == nil {
			return 0, fmt.Errorf("embedder is not configured")
		}
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.Content
		}
		var err error
		vectors, err = s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed chunks for %s: %w", owner.Key(), err)
		}
		if len(vectors) != len(entries) {
			return 0, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(entries), len(vectors))
		}
	}

	records := make([]Record, len(entries))
	for i, e := range entries {
		md := e.Metadata
		md.DocID = owner.DocID
		md.SourceID = owner.SourceID
		md.SourceType = owner.Kind()
		md.ChunkIndex = i
		records[i] = Record{
			ID:        ChunkID(owner, i),
			Content:   e.Content,
			Metadata:  md,
			Embedding: vectors[i],
		}
	}

	if err := s.backend.Replace(ctx, owner, records); err != nil {
		return 0, fmt.Errorf("replace chunks for %s: %w", owner.Key(), err)
	}

	s.logger.Debug().
		Str("doc_id", owner.DocID).
		Str("source_id", owner.SourceID).
		Int("chunks", len(records)).
		Msg("upserted chunks")
	return len(records), nil
}

// Search returns up to k chunks nearest to query, most similar first. A
// filter value that matches nothing yields an empty slice.
func (s *Store) Search(ctx context.Context, query string, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("search query is empty")
	}

	vector, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := s.backend.Query(ctx, vector, k, filter)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	return results, nil
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("embedder is not configured")
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err == nil {
		return vector, nil
	}
	if !embeddings.IsTransient(err) {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	s.logger.Warn().Err(err).Dur("delay", s.retryDelay).Msg("query embedding failed, retrying once")
	select {
	case <-ctx.Done():
		return nil, errors.Join(err, ctx.Err())
	case <-time.After(s.retryDelay):
	}

	vector, err = s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query after retry: %w", err)
	}
	return vector, nil
}

// Fetch lists chunks matching filter in insertion order.
func (s *Store) Fetch(ctx context.Context, filter Filter, limit int) ([]Result, error) {
	results, err := s.backend.Fetch(ctx, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch chunks: %w", err)
	}
	return results, nil
}

// DeleteByDocument removes every chunk whose doc_id matches, which
// includes the chunks of the document's secondary sources.
func (s *Store) DeleteByDocument(ctx context.Context, docID string) (int, error) {
	if docID == "" {
		return 0, fmt.Errorf("document id is required")
	}
	n, err := s.backend.Delete(ctx, Filter{DocID: docID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks for document %s: %w", docID, err)
	}
	return n, nil
}

// DeleteBySource removes the chunks of one secondary source and leaves its
// siblings alone.
func (s *Store) DeleteBySource(ctx context.Context, sourceID string) (int, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("source id is required")
	}
	n, err := s.backend.Delete(ctx, Filter{SourceID: sourceID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks for source %s: %w", sourceID, err)
	}
	return n, nil
}

// Exists reports whether any chunk carries the document id. An empty id
// never exists.
func (s *Store) Exists(ctx context.Context, docID string) (bool, error) {
	if docID == "" {
		return false, nil
	}
	n, err := s.backend.Count(ctx, Filter{DocID: docID})
	if err != nil {
		return false, fmt.Errorf("count chunks: %w", err)
	}
	return n > 0, nil
}

func (s *Store) Count(ctx context.Context, filter Filter) (int, error) {
	return s.backend.Count(ctx, filter)
}

func (s *Store) ListDocumentIDs(ctx context.Context) ([]string, error) {
	ids, err := s.backend.DocumentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list document ids: %w", err)
	}
	return ids, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	total, err := s.backend.Count(ctx, Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	ids, err := s.backend.DocumentIDs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list document ids: %w", err)
	}
	return Stats{TotalChunks: total, TotalDocuments: len(ids)}, nil
}
