package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fabfab/fundlens/models"
)

// Memory implements every store in process. It backs db-less runs and
// tests, and mirrors the Postgres cascade from documents to sources and
// comments.
type Memory struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	sources   map[string]models.SecondarySource
	comments  []models.Comment
	nextID    int64
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		documents: make(map[string]models.Document),
		sources:   make(map[string]models.SecondarySource),
		now:       time.Now,
	}
}

var (
	_ Documents = (*Memory)(nil)
	_ Sources   = (*MemorySources)(nil)
	_ Comments  = (*MemoryComments)(nil)
)

// Sources and Comments return views over the same state, so deleting a
// document cascades to both.
func (m *Memory) Sources() *MemorySources   { return &MemorySources{m} }
func (m *Memory) Comments() *MemoryComments { return &MemoryComments{m} }

// Reset drops every document, source and comment.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = make(map[string]models.Document)
	m.sources = make(map[string]models.SecondarySource)
	m.comments = nil
}

func (m *Memory) Add(_ context.Context, doc models.Document) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.documents {
		if existing.FileHash == doc.FileHash {
			existing.LastAccessed = m.now()
			m.documents[existing.ID] = existing
			return existing.ID, false, nil
		}
	}
	if doc.ID == "" {
		doc.ID = models.DocumentID(doc.Filename, doc.FileHash)
	}
	now := m.now()
	if doc.UploadDate.IsZero() {
		doc.UploadDate = now
	}
	doc.LastAccessed = now
	m.documents[doc.ID] = doc
	return doc.ID, true, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.documents[id]
	if !ok {
		return models.Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return doc, nil
}

func (m *Memory) GetByHash(_ context.Context, hash string) (models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, doc := range m.documents {
		if doc.FileHash == hash {
			return doc, nil
		}
	}
	return models.Document{}, fmt.Errorf("document with hash %s: %w", hash, ErrNotFound)
}

func (m *Memory) List(_ context.Context, limit int) ([]models.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Document, 0, len(m.documents))
	for _, doc := range m.documents {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastAccessed.Equal(out[j].LastAccessed) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Touch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	doc.LastAccessed = m.now()
	m.documents[id] = doc
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	delete(m.documents, id)
	for sid, src := range m.sources {
		if src.ParentDocID == id {
			delete(m.sources, sid)
		}
	}
	kept := m.comments[:0]
	for _, c := range m.comments {
		if c.DocID != id {
			kept = append(kept, c)
		}
	}
	m.comments = kept
	return nil
}

type MemorySources struct{ m *Memory }

func (s *MemorySources) Add(_ context.Context, src models.SecondarySource) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.documents[src.ParentDocID]; !ok {
		return fmt.Errorf("parent document %s: %w", src.ParentDocID, ErrNotFound)
	}
	if src.CreatedAt.IsZero() {
		src.CreatedAt = s.m.now()
	}
	s.m.sources[src.SourceID] = src
	return nil
}

func (s *MemorySources) Get(_ context.Context, id string) (models.SecondarySource, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	src, ok := s.m.sources[id]
	if !ok {
		return models.SecondarySource{}, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return src, nil
}

func (s *MemorySources) Update(_ context.Context, src models.SecondarySource) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.sources[src.SourceID]; !ok {
		return fmt.Errorf("source %s: %w", src.SourceID, ErrNotFound)
	}
	s.m.sources[src.SourceID] = src
	return nil
}

func (s *MemorySources) list(keep func(models.SecondarySource) bool) []models.SecondarySource {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	var out []models.SecondarySource
	for _, src := range s.m.sources {
		if keep(src) {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemorySources) ListByParent(_ context.Context, parentDocID string, includeTemporary bool) ([]models.SecondarySource, error) {
	return s.list(func(src models.SecondarySource) bool {
		return src.ParentDocID == parentDocID && (includeTemporary || !src.IsTemporary)
	}), nil
}

func (s *MemorySources) ListBySession(_ context.Context, sessionID string) ([]models.SecondarySource, error) {
	return s.list(func(src models.SecondarySource) bool { return src.SessionID == sessionID }), nil
}

func (s *MemorySources) ListTemporaryBefore(_ context.Context, cutoff time.Time) ([]models.SecondarySource, error) {
	return s.list(func(src models.SecondarySource) bool {
		return src.IsTemporary && src.CreatedAt.Before(cutoff)
	}), nil
}

func (s *MemorySources) MakePermanent(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	src, ok := s.m.sources[id]
	if !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	src.IsTemporary = false
	s.m.sources[id] = src
	return nil
}

func (s *MemorySources) Delete(_ context.Context, id string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	if _, ok := s.m.sources[id]; !ok {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	delete(s.m.sources, id)
	return nil
}

func (s *MemorySources) DeleteByParent(_ context.Context, parentDocID string) (int, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	n := 0
	for id, src := range s.m.sources {
		if src.ParentDocID == parentDocID {
			delete(s.m.sources, id)
			n++
		}
	}
	return n, nil
}

type MemoryComments struct{ m *Memory }

func (c *MemoryComments) Save(_ context.Context, comment models.Comment) (models.Comment, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.documents[comment.DocID]; !ok {
		return models.Comment{}, fmt.Errorf("document %s: %w", comment.DocID, ErrNotFound)
	}
	c.m.nextID++
	comment.ID = c.m.nextID
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = c.m.now()
	}
	c.m.comments = append(c.m.comments, comment)
	return comment, nil
}

func (c *MemoryComments) ListByDocument(_ context.Context, docID string) ([]models.Comment, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()
	var out []models.Comment
	for i := len(c.m.comments) - 1; i >= 0; i-- {
		if c.m.comments[i].DocID == docID {
			out = append(out, c.m.comments[i])
		}
	}
	return out, nil
}
