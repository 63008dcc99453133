package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryBackend is a brute-force backend for tests and db-less runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	records []memoryRecord
	seq     int64
}

type memoryRecord struct {
	Record
	seq int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

var _ Backend = (*MemoryBackend)(nil)

func (m *MemoryBackend) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}

func (m *MemoryBackend) Replace(_ context.Context, owner Owner, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(owner.Filter())
	for _, r := range records {
		m.seq++
		m.records = append(m.records, memoryRecord{Record: r, seq: m.seq})
	}
	return nil
}

func (m *MemoryBackend) Query(_ context.Context, vector []float32, k int, filter Filter) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type scored struct {
		rec  memoryRecord
		dist float64
	}
	var candidates []scored
	for _, r := range m.records {
		if !filter.Match(r.Metadata) {
			continue
		}
		if len(r.Embedding) != len(vector) {
			return nil, fmt.Errorf("query dimension %d does not match stored dimension %d", len(vector), len(r.Embedding))
		}
		candidates = append(candidates, scored{rec: r, dist: l2(vector, r.Embedding)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].rec.seq < candidates[j].rec.seq
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = toResult(c.rec.Record, c.dist)
	}
	return results, nil
}

func (m *MemoryBackend) Fetch(_ context.Context, filter Filter, limit int) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Result
	for _, r := range m.records {
		if limit > 0 && len(results) >= limit {
			break
		}
		if filter.Match(r.Metadata) {
			results = append(results, toResult(r.Record, 0))
		}
	}
	return results, nil
}

func (m *MemoryBackend) Delete(_ context.Context, filter Filter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(filter), nil
}

func (m *MemoryBackend) deleteLocked(filter Filter) int {
	kept := m.records[:0]
	removed := 0
	for _, r := range m.records {
		if filter.Match(r.Metadata) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return removed
}

func (m *MemoryBackend) Count(_ context.Context, filter Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.records {
		if filter.Match(r.Metadata) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) DocumentIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var ids []string
	for _, r := range m.records {
		if _, ok := seen[r.Metadata.DocID]; ok {
			continue
		}
		seen[r.Metadata.DocID] = struct{}{}
		ids = append(ids, r.Metadata.DocID)
	}
	sort.Strings(ids)
	return ids, nil
}

func toResult(r Record, dist float64) Result {
	md := r.Metadata
	md.Headings = append([]string(nil), md.Headings...)
	md.TableHeaders = append([]string(nil), md.TableHeaders...)
	return Result{ID: r.ID, Content: r.Content, Metadata: md, Distance: dist}
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
