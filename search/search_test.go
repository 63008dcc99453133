package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/embeddings/embeddingstest"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/vectorstore"
)

func seededStore(t *testing.T, n int) *vectorstore.Store {
	t.Helper()
	store := vectorstore.New(vectorstore.NewMemoryBackend(), embeddingstest.New(32), logging.Discard())
	entries := make([]vectorstore.Entry, n)
	for i := range entries {
		entries[i] = vectorstore.Entry{Content: fmt.Sprintf("holding weight %d", i), Metadata: vectorstore.Metadata{ChunkType: "text"}}
	}
	_, err := store.Upsert(context.Background(), vectorstore.DocumentOwner("report"), entries)
	require.NoError(t, err)
	return store
}

func TestPaginationCompleteness(t *testing.T) {
	s := New(seededStore(t, 25))
	ctx := context.Background()

	want := []struct {
		skip    int
		count   int
		hasMore bool
	}{
		{0, 10, true},
		{10, 10, true},
		{20, 5, false},
	}

	seen := map[string]bool{}
	for _, w := range want {
		page, err := s.Search(ctx, Request{Query: "holding weight", Skip: w.skip})
		require.NoError(t, err)
		assert.Len(t, page.Results, w.count, "skip=%d", w.skip)
		assert.Equal(t, w.hasMore, page.HasMore, "skip=%d", w.skip)
		assert.Equal(t, w.skip+10, page.NextSkip)
		for _, r := range page.Results {
			assert.False(t, seen[r.ID], "result %s repeated across pages", r.ID)
			seen[r.ID] = true
		}
	}
	assert.Len(t, seen, 25)

	page, err := s.Search(ctx, Request{Query: "holding weight", Skip: 30})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.False(t, page.HasMore)
}

func TestSearchEmptyIndex(t *testing.T) {
	s := New(seededStore(t, 0))
	page, err := s.Search(context.Background(), Request{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, "No more results found (skip=0). You have retrieved all relevant information.", Format(page))
}

type recordingIndex struct {
	k      int
	filter vectorstore.Filter
	err    error
}

func (r *recordingIndex) Search(_ context.Context, _ string, k int, filter vectorstore.Filter) ([]vectorstore.Result, error) {
	r.k, r.filter = k, filter
	return nil, r.err
}

func TestSearchQueriesSkipPlusLimit(t *testing.T) {
	idx := &recordingIndex{}
	s := New(idx, WithLimit(5))

	_, err := s.Search(context.Background(), Request{Query: "q", Skip: 15, Filter: vectorstore.Filter{DocID: "doc"}})
	require.NoError(t, err)
	assert.Equal(t, 20, idx.k)
	assert.Equal(t, "doc", idx.filter.DocID)

	idx.err = errors.New("boom")
	_, err = s.Search(context.Background(), Request{Query: "q"})
	assert.ErrorContains(t, err, "boom")
}

func TestFormatHints(t *testing.T) {
	full := Page{Skip: 0, Limit: 2, NextSkip: 2, HasMore: true, Results: []vectorstore.Result{
		{Content: "Fund return 5.2%", Metadata: vectorstore.Metadata{DocID: "report", SourceType: vectorstore.SourcePrimary, ChunkType: "hybrid"}},
		{Content: "Analyst note", Metadata: vectorstore.Metadata{DocID: "report", SourceID: "sec_1", SourceType: vectorstore.SourceSecondary}},
	}}
	out := Format(full)
	assert.True(t, strings.HasPrefix(out, "[Result 1] (Source: report, Type: hybrid, SourceType: primary)\nFund return 5.2%"))
	assert.Contains(t, out, "\n\n---\n\n[Result 2] (Source: report/sec_1, Type: text, SourceType: secondary)")
	assert.Contains(t, out, "More may exist (skip=2)")
	assert.Contains(t, out, "call search_documents with skip=2")
	assert.NotContains(t, out, "COMPLETE")

	partial := full
	partial.HasMore = false
	partial.Results = full.Results[:1]
	out = Format(partial)
	assert.True(t, strings.HasSuffix(out, "✅ [COMPLETE: 1 results. No more data available.]"))
}
