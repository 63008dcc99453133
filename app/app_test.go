package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/config"
	"github.com/fabfab/fundlens/embeddings"
	"github.com/fabfab/fundlens/llm"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

func offlineConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.VectorStore.Backend = config.BackendMemory
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "memory.db")
	return cfg
}

func TestNewWiresMemoryBackend(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	var names []string
	for _, tool := range a.Tools.Tools() {
		names = append(names, tool.Name())
	}
	assert.ElementsMatch(t, []string{
		"search_documents", "get_document_content", "query_tables", "compare_documents",
		"calculate_metrics", "extract_numbers", "fetch_url_content", "get_stock_data",
	}, names)

	assert.NotNil(t, a.Agent)
	assert.NotNil(t, a.Comment)
	assert.NotNil(t, a.Processor)
	assert.NoError(t, a.Clear(context.Background()))
}

func TestNewFailsFastOnMissingCredentials(t *testing.T) {
	cfg := offlineConfig(t)
	cfg.Embeddings.Provider = config.ProviderOpenAI
	cfg.OpenAIAPIKey = ""
	_, err := New(context.Background(), cfg, logging.Discard())
	assert.ErrorIs(t, err, embeddings.ErrMissingCredentials)

	cfg = offlineConfig(t)
	cfg.LLM.Provider = config.ProviderAnthropic
	cfg.AnthropicAPIKey = ""
	_, err = New(context.Background(), cfg, logging.Discard())
	assert.ErrorIs(t, err, llm.ErrMissingCredentials)
}

func TestClearEmptiesMemoryBackend(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(t), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(a.Close)
	ctx := context.Background()

	id, _, err := a.Documents.Add(ctx, models.Document{ID: "nordic_2024", Filename: "nordic_2024.pdf", FileHash: "h1"})
	require.NoError(t, err)
	require.NoError(t, a.Sources.Add(ctx, models.SecondarySource{SourceID: "sec_1", ParentDocID: id, SourceType: models.SourceURL, Name: "news"}))
	_, err = a.Comments.Save(ctx, models.Comment{DocID: id, Content: "Strong year."})
	require.NoError(t, err)
	require.NoError(t, a.memIndex.Replace(ctx, vectorstore.DocumentOwner(id), []vectorstore.Record{{
		ID:        id + "_chunk_0",
		Content:   "The fund returned 5.2%.",
		Metadata:  vectorstore.Metadata{DocID: id, SourceType: vectorstore.SourcePrimary},
		Embedding: make([]float32, a.Config.Embeddings.Dimension),
	}}))

	require.NoError(t, a.Clear(ctx))

	docs, err := a.Documents.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, err = a.Sources.Get(ctx, "sec_1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	comments, err := a.Comments.ListByDocument(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, comments)
	stats, err := a.Index.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChunks)
}
