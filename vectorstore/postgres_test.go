package vectorstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/database"
	"github.com/fabfab/fundlens/embeddings/embeddingstest"
	"github.com/fabfab/fundlens/logging"
)

func TestFilterWhere(t *testing.T) {
	clause, args := Filter{}.where(nil)
	assert.Empty(t, clause)
	assert.Empty(t, args)

	clause, args = Filter{DocID: "doc", SourceType: SourcePrimary}.where([]any{"vec"})
	assert.Equal(t, " WHERE doc_id = $2 AND source_type = $3", clause)
	assert.Equal(t, []any{"vec", "doc", "primary"}, args)
}

func TestPostgresBackendRoundTrip(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgres://localhost:5432/fundlens?sslmode=disable"
	}
	pool, err := database.NewPostgresPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	const dim = 768
	require.NoError(t, database.EnsureRAGSchema(ctx, pool, dim))

	store := New(NewPostgresBackend(pool), embeddingstest.New(dim), logging.Discard())
	docID := "it_" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _, _ = store.DeleteByDocument(context.Background(), docID) })

	_, err = store.Upsert(ctx, DocumentOwner(docID), []Entry{
		{Content: "fund performance return", Metadata: Metadata{ChunkType: "text", Page: 2, Headings: []string{"Performance"}}},
		{Content: "sector allocation", Metadata: Metadata{ChunkType: "table"}},
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, DocumentOwner(docID), []Entry{
		{Content: "fund performance return", Metadata: Metadata{ChunkType: "text", Page: 2, Headings: []string{"Performance"}}},
		{Content: "sector allocation", Metadata: Metadata{ChunkType: "table"}},
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, SourceOwner(docID+"_sec", docID), []Entry{{Content: "attached note"}})
	require.NoError(t, err)

	n, err := store.Count(ctx, Filter{DocID: docID})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := store.Search(ctx, "fund performance", 1, Filter{DocID: docID})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, docID+"_chunk_0", res[0].ID)
	assert.Equal(t, []string{"Performance"}, res[0].Metadata.Headings)
	assert.Equal(t, 2, res[0].Metadata.Page)

	deleted, err := store.DeleteByDocument(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}
