package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/database"
	"github.com/fabfab/fundlens/models"
)

func TestPostgresStoreRoundTrip(t *testing.T) {
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
	require.NoError(t, database.EnsureRAGSchema(ctx, pool, 768))

	store := NewPostgres(pool)
	hash := "it" + time.Now().Format("150405.000000")
	data := models.ExtractedData{FundName: "Nordic Growth Fund", Markdown: "# Nordic Growth Fund"}

	id, created, err := store.Add(ctx, models.Document{Filename: "nordic.pdf", FileHash: hash, FundName: data.FundName, Extracted: &data})
	require.NoError(t, err)
	require.True(t, created)
	t.Cleanup(func() { _ = store.Delete(context.Background(), id) })

	again, created, err := store.Add(ctx, models.Document{Filename: "copy.pdf", FileHash: hash})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	doc, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doc.Extracted)
	assert.Equal(t, "# Nordic Growth Fund", doc.Extracted.Markdown)

	sources := store.Sources()
	src := models.SecondarySource{
		SourceID:    models.NewSourceID(),
		ParentDocID: id,
		SourceType:  models.SourceURL,
		Name:        "example.com/news",
		IsTemporary: true,
		SessionID:   "s1",
		CreatedAt:   time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, sources.Add(ctx, src))

	expired, err := sources.ListTemporaryBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, expired)

	require.NoError(t, sources.MakePermanent(ctx, src.SourceID))
	listed, err := sources.ListByParent(ctx, id, false)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsTemporary)

	saved, err := store.Comments().Save(ctx, models.Comment{DocID: id, CommentType: models.CommentRisk, Content: "Volatility fell."})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	n, err := sources.DeleteByParent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Delete(ctx, id))
	_, err = store.Get(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
