package ingestion

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/embeddings"
	"github.com/fabfab/fundlens/embeddings/embeddingstest"
	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

type recordingGraph struct {
	knowledge.Noop
	mu      sync.Mutex
	synced  []string
	deleted []string
}

func (g *recordingGraph) SyncDocument(_ context.Context, doc models.Document, _ models.ExtractedData) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synced = append(g.synced, doc.ID)
	return nil
}

func (g *recordingGraph) DeleteDocument(_ context.Context, docID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, docID)
	return nil
}

var _ knowledge.Graph = (*recordingGraph)(nil)

type stubFetcher struct {
	md  string
	err error
}

func (s stubFetcher) Markdown(context.Context, string) (string, error) { return s.md, s.err }

type stubQuotes struct{ asked []string }

func (s *stubQuotes) Lookup(_ context.Context, ticker string) (string, error) {
	s.asked = append(s.asked, ticker)
	return "**Volvo B** (" + ticker + ")\nExchange: STO\n**Current Price:** kr 245.20", nil
}

var (
	_ PageFetcher = stubFetcher{}
	_ QuoteLookup = (*stubQuotes)(nil)
)

type env struct {
	store     *storage.Memory
	embedder  *embeddingstest.Fake
	index     *vectorstore.Store
	graph     *recordingGraph
	indexer   *Indexer
	processor *Processor
	quotes    *stubQuotes
}

func newEnv(t *testing.T, fetcher PageFetcher) *env {
	t.Helper()
	e := &env{
		store:    storage.NewMemory(),
		embedder: embeddingstest.New(32),
		graph:    &recordingGraph{},
		quotes:   &stubQuotes{},
	}
	e.index = vectorstore.New(vectorstore.NewMemoryBackend(), e.embedder, logging.Discard())
	e.indexer = NewIndexer(e.store, e.store.Sources(), e.index, e.graph, nil, logging.Discard())
	e.processor = NewProcessor(e.indexer, e.store.Sources(), fetcher, e.quotes, nil, logging.Discard())
	return e
}

func report() models.ExtractedData {
	return models.ExtractedData{
		FundName:       "Nordic Growth Fund",
		ReportPeriod:   "2024",
		BenchmarkIndex: "MSCI Nordic",
		Currency:       "SEK",
		PageCount:      12,
		Markdown:       "# Nordic Growth Fund\n\n## Performance\n\nThe fund returned 5.2% in 2024.\n",
		RawTables: []models.Table{{
			Page: 4, TableType: "holdings",
			Headers: []string{"Company", "Weight"},
			Rows:    [][]string{{"Atlas Copco", "6.1"}},
		}},
	}
}

func (e *env) count(t *testing.T, f vectorstore.Filter) int {
	t.Helper()
	n, err := e.index.Count(context.Background(), f)
	require.NoError(t, err)
	return n
}

func (e *env) indexReport(t *testing.T) string {
	t.Helper()
	res, err := e.indexer.IndexDocument(context.Background(), Upload{Filename: "nordic_2024.pdf", FileHash: "abcdef0123456789", Data: report()})
	require.NoError(t, err)
	return res.DocID
}

func TestIndexDocumentStoresAndIndexes(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	res, err := e.indexer.IndexDocument(ctx, Upload{Filename: "nordic_2024.pdf", FileHash: "abcdef0123456789", Data: report()})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "nordic_2024_abcdef01", res.DocID)
	assert.Greater(t, res.Chunks, 1)

	doc, err := e.store.Get(ctx, res.DocID)
	require.NoError(t, err)
	assert.Equal(t, "Nordic Growth Fund", doc.FundName)
	assert.Equal(t, "MSCI Nordic", doc.Benchmark)
	assert.Equal(t, 12, doc.PageCount)
	require.NotNil(t, doc.Extracted)

	assert.Equal(t, res.Chunks, e.count(t, vectorstore.Filter{DocID: res.DocID, SourceType: vectorstore.SourcePrimary}))
	assert.Equal(t, 1, e.count(t, vectorstore.Filter{DocID: res.DocID, ChunkType: "table"}))
	assert.Equal(t, []string{res.DocID}, e.graph.synced)
}

func TestIndexDocumentDeduplicatesByHash(t *testing.T) {
	e := newEnv(t, nil)
	first := e.indexReport(t)

	res, err := e.indexer.IndexDocument(context.Background(), Upload{Filename: "renamed.pdf", FileHash: "abcdef0123456789", Data: report()})
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, first, res.DocID)
	assert.Zero(t, res.Chunks)
	assert.Len(t, e.graph.synced, 1)
}

func TestIndexDocumentFailureLeavesNoDocument(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	up := Upload{Filename: "nordic_2024.pdf", FileHash: "abcdef0123456789", Data: report()}

	e.embedder.Err = embeddings.ErrUnavailable
	_, err := e.indexer.IndexDocument(ctx, up)
	require.ErrorIs(t, err, embeddings.ErrUnavailable)

	_, err = e.store.Get(ctx, "nordic_2024_abcdef01")
	require.ErrorIs(t, err, storage.ErrNotFound)

	e.embedder.Err = nil
	res, err := e.indexer.IndexDocument(ctx, up)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Greater(t, res.Chunks, 1)
	assert.Equal(t, res.Chunks, e.count(t, vectorstore.Filter{DocID: res.DocID, SourceType: vectorstore.SourcePrimary}))
}

func TestIndexDocumentRepairsDocumentWithoutChunks(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	up := Upload{Filename: "nordic_2024.pdf", FileHash: "abcdef0123456789", Data: report()}
	first, err := e.indexer.IndexDocument(ctx, up)
	require.NoError(t, err)

	// a row left behind by an interrupted run
	_, err = e.index.DeleteByDocument(ctx, first.DocID)
	require.NoError(t, err)

	res, err := e.indexer.IndexDocument(ctx, up)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, first.DocID, res.DocID)
	assert.Equal(t, first.Chunks, res.Chunks)
	assert.Equal(t, first.Chunks, e.count(t, vectorstore.Filter{DocID: res.DocID, SourceType: vectorstore.SourcePrimary}))
}

func TestIndexDocumentDerivesHash(t *testing.T) {
	e := newEnv(t, nil)
	a, err := e.indexer.IndexDocument(context.Background(), Upload{Filename: "a.pdf", Data: report()})
	require.NoError(t, err)
	b, err := e.indexer.IndexDocument(context.Background(), Upload{Filename: "a.pdf", Data: report()})
	require.NoError(t, err)
	assert.Equal(t, a.DocID, b.DocID)
	assert.False(t, b.Created)

	_, err = e.indexer.IndexDocument(context.Background(), Upload{Data: report()})
	assert.Error(t, err)
}

func TestReindexKeepsSecondaryChunks(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)
	primary := e.count(t, vectorstore.Filter{DocID: docID, SourceType: vectorstore.SourcePrimary})

	src, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID}, "notes.txt", []byte("Manager notes: the Atlas Copco position was trimmed in March."))
	require.NoError(t, err)
	require.Equal(t, 1, src.ChunkCount)

	res, err := e.indexer.Reindex(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, primary, res.Chunks)
	assert.Equal(t, primary, e.count(t, vectorstore.Filter{DocID: docID, SourceType: vectorstore.SourcePrimary}))
	assert.Equal(t, 1, e.count(t, vectorstore.Filter{SourceID: src.SourceID}))

	_, err = e.indexer.Reindex(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteDocumentCascades(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)
	other, err := e.indexer.IndexDocument(ctx, Upload{Filename: "other.pdf", FileHash: "ffff0000", Data: report()})
	require.NoError(t, err)

	src, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, Temporary: true}, "notes.md", []byte("# Notes\n\nTrimmed Atlas Copco."))
	require.NoError(t, err)

	n, err := e.indexer.DeleteDocument(ctx, docID)
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	assert.Zero(t, e.count(t, vectorstore.Filter{DocID: docID}))
	assert.Zero(t, e.count(t, vectorstore.Filter{SourceID: src.SourceID}))
	assert.Positive(t, e.count(t, vectorstore.Filter{DocID: other.DocID}))

	_, err = e.store.Sources().Get(ctx, src.SourceID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.store.Get(ctx, docID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, []string{docID}, e.graph.deleted)

	_, err = e.indexer.DeleteDocument(ctx, docID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSourceLeavesSiblings(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)
	primary := e.count(t, vectorstore.Filter{DocID: docID, SourceType: vectorstore.SourcePrimary})

	a, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID}, "a.txt", []byte("First attachment about dividends."))
	require.NoError(t, err)
	b, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID}, "b.txt", []byte("Second attachment about fees."))
	require.NoError(t, err)

	n, err := e.indexer.DeleteSource(ctx, a.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, e.count(t, vectorstore.Filter{SourceID: a.SourceID}))
	assert.Equal(t, 1, e.count(t, vectorstore.Filter{SourceID: b.SourceID}))
	assert.Equal(t, primary, e.count(t, vectorstore.Filter{DocID: docID, SourceType: vectorstore.SourcePrimary}))
}

func TestAddFileIndexesCSVAsTable(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)

	src, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, SessionID: "s1", Temporary: true}, "weights.csv", []byte("Company,Weight\nAtlas Copco,6.1\nInvestor AB\n"))
	require.NoError(t, err)
	assert.Equal(t, models.SourceCSV, src.SourceType)
	assert.True(t, src.IsProcessed)
	assert.Equal(t, "| Company | Weight |\n| --- | --- |\n| Atlas Copco | 6.1 |\n| Investor AB |  |", src.ContentMD)

	results, err := e.index.Fetch(ctx, vectorstore.Filter{SourceID: src.SourceID}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	md := results[0].Metadata
	assert.Equal(t, docID, md.DocID)
	assert.Equal(t, vectorstore.SourceSecondary, md.SourceType)
	assert.Equal(t, "weights.csv", md.SourceName)

	stored, err := e.store.Sources().Get(ctx, src.SourceID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ChunkCount)
}

func TestAddFileRecordsConversionFailure(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)

	src, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID}, "broken.pdf", []byte("not really a pdf"))
	require.Error(t, err)

	stored, getErr := e.store.Sources().Get(ctx, src.SourceID)
	require.NoError(t, getErr)
	assert.False(t, stored.IsProcessed)
	assert.NotEmpty(t, stored.Error)
	assert.Zero(t, e.count(t, vectorstore.Filter{SourceID: src.SourceID}))
}

func TestAddFileRequiresKnownParent(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.processor.AddFile(context.Background(), Attach{ParentDocID: "missing"}, "a.txt", []byte("text"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = e.processor.AddFile(context.Background(), Attach{}, "a.txt", []byte("text"))
	assert.Error(t, err)
}

func TestAddURL(t *testing.T) {
	e := newEnv(t, stubFetcher{md: "# Q3 update\n\nThe fund added to Evolution."})
	ctx := context.Background()
	docID := e.indexReport(t)

	src, err := e.processor.AddURL(ctx, Attach{ParentDocID: docID}, "https://example.com/news/2024/fund-update-third-quarter-commentary")
	require.NoError(t, err)
	assert.Equal(t, models.SourceURL, src.SourceType)
	assert.Equal(t, "example.com/news/2024/fund-update-third-q...", src.Name)

	results, err := e.index.Fetch(ctx, vectorstore.Filter{SourceID: src.SourceID}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, src.OriginalURL, results[0].Metadata.OriginalURL)
}

func TestAddURLFailure(t *testing.T) {
	e := newEnv(t, stubFetcher{err: errors.New("status 404")})
	docID := e.indexReport(t)
	src, err := e.processor.AddURL(context.Background(), Attach{ParentDocID: docID}, "https://example.com/x")
	require.Error(t, err)
	assert.Equal(t, "status 404", src.Error)

	_, err = newEnv(t, nil).processor.AddURL(context.Background(), Attach{ParentDocID: docID}, "https://example.com")
	assert.Error(t, err)
}

func TestAddTicker(t *testing.T) {
	e := newEnv(t, nil)
	docID := e.indexReport(t)

	src, err := e.processor.AddTicker(context.Background(), Attach{ParentDocID: docID, Temporary: true}, "volvo")
	require.NoError(t, err)
	assert.Equal(t, "VOLV-B.ST", src.Ticker)
	assert.Equal(t, models.SourceStock, src.SourceType)
	assert.Contains(t, src.ContentMD, "kr 245.20")
	assert.Equal(t, []string{"VOLV-B.ST"}, e.quotes.asked)
}

func TestDeleteSessionKeepsPermanentSources(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)

	temp, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, SessionID: "s1", Temporary: true}, "a.txt", []byte("temporary attachment"))
	require.NoError(t, err)
	kept, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, SessionID: "s1", Temporary: true}, "b.txt", []byte("attachment made permanent"))
	require.NoError(t, err)
	require.NoError(t, e.processor.MakePermanent(ctx, kept.SourceID))

	n, err := e.processor.DeleteSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	srcs, err := e.processor.List(ctx, docID, true)
	require.NoError(t, err)
	require.Len(t, srcs, 1)
	assert.Equal(t, kept.SourceID, srcs[0].SourceID)
	assert.Zero(t, e.count(t, vectorstore.Filter{SourceID: temp.SourceID}))
}

func TestCleanupTemporaryRemovesExpired(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	docID := e.indexReport(t)

	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	e.processor.now = func() time.Time { return now.Add(-30 * time.Hour) }
	old, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, Temporary: true}, "old.txt", []byte("stale attachment"))
	require.NoError(t, err)
	_, err = e.processor.AddFile(ctx, Attach{ParentDocID: docID}, "keep.txt", []byte("permanent attachment"))
	require.NoError(t, err)

	e.processor.now = func() time.Time { return now.Add(-time.Hour) }
	fresh, err := e.processor.AddFile(ctx, Attach{ParentDocID: docID, Temporary: true}, "fresh.txt", []byte("fresh attachment"))
	require.NoError(t, err)

	e.processor.now = func() time.Time { return now }
	n, err := e.processor.CleanupTemporary(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.store.Sources().Get(ctx, old.SourceID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = e.store.Sources().Get(ctx, fresh.SourceID)
	assert.NoError(t, err)
}

func TestIndexPathWalksJSONFiles(t *testing.T) {
	e := newEnv(t, nil)
	dir := t.TempDir()
	raw, err := json.Marshal(report())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024", "nordic.json"), raw, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("ignored"), 0o600))

	results, err := e.indexer.IndexPath(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Created)

	doc, err := e.store.Get(context.Background(), results[0].DocID)
	require.NoError(t, err)
	assert.Equal(t, "nordic.pdf", doc.Filename)
	assert.Equal(t, FileHash(raw), doc.FileHash)
}

func TestURLName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://example.com/a", "example.com/a"},
		{"https://example.com", "example.com"},
		{"https://example.com/x12345678901234567890123456789long", "example.com/x1234567890123456789012345678..."},
		{"not a url", "not a url"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, URLName(tt.in), tt.in)
	}
}

func docx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("[Content_Types].xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><Types/>`))
	require.NoError(t, err)
	w, err = zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDOCXText(t *testing.T) {
	data := docx(t, `<w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> letter</w:t></w:r></w:p><w:p></w:p><w:p><w:r><w:t>Fees fell.</w:t></w:r></w:p>`)
	text, err := DOCXText(data)
	require.NoError(t, err)
	assert.Equal(t, "Quarterly letter\n\nFees fell.", text)
	assert.Equal(t, models.SourceDOCX, DetectSourceType("letter.docx", data))

	_, err = DOCXText([]byte("plain"))
	assert.Error(t, err)
}

func TestDetectSourceType(t *testing.T) {
	assert.Equal(t, models.SourcePDF, DetectSourceType("upload.bin", []byte("%PDF-1.4\n%âãÏÓ\n1 0 obj\n")))
	assert.Equal(t, models.SourceCSV, DetectSourceType("w.csv", []byte("a,b\n1,2\n")))
	assert.Equal(t, models.SourceTXT, DetectSourceType("notes.md", []byte("# Notes")))
	assert.Equal(t, models.SourceTXT, DetectSourceType("unknown.xyz", []byte("hello")))
}

func TestCSVToMarkdownEmpty(t *testing.T) {
	md, err := CSVToMarkdown(nil)
	require.NoError(t, err)
	assert.Empty(t, md)
}
