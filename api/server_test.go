package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/fundlens/agent"
	"github.com/fabfab/fundlens/app"
	"github.com/fabfab/fundlens/commentary"
	"github.com/fabfab/fundlens/config"
	"github.com/fabfab/fundlens/embeddings/embeddingstest"
	"github.com/fabfab/fundlens/ingestion"
	"github.com/fabfab/fundlens/knowledge"
	"github.com/fabfab/fundlens/llm/llmtest"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/memory"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/search"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/tools"
	"github.com/fabfab/fundlens/vectorstore"
)

type stubPage struct{ md string }

func (s stubPage) Markdown(context.Context, string) (string, error) { return s.md, nil }

var _ ingestion.PageFetcher = stubPage{}

func newTestServer(t *testing.T, client *llmtest.Scripted) (*Server, *app.App) {
	t.Helper()
	logger := logging.Discard()
	store := storage.NewMemory()
	index := vectorstore.New(vectorstore.NewMemoryBackend(), embeddingstest.New(32), logger)

	a := &app.App{
		Config:    config.Default(),
		Logger:    logger,
		Documents: store,
		Sources:   store.Sources(),
		Comments:  store.Comments(),
		Index:     index,
		Search:    search.New(index),
		Graph:     knowledge.Noop{},
		Memory:    memory.NewInMemory(),
		LLM:       client,
	}
	a.Tools = tools.NewRegistry(logger)
	require.NoError(t, tools.Register(a.Tools, tools.Deps{Index: index, Documents: store, Graph: a.Graph}))
	a.Agent = agent.New(client, a.Tools, a.Memory, agent.Config{MaxIterations: 4}, logger)
	a.Comment = commentary.New(client, a.Agent, logger)
	a.Indexer = ingestion.NewIndexer(store, store.Sources(), index, a.Graph, nil, logger)
	a.Processor = ingestion.NewProcessor(a.Indexer, store.Sources(), stubPage{md: "# Fund news\n\nThe manager raised the cash level."}, nil, nil, logger)

	return New(a, logger), a
}

func report() models.ExtractedData {
	return models.ExtractedData{
		FundName:     "Nordic Growth Fund",
		ReportPeriod: "2024",
		Currency:     "SEK",
		PageCount:    12,
		Performance:  &models.Performance{FundReturn: models.Float(5.2), BenchmarkReturn: models.Float(4.1)},
		Markdown:     "# Nordic Growth Fund\n\n## Performance\n\nThe fund returned 5.2% in 2024 against 4.1% for the benchmark.\n",
	}
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func ingest(t *testing.T, s *Server) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/v1/documents", map[string]any{
		"filename":  "nordic_2024.pdf",
		"file_hash": "abcdef0123456789",
		"data":      report(),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res ingestion.IndexResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Created)
	return res.DocID
}

func TestHealthAndOpenAPI(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})

	rec := do(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/v1/documents/{id}/sources")
}

func TestIngestListAndGet(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})
	id := ingest(t, s)
	assert.Equal(t, "nordic_2024_abcdef01", id)

	// the same file hash is not indexed twice
	rec := do(t, s, http.MethodPost, "/v1/documents", map[string]any{
		"filename": "copy.pdf", "file_hash": "abcdef0123456789", "data": report(),
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/documents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var docs []models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 1)
	assert.Nil(t, docs[0].Extracted)

	rec = do(t, s, http.MethodGet, "/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var doc models.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "Nordic Growth Fund", doc.FundName)
	require.NotNil(t, doc.Extracted)

	rec = do(t, s, http.MethodGet, "/v1/documents/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})

	rec := do(t, s, http.MethodPost, "/v1/documents", map[string]any{"data": report()})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents", map[string]any{"filename": "a.pdf", "unknown": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPut, "/v1/documents", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSourcesLifecycle(t *testing.T) {
	s, a := newTestServer(t, &llmtest.Scripted{})
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/documents/"+id+"/sources", map[string]any{
		"kind":     "file",
		"filename": "flows.csv",
		"content":  []byte("month,inflow\nJan,120\nFeb,95\n"),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var file models.SecondarySource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &file))
	assert.Equal(t, models.SourceCSV, file.SourceType)
	assert.Positive(t, file.ChunkCount)

	rec = do(t, s, http.MethodPost, "/v1/documents/"+id+"/sources", map[string]any{
		"kind": "url", "url": "https://example.com/news", "session_id": "s1", "temporary": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var page models.SecondarySource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))

	rec = do(t, s, http.MethodGet, "/v1/documents/"+id+"/sources", nil)
	var listed []models.SecondarySource
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = do(t, s, http.MethodGet, "/v1/documents/"+id+"/sources?include_temporary=true", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 2)

	rec = do(t, s, http.MethodDelete, "/v1/sources/"+file.SourceID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	n, err := a.Index.Count(context.Background(), vectorstore.Filter{SourceID: file.SourceID})
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = do(t, s, http.MethodPost, "/v1/sources/"+page.SourceID+"/permanent", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// ending the session keeps sources that were made permanent
	rec = do(t, s, http.MethodDelete, "/v1/chat/s1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err = a.Sources.Get(context.Background(), page.SourceID)
	assert.NoError(t, err)
}

func TestAddSourceErrors(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/documents/"+id+"/sources", map[string]any{"kind": "url"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents/"+id+"/sources", map[string]any{"kind": "fax"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/documents/nope/sources", map[string]any{
		"kind": "file", "filename": "notes.txt", "content": []byte("Cash level raised."),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAndReindexDocument(t *testing.T) {
	s, a := newTestServer(t, &llmtest.Scripted{})
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/documents/"+id+"/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/documents/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	n, err := a.Index.Count(context.Background(), vectorstore.Filter{DocID: id})
	require.NoError(t, err)
	assert.Zero(t, n)

	rec = do(t, s, http.MethodDelete, "/v1/documents/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatRunsAgentTurn(t *testing.T) {
	client := &llmtest.Scripted{Steps: []llmtest.Step{
		llmtest.ToolCall("c1", "search_documents", map[string]any{"query": "fund return"}),
		llmtest.Text("The fund returned 5.2% in 2024."),
	}}
	s, a := newTestServer(t, client)
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/chat", map[string]any{"message": "How did the fund do?", "document_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		SessionID string       `json:"session_id"`
		Answer    string       `json:"answer"`
		Steps     []agent.Step `json:"steps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "The fund returned 5.2% in 2024.", resp.Answer)
	require.Len(t, resp.Steps, 1)
	assert.Contains(t, resp.Steps[0].Observation, "returned 5.2%")

	// question, tool call, observation, answer
	history, err := a.Agent.History(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	rec = do(t, s, http.MethodPost, "/v1/chat", map[string]any{"message": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommentGeneratedAndSaved(t *testing.T) {
	client := &llmtest.Scripted{Steps: []llmtest.Step{
		llmtest.Text("The fund returned 5.2% in 2024, ahead of the benchmark at 4.1%."),
	}}
	s, _ := newTestServer(t, client)
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/comments", map[string]any{
		"document_id": id,
		"parameters":  map[string]any{"comment_type": "performance_summary", "tone": "technical"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var saved models.Comment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &saved))
	assert.Equal(t, models.CommentPerformance, saved.CommentType)
	assert.Equal(t, models.LengthMedium, saved.Parameters.Length)
	assert.Contains(t, saved.Content, "5.2%")

	rec = do(t, s, http.MethodGet, "/v1/documents/"+id+"/comments", nil)
	var history []models.Comment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)

	rec = do(t, s, http.MethodPost, "/v1/comments", map[string]any{
		"document_id": id,
		"parameters":  map[string]any{"tone": "poetic"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/v1/comments", map[string]any{"document_id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportComment(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})

	rec := do(t, s, http.MethodPost, "/v1/comments/export", map[string]any{"comment": "**Strong** year.", "format": "html"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".html")
	assert.Contains(t, rec.Body.String(), "<strong>Strong</strong>")

	rec = do(t, s, http.MethodPost, "/v1/comments/export", map[string]any{"comment": "x", "format": "docx"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchPaginates(t *testing.T) {
	s, _ := newTestServer(t, &llmtest.Scripted{})
	id := ingest(t, s)

	rec := do(t, s, http.MethodPost, "/v1/search", map[string]any{"query": "fund return", "limit": 1, "document_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.True(t, resp.HasMore)
	assert.Equal(t, 1, resp.NextSkip)
	assert.True(t, strings.Contains(resp.Text, "skip=1"))

	rec = do(t, s, http.MethodPost, "/v1/search", map[string]any{"query": "fund return", "skip": 50})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
	assert.False(t, resp.HasMore)
	assert.Contains(t, resp.Text, "No more results")
}
