package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/agent"
	"github.com/fabfab/fundlens/app"
	"github.com/fabfab/fundlens/commentary"
	"github.com/fabfab/fundlens/ingestion"
	"github.com/fabfab/fundlens/logging"
	"github.com/fabfab/fundlens/models"
	"github.com/fabfab/fundlens/search"
	"github.com/fabfab/fundlens/storage"
	"github.com/fabfab/fundlens/vectorstore"
)

//go:embed openapi.yaml
var openAPISpecYAML []byte

const (
	defaultListLimit = 50
	maxBodyBytes     = 64 << 20
)

// Server exposes HTTP handlers for the fundlens workflows.
type Server struct {
	app      *app.App
	logger   *log.Logger
	validate *validator.Validate
	handler  http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	Filename string               `json:"filename" validate:"required"`
	FileHash string               `json:"file_hash"`
	FilePath string               `json:"file_path"`
	Data     models.ExtractedData `json:"data"`
}

type addSourceRequest struct {
	Kind      string `json:"kind" validate:"required,oneof=file url ticker"`
	Filename  string `json:"filename" validate:"required_if=Kind file"`
	Content   []byte `json:"content" validate:"required_if=Kind file"`
	URL       string `json:"url" validate:"required_if=Kind url"`
	Ticker    string `json:"ticker" validate:"required_if=Kind ticker"`
	SessionID string `json:"session_id"`
	Temporary bool   `json:"temporary"`
}

type chatRequest struct {
	SessionID  string `json:"session_id"`
	Message    string `json:"message" validate:"required"`
	DocumentID string `json:"document_id"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	agent.Reply
}

type commentRequest struct {
	DocumentID string                    `json:"document_id" validate:"required"`
	Parameters *models.CommentParameters `json:"parameters"`
	Additional string                    `json:"additional_context"`
}

type exportRequest struct {
	Comment string `json:"comment" validate:"required"`
	Format  string `json:"format"`
}

type searchRequest struct {
	Query      string `json:"query" validate:"required"`
	Skip       int    `json:"skip" validate:"gte=0"`
	Limit      int    `json:"limit" validate:"gte=0,lte=100"`
	DocumentID string `json:"document_id"`
	SourceID   string `json:"source_id"`
	SourceType string `json:"source_type" validate:"omitempty,oneof=primary secondary"`
	ChunkType  string `json:"chunk_type"`
}

type searchHit struct {
	ID       string               `json:"id"`
	Content  string               `json:"content"`
	Metadata vectorstore.Metadata `json:"metadata"`
	Distance float64              `json:"distance"`
}

type searchResponse struct {
	Results  []searchHit `json:"results"`
	HasMore  bool        `json:"has_more"`
	NextSkip int         `json:"next_skip"`
	Text     string      `json:"text"`
}

// New constructs a Server over the services held by a.
func New(a *app.App, logger *log.Logger) *Server {
	s := &Server{
		app:      a,
		logger:   logging.OrDefault(logger),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /openapi.yaml", s.handleOpenAPI)

	mux.HandleFunc("POST /v1/documents", s.handleIngest)
	mux.HandleFunc("GET /v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /v1/documents/{id}/reindex", s.handleReindex)
	mux.HandleFunc("GET /v1/documents/{id}/sources", s.handleListSources)
	mux.HandleFunc("POST /v1/documents/{id}/sources", s.handleAddSource)
	mux.HandleFunc("GET /v1/documents/{id}/comments", s.handleListComments)

	mux.HandleFunc("DELETE /v1/sources/{id}", s.handleDeleteSource)
	mux.HandleFunc("POST /v1/sources/{id}/permanent", s.handlePermanent)

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("DELETE /v1/chat/{session}", s.handleEndSession)

	mux.HandleFunc("POST /v1/comments", s.handleComment)
	mux.HandleFunc("POST /v1/comments/export", s.handleExport)

	mux.HandleFunc("POST /v1/search", s.handleSearch)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(openAPISpecYAML); err != nil {
		s.logger.Error().Err(err).Msg("write openapi spec")
	}
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.app.Indexer.IndexDocument(r.Context(), ingestion.Upload{
		Filename: req.Filename,
		FileHash: req.FileHash,
		FilePath: req.FilePath,
		Data:     req.Data,
	})
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("ingest %s: %w", req.Filename, err))
		return
	}

	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a positive integer"))
			return
		}
		limit = n
	}

	docs, err := s.app.Documents.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("list documents: %w", err))
		return
	}
	// listings stay small; the extraction is served by the single-document route
	for i := range docs {
		docs[i].Extracted = nil
	}
	if docs == nil {
		docs = []models.Document{}
	}
	s.writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	doc, err := s.app.Documents.Get(ctx, id)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if err := s.app.Documents.Touch(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("doc_id", id).Msg("touch document")
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.app.Indexer.DeleteDocument(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("delete document %s: %w", id, err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("deleted document %s and %d chunks", id, n)})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	res, err := s.app.Indexer.Reindex(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("reindex %s: %w", id, err))
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	includeTemp, _ := strconv.ParseBool(r.URL.Query().Get("include_temporary"))

	srcs, err := s.app.Processor.List(r.Context(), id, includeTemp)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("list sources: %w", err))
		return
	}
	if srcs == nil {
		srcs = []models.SecondarySource{}
	}
	s.writeJSON(w, http.StatusOK, srcs)
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if !s.decode(w, r, &req) {
		return
	}

	at := ingestion.Attach{
		ParentDocID: r.PathValue("id"),
		SessionID:   req.SessionID,
		Temporary:   req.Temporary,
	}
	ctx := r.Context()

	var (
		src models.SecondarySource
		err error
	)
	switch req.Kind {
	case "file":
		src, err = s.app.Processor.AddFile(ctx, at, req.Filename, req.Content)
	case "url":
		src, err = s.app.Processor.AddURL(ctx, at, req.URL)
	case "ticker":
		src, err = s.app.Processor.AddTicker(ctx, at, req.Ticker)
	}
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError && src.Error != "" {
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, status, fmt.Errorf("add source: %w", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, src)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.app.Comments.ListByDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("list comments: %w", err))
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	s.writeJSON(w, http.StatusOK, comments)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, err := s.app.Indexer.DeleteSource(r.Context(), id)
	if err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("delete source %s: %w", id, err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("deleted source %s and %d chunks", id, n)})
}

func (s *Server) handlePermanent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.app.Processor.MakePermanent(r.Context(), id); err != nil {
		s.writeError(w, statusFor(err), fmt.Errorf("make source %s permanent: %w", id, err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: "source is now permanent"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("message is required"))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	var opts []agent.RunOption
	if req.DocumentID != "" {
		opts = append(opts, agent.WithDocumentHint(req.DocumentID))
	}

	reply, err := s.app.Agent.Run(r.Context(), req.SessionID, req.Message, opts...)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("chat failed: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Reply: reply})
}

// handleEndSession forgets the conversation and drops the temporary
// sources attached during it.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	ctx := r.Context()

	if err := s.app.Agent.Reset(ctx, session); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	n, err := s.app.Processor.DeleteSession(ctx, session)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("delete session sources: %w", err))
		return
	}
	s.writeJSON(w, http.StatusOK, messageResponse{Message: fmt.Sprintf("session cleared, %d temporary sources removed", n)})
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if !s.decode(w, r, &req) {
		return
	}
	params := models.DefaultCommentParameters()
	if req.Parameters != nil {
		params = *req.Parameters
		if err := s.validate.Struct(params); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid parameters: %w", err))
			return
		}
	}
	params = params.Normalize()
	ctx := r.Context()

	doc, err := s.app.Documents.Get(ctx, req.DocumentID)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	if doc.Extracted == nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("document %s has no extracted data", doc.ID))
		return
	}

	text, err := s.app.Comment.Generate(ctx, *doc.Extracted, params, req.Additional, commentary.ForDocument(doc.ID))
	if err != nil {
		s.writeError(w, http.StatusBadGateway, fmt.Errorf("generate comment: %w", err))
		return
	}

	saved, err := s.app.Comments.Save(ctx, models.Comment{
		DocID:       doc.ID,
		CommentType: params.CommentType,
		Parameters:  params,
		Content:     text,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("save comment: %w", err))
		return
	}
	s.writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if !s.decode(w, r, &req) {
		return
	}
	format := commentary.FormatMarkdown
	if req.Format != "" {
		f, err := commentary.ParseFormat(req.Format)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		format = f
	}

	out, err := commentary.Export(req.Comment, format)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("export comment: %w", err))
		return
	}
	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Content); err != nil {
		s.logger.Error().Err(err).Msg("write export")
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	page, err := s.app.Search.Search(r.Context(), search.Request{
		Query: req.Query,
		Skip:  req.Skip,
		Limit: req.Limit,
		Filter: vectorstore.Filter{
			DocID:      req.DocumentID,
			SourceID:   req.SourceID,
			SourceType: vectorstore.SourceKind(req.SourceType),
			ChunkType:  req.ChunkType,
		},
	})
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}

	hits := make([]searchHit, len(page.Results))
	for i, res := range page.Results {
		hits[i] = searchHit{ID: res.ID, Content: res.Content, Metadata: res.Metadata, Distance: res.Distance}
	}
	s.writeJSON(w, http.StatusOK, searchResponse{
		Results:  hits,
		HasMore:  page.HasMore,
		NextSkip: page.NextSkip,
		Text:     search.Format(page),
	})
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return false
	}
	return true
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	evt := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		evt = s.logger.Error()
	}
	evt.Err(err).Int("status", status).Msg("api error")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
