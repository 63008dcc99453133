package embeddings

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type geminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	batchSize int
}

// NewGeminiEmbedder embeds with the Gemini API, which encodes intent
// through retrieval task types.
func NewGeminiEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	batch := opts.BatchSize
	if batch <= 0 || batch > 100 {
		batch = 100
	}

	return &geminiEmbedder{
		client:    client,
		model:     model,
		dimension: opts.Dimension,
		batchSize: batch,
	}, nil
}

func (e *geminiEmbedder) Dimension() int { return e.dimension }
func (e *geminiEmbedder) Model() string  { return e.model }

func (e *geminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.batchSize) {
		vecs, err := e.embed(ctx, batch, taskRetrievalDocument)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *geminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *geminiEmbedder) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	cfg := &genai.EmbedContentConfig{TaskType: task}
	if e.dimension > 0 {
		dim := int32(e.dimension)
		cfg.OutputDimensionality = &dim
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini embed content: %w", classifyGemini(err))
	}
	if result == nil || len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini returned an incomplete embedding batch: %w", ErrEmptyEmbedding)
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("gemini embedding %d missing: %w", i, ErrEmptyEmbedding)
		}
		if err := checkVector("gemini", emb.Values, e.dimension); err != nil {
			return nil, err
		}
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// classifyGemini maps API failures by message, since the SDK reports quota
// exhaustion only through the status text.
func classifyGemini(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota"):
		return fmt.Errorf("%v: %w", err, ErrRateLimited)
	case strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "500") || strings.Contains(msg, "503") ||
		strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "connection refused"):
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	default:
		return err
	}
}
