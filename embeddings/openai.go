package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
	batchSize int
}

// NewOpenAIEmbedder embeds through the OpenAI API or a compatible endpoint.
// The API has no notion of query versus document intent.
func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = 64
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
		batchSize: batch,
	}
}

func (e *openAIEmbedder) Dimension() int { return e.dimension }
func (e *openAIEmbedder) Model() string  { return e.model }

func (e *openAIEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for _, batch := range batches(texts, e.batchSize) {
		vecs, err := e.embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *openAIEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *openAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	// only the v3 models accept a reduced dimension
	if strings.HasPrefix(e.model, "text-embedding-3") && e.dimension > 0 {
		req.Dimensions = e.dimension
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", classifyOpenAI(err))
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs: %w", len(resp.Data), len(texts), ErrEmptyEmbedding)
	}

	results := make([][]float32, len(resp.Data))
	for _, datum := range resp.Data {
		if datum.Index < 0 || datum.Index >= len(results) {
			return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
		}
		if err := checkVector("openai", datum.Embedding, e.dimension); err != nil {
			return nil, err
		}
		results[datum.Index] = datum.Embedding
	}

	return results, nil
}

func classifyOpenAI(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	}

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%v: %w", err, ErrRateLimited)
	case status >= 500:
		return fmt.Errorf("%v: %w", err, ErrUnavailable)
	default:
		return err
	}
}
