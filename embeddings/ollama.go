package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaEmbedder struct {
	host           string
	model          string
	dimension      int
	queryPrefix    string
	documentPrefix string
	client         *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float64 `json:"embedding"`
	Error     string    `json:"error"`
}

// NewOllamaEmbedder embeds through a local Ollama server. Intent is
// expressed with the configured query/document prefixes, which models such
// as nomic-embed-text expect.
func NewOllamaEmbedder(opts Options) Embedder {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}

	return &ollamaEmbedder{
		host:           host,
		model:          opts.Model,
		dimension:      opts.Dimension,
		queryPrefix:    opts.QueryPrefix,
		documentPrefix: opts.DocumentPrefix,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (e *ollamaEmbedder) Dimension() int { return e.dimension }
func (e *ollamaEmbedder) Model() string  { return e.model }

func (e *ollamaEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return e.embed(ctx, withPrefix(e.documentPrefix, texts))
}

func (e *ollamaEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, withPrefix(e.queryPrefix, []string{text}))
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *ollamaEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))

	url := fmt.Sprintf("%s/api/embeddings", e.host)

	for _, text := range texts {
		reqBody, err := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
		if err != nil {
			return nil, fmt.Errorf("marshal ollama request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("create ollama request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call ollama embeddings API: %v: %w", err, ErrUnavailable)
		}

		if err := ollamaStatusError(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}

		var payload ollamaResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("decode ollama response: %w", err)
		}
		resp.Body.Close()

		if payload.Error != "" {
			return nil, fmt.Errorf("ollama embeddings error: %s: %w", payload.Error, ErrUnavailable)
		}

		vec := make([]float32, len(payload.Embedding))
		for i, value := range payload.Embedding {
			vec[i] = float32(value)
		}

		if err := checkVector("ollama", vec, e.dimension); err != nil {
			return nil, err
		}

		results = append(results, vec)
	}

	return results, nil
}

func ollamaStatusError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("ollama embeddings API: %s: %w", msg, ErrRateLimited)
	case resp.StatusCode >= 500:
		return fmt.Errorf("ollama embeddings API: %s: %w", msg, ErrUnavailable)
	default:
		return fmt.Errorf("ollama embeddings API error: %s", msg)
	}
}
