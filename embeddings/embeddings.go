package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fabfab/fundlens/config"
)

var (
	// ErrMissingCredentials is returned at construction when the selected
	// provider has no API key. It is fatal.
	ErrMissingCredentials = errors.New("embedding provider credentials missing")
	// ErrUnavailable covers network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("embedding provider unavailable")
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("embedding provider rate limited")
	// ErrDimensionMismatch means a vector did not have the configured size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyEmbedding means the provider answered without a usable vector.
	ErrEmptyEmbedding = errors.New("embedding provider returned an empty vector")
)

// Embedder turns text into vectors. Documents and queries share one vector
// space; the split exists for providers that encode intent.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Model() string
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}

type Options struct {
	Provider       string
	Model          string
	Dimension      int
	BatchSize      int
	QueryPrefix    string
	DocumentPrefix string

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Provider:       cfg.Embeddings.Provider,
		Model:          cfg.Embeddings.Model,
		Dimension:      cfg.Embeddings.Dimension,
		BatchSize:      cfg.Embeddings.BatchSize,
		QueryPrefix:    cfg.Embeddings.QueryPrefix,
		DocumentPrefix: cfg.Embeddings.DocumentPrefix,
		OllamaHost:     cfg.OllamaHost,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		OpenAIBaseURL:  cfg.OpenAIBaseURL,
		GeminiAPIKey:   cfg.GeminiAPIKey,
	}
}

// NewEmbedder builds the configured provider and wraps it in a rate
// limiter. Missing credentials fail here rather than on first use.
func NewEmbedder(ctx context.Context, cfg config.Config) (Embedder, error) {
	opts := OptionsFromConfig(cfg)

	var (
		embedder Embedder
		err      error
	)
	switch opts.Provider {
	case config.ProviderOllama:
		embedder = NewOllamaEmbedder(opts)
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set: %w", ErrMissingCredentials)
		}
		embedder = NewOpenAIEmbedder(opts)
	case config.ProviderGemini:
		if opts.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider selected but GEMINI_API_KEY not set: %w", ErrMissingCredentials)
		}
		embedder, err = NewGeminiEmbedder(ctx, opts)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}

	return RateLimited(embedder, cfg.Embeddings.RequestsPerSec), nil
}

// checkVector rejects vectors that would silently poison the index.
func checkVector(provider string, vec []float32, dimension int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%s: %w", provider, ErrEmptyEmbedding)
	}
	if dimension > 0 && len(vec) != dimension {
		return fmt.Errorf("%s: expected %d, got %d: %w", provider, dimension, len(vec), ErrDimensionMismatch)
	}
	for _, v := range vec {
		if v != 0 {
			return nil
		}
	}
	return fmt.Errorf("%s returned a zero vector: %w", provider, ErrEmptyEmbedding)
}

func batches(texts []string, size int) [][]string {
	if size <= 0 {
		size = len(texts)
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}

func withPrefix(prefix string, texts []string) []string {
	if prefix == "" {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}
