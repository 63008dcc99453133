package embeddings

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"
)

type rateLimited struct {
	Embedder
	limiter *rate.Limiter
}

// RateLimited spaces provider calls to at most perSecond. A non-positive
// rate disables limiting.
func RateLimited(e Embedder, perSecond float64) Embedder {
	if perSecond <= 0 {
		return e
	}
	burst := int(math.Ceil(perSecond))
	return &rateLimited{
		Embedder: e,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *rateLimited) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for embedding rate limit: %w", err)
	}
	return r.Embedder.EmbedDocuments(ctx, texts)
}

func (r *rateLimited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for embedding rate limit: %w", err)
	}
	return r.Embedder.EmbedQuery(ctx, text)
}
