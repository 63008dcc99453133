// Package embeddingstest provides a deterministic embedder for tests.
package embeddingstest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/fabfab/fundlens/embeddings"
)

// Fake embeds text as a normalised bag of hashed words, so texts sharing
// words land close together. Err, when set, is returned by every call.
type Fake struct {
	Dim int
	Err error

	mu      sync.Mutex
	Queries int
	Docs    int
}

func New(dim int) *Fake {
	return &Fake{Dim: dim}
}

var _ embeddings.Embedder = (*Fake)(nil)

func (f *Fake) Dimension() int { return f.Dim }
func (f *Fake) Model() string  { return "fake-bag-of-words" }

func (f *Fake) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.Docs += len(texts)
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vector(t)
	}
	return out, nil
}

func (f *Fake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.Queries++
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.vector(text), nil
}

func (f *Fake) vector(text string) []float32 {
	dim := f.Dim
	if dim <= 1 {
		dim = 32
	}
	vec := make([]float32, dim)
	// constant component keeps empty texts off the origin
	vec[0] = 0.1
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[1+int(h.Sum32()%uint32(dim-1))] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
