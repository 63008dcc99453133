package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/phuslu/log"

	"github.com/fabfab/fundlens/logging"
)

// Cache persists vectors keyed by model, intent and text hash so
// re-indexing unchanged content costs no provider calls.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

func OpenCache(dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Cache{db: db, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) get(key []byte) ([]float32, bool, error) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			vec = decodeVector(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return vec, len(vec) > 0, nil
}

func (c *Cache) put(key []byte, vec []float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, encodeVector(vec))
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

type cached struct {
	Embedder
	cache  *Cache
	logger *log.Logger
}

// Cached serves repeated texts from cache. Cache failures degrade to
// provider calls and are only logged.
func Cached(e Embedder, cache *Cache, logger *log.Logger) Embedder {
	if cache == nil {
		return e
	}
	return &cached{Embedder: e, cache: cache, logger: logging.OrDefault(logger)}
}

func (c *cached) key(intent, text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte(fmt.Sprintf("emb:%s:%d:%s:%s", c.Model(), c.Dimension(), intent, hex.EncodeToString(sum[:])))
}

func (c *cached) lookup(key []byte) ([]float32, bool) {
	vec, ok, err := c.cache.get(key)
	if err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache read failed")
		return nil, false
	}
	return vec, ok
}

func (c *cached) store(key []byte, vec []float32) {
	if err := c.cache.put(key, vec); err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache write failed")
	}
}

func (c *cached) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var (
		missing []string
		slots   []int
	)
	for i, text := range texts {
		if vec, ok := c.lookup(c.key("doc", text)); ok {
			results[i] = vec
			continue
		}
		missing = append(missing, text)
		slots = append(slots, i)
	}

	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := c.Embedder.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts: %w", len(vecs), len(missing), ErrEmptyEmbedding)
	}
	for j, vec := range vecs {
		results[slots[j]] = vec
		c.store(c.key("doc", missing[j]), vec)
	}

	c.logger.Debug().Int("hits", len(texts)-len(missing)).Int("misses", len(missing)).Msg("embedding cache")
	return results, nil
}

func (c *cached) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key("query", text)
	if vec, ok := c.lookup(key); ok {
		return vec, nil
	}
	vec, err := c.Embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	return vec, nil
}
