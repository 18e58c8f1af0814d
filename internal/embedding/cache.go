package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// RedisCache memoizes query embeddings in Redis. Document embeddings pass
// straight through. Cache failures are logged and never fail a query.
type RedisCache struct {
	embedder embeddings.Embedder
	client   *redis.Client
	model    string
	prefix   string
	ttl      time.Duration
}

var _ embeddings.Embedder = (*RedisCache)(nil)

func NewRedisCache(embedder embeddings.Embedder, client *redis.Client, model, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{embedder: embedder, client: client, model: model, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + c.model + ":" + hex.EncodeToString(sum[:])
}

func (c *RedisCache) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float32
		if jerr := json.Unmarshal(data, &vec); jerr == nil {
			return vec, nil
		}
		log.Warn().Str("key", key).Msg("Discarding corrupt cached embedding")
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Msg("Embedding cache read failed")
	}

	vec, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(vec); err == nil {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Embedding cache write failed")
		}
	}
	return vec, nil
}

func (c *RedisCache) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embedder.EmbedDocuments(ctx, texts)
}
