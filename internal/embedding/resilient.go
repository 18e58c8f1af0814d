package embedding

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"

	"regulation-rag/internal/helper"
	"regulation-rag/internal/models"
)

// ResilientClient retries a provider client with backoff, throttles it and
// checks that every vector has the configured dimension.
type ResilientClient struct {
	client  embeddings.EmbedderClient
	policy  helper.RetryPolicy
	limiter *helper.Limiter
	dim     int
}

// NewResilientClient wraps client. dim <= 0 disables the dimension check.
func NewResilientClient(client embeddings.EmbedderClient, policy helper.RetryPolicy, limiter *helper.Limiter, dim int) *ResilientClient {
	return &ResilientClient{client: client, policy: policy, limiter: limiter, dim: dim}
}

func (r *ResilientClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := helper.Retry(ctx, r.policy, "embed", r.limiter, func(ctx context.Context) ([][]float32, error) {
		return r.client.CreateEmbedding(ctx, texts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", models.ErrEmbedding, len(texts), len(vectors))
	}
	if r.dim > 0 {
		for i, v := range vectors {
			if len(v) != r.dim {
				return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", models.ErrEmbedding, i, len(v), r.dim)
			}
		}
	}
	return vectors, nil
}
