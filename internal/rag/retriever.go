package rag

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/embeddings"

	"regulation-rag/internal/models"
	"regulation-rag/internal/vectordb"
)

// Retriever embeds a question and returns the most similar chunks
type Retriever struct {
	rt       *Runtime
	embedder embeddings.Embedder
}

func NewRetriever(rt *Runtime, embedder embeddings.Embedder) *Retriever {
	return &Retriever{rt: rt, embedder: embedder}
}

// Search returns up to topK hits, best first. An empty collection yields an
// empty slice.
func (r *Retriever) Search(ctx context.Context, query string, topK int) ([]models.Hit, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top k must be positive, got %d", topK)
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, tag(models.ErrEmbedding, fmt.Errorf("failed to embed query: %w", err))
	}

	results, err := r.rt.Index.Search(ctx, r.rt.Collection, vectordb.SearchRequest{
		Vector:       vector,
		VectorField:  r.rt.VectorField,
		Metric:       r.rt.Metric,
		Params:       r.rt.SearchParams,
		TopK:         topK,
		OutputFields: r.rt.OutputFields(),
	})
	if err != nil {
		return nil, tag(models.ErrIndex, err)
	}

	hits := make([]models.Hit, 0, len(results))
	for _, res := range results {
		hit := models.Hit{
			Text:  res.Fields[r.rt.TextField],
			Score: res.Score,
		}
		if r.rt.Caps.HasSource {
			hit.Source = strings.TrimSpace(res.Fields[vectordb.FieldSource])
		}
		if r.rt.Caps.HasHeader {
			hit.Header = strings.TrimSpace(res.Fields[vectordb.FieldHeader])
		}
		hits = append(hits, hit)
	}
	slices.SortStableFunc(hits, func(a, b models.Hit) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return hits, nil
}

// tag marks err with sentinel unless it already carries it
func tag(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}
