package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"regulation-rag/internal/config"
	"regulation-rag/internal/helper"
)

// OpenAIClient creates embeddings with the official OpenAI API
type OpenAIClient struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

func NewOpenAIClient(llmConfig *config.LLMConfig) *OpenAIClient {
	cfg := openai.DefaultConfig(strings.TrimPrefix(llmConfig.Key, "Bearer "))
	if llmConfig.BaseURL != "" {
		cfg.BaseURL = llmConfig.BaseURL
	}

	c := &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  openai.EmbeddingModel(llmConfig.Model),
	}
	// only the text-embedding-3 family accepts a dimensions parameter
	if strings.HasPrefix(llmConfig.Model, "text-embedding-3") {
		c.dimensions = llmConfig.Dimension
	}
	return c
}

func (c *OpenAIClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// classifyOpenAIError marks client errors other than rate limiting as permanent
func classifyOpenAIError(err error) error {
	var code int
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	if helper.IsPermanentStatus(code) {
		return helper.Permanent(err)
	}
	return err
}

