package embedding

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"regulation-rag/internal/config"
	"regulation-rag/internal/helper"
)

// New builds the embedder used by ingestion and retrieval: the provider
// client wrapped with retries and rate limiting, batched by langchaingo, and
// fronted by a Redis query cache when cache is not nil.
func New(cfg *config.Config, cache *redis.Client) (embeddings.Embedder, error) {
	client, err := NewClient(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}

	resilient := NewResilientClient(
		client,
		helper.NewRetryPolicy(cfg.Resilience),
		helper.NewLimiter(cfg.Resilience.RequestsPerSecond, cfg.Resilience.Burst),
		cfg.EmbedLLM.Dimension,
	)

	embedder, err := embeddings.NewEmbedder(resilient, embeddings.WithBatchSize(cfg.RAG.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if cache == nil {
		return embedder, nil
	}
	return NewRedisCache(embedder, cache, cfg.EmbedLLM.Model, cfg.Cache.Prefix, cfg.Cache.TTL), nil
}

// NewClient returns the raw provider client for the configured provider
func NewClient(llmConfig *config.LLMConfig) (embeddings.EmbedderClient, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating embedding client")

	switch llmConfig.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(llmConfig)
	case config.ProviderOpenRouter:
		return NewOpenRouterClient(llmConfig)
	case config.ProviderOpenAI, "":
		return NewOpenAIClient(llmConfig), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", llmConfig.Provider)
	}
}

// NewOpenRouterClient talks to any OpenAI-compatible endpoint through langchaingo
func NewOpenRouterClient(llmConfig *config.LLMConfig) (*openai.LLM, error) {
	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithModel(llmConfig.Model),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai-compatible client: %w", err)
	}
	return llm, nil
}

func NewOllamaClient(llmConfig *config.LLMConfig) (*ollama.LLM, error) {
	opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
	if llmConfig.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
	}
	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return llm, nil
}

func NewRedisClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}
