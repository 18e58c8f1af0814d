package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"regulation-rag/internal/config"
	"regulation-rag/internal/helper"
	"regulation-rag/internal/models"
)

var errEmptyCompletion = errors.New("model returned no choices")

// call llm
func GenerateContent(ctx context.Context, llm llms.Model, messages []llms.MessageContent, opts ...llms.CallOption) (string, error) {
	resp, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errEmptyCompletion
	}
	return resp.Choices[0].Content, nil
}

// NewModel returns the chat model for the configured provider
func NewModel(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("base_url", llmConfig.BaseURL).Str("model", llmConfig.Model).Msg("Creating chat model")

	switch llmConfig.Provider {
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(llmConfig.Model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama model: %w", err)
		}
		return llm, nil
	case config.ProviderOpenRouter:
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(llmConfig.Model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai-compatible model: %w", err)
		}
		return llm, nil
	case config.ProviderOpenAI, "":
		return NewOpenAIModel(llmConfig), nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", llmConfig.Provider)
	}
}

// Completer turns a system prompt and a conversation into one deterministic
// answer, retrying transient provider failures.
type Completer struct {
	model   llms.Model
	policy  helper.RetryPolicy
	limiter *helper.Limiter
}

func NewCompleter(model llms.Model, policy helper.RetryPolicy, limiter *helper.Limiter) *Completer {
	return &Completer{model: model, policy: policy, limiter: limiter}
}

// New builds a Completer from the inference and resilience config sections
func New(llmConfig *config.LLMConfig, res config.ResilienceConfig) (*Completer, error) {
	model, err := NewModel(llmConfig)
	if err != nil {
		return nil, err
	}
	return NewCompleter(model, helper.NewRetryPolicy(res), helper.NewLimiter(res.RequestsPerSecond, res.Burst)), nil
}

// Complete sends system first, then turns in order, at temperature 0
func (c *Completer) Complete(ctx context.Context, system string, turns []models.Turn) (string, error) {
	messages := make([]llms.MessageContent, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, t := range turns {
		messages = append(messages, llms.TextParts(messageType(t.Role), t.Content))
	}

	answer, err := helper.Retry(ctx, c.policy, "generate", c.limiter, func(ctx context.Context) (string, error) {
		return GenerateContent(ctx, c.model, messages, llms.WithTemperature(0))
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGeneration, err)
	}
	return strings.TrimSpace(answer), nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
