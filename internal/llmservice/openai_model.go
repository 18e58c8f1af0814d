package llmservice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"

	"regulation-rag/internal/config"
	"regulation-rag/internal/helper"
)

// OpenAIModel is an llms.Model backed by the go-openai chat completions client
type OpenAIModel struct {
	client *openai.Client
	model  string
}

var _ llms.Model = (*OpenAIModel)(nil)

func NewOpenAIModel(llmConfig *config.LLMConfig) *OpenAIModel {
	cfg := openai.DefaultConfig(strings.TrimPrefix(llmConfig.Key, "Bearer "))
	if llmConfig.BaseURL != "" {
		cfg.BaseURL = llmConfig.BaseURL
	}
	return &OpenAIModel{client: openai.NewClientWithConfig(cfg), model: llmConfig.Model}
}

func (m *OpenAIModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, opt := range options {
		opt(&opts)
	}

	req := openai.ChatCompletionRequest{
		Model:     m.model,
		MaxTokens: opts.MaxTokens,
		// a zero temperature is dropped by omitempty
		Temperature: float32(opts.Temperature),
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if req.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}

	for _, mc := range messages {
		role, err := chatRole(mc.Role)
		if err != nil {
			return nil, err
		}
		var text strings.Builder
		for _, part := range mc.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: role, Content: text.String()})
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	out := &llms.ContentResponse{}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"PromptTokens":     resp.Usage.PromptTokens,
				"CompletionTokens": resp.Usage.CompletionTokens,
			},
		})
	}
	return out, nil
}

func (m *OpenAIModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func chatRole(t llms.ChatMessageType) (string, error) {
	switch t {
	case llms.ChatMessageTypeSystem:
		return openai.ChatMessageRoleSystem, nil
	case llms.ChatMessageTypeHuman, llms.ChatMessageTypeGeneric:
		return openai.ChatMessageRoleUser, nil
	case llms.ChatMessageTypeAI:
		return openai.ChatMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %s", llms.ErrUnexpectedChatMessageType, t)
	}
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	code := 0
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
