package chat

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// NotConfiguredMessage is returned as the answer when the remote
// backend is requested without a configured API key. No network call
// is attempted in that case.
const NotConfiguredMessage = "DeepSeek API key not configured"

// DeepSeekConfig holds the remote backend settings. An empty APIKey
// leaves the backend unconfigured.
type DeepSeekConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// DeepSeekBackend answers via DeepSeek's hosted, OpenAI-compatible API.
type DeepSeekBackend struct {
	llm *openai.LLM
}

// NewDeepSeekBackend creates the remote backend. With an empty API key
// no client is built and Generate answers with NotConfiguredMessage.
func NewDeepSeekBackend(cfg DeepSeekConfig) (*DeepSeekBackend, error) {
	if cfg.APIKey == "" {
		return &DeepSeekBackend{}, nil
	}
	llm, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating deepseek client: %w", err)
	}
	return &DeepSeekBackend{llm: llm}, nil
}

// Name implements Backend.
func (b *DeepSeekBackend) Name() string { return "deepseek" }

// Configured reports whether an API key was provided.
func (b *DeepSeekBackend) Configured() bool { return b.llm != nil }

// Generate implements Backend.
func (b *DeepSeekBackend) Generate(ctx context.Context, systemPrompt, contextStr string, history *History, query string) (string, error) {
	if b.llm == nil {
		return NotConfiguredMessage, nil
	}
	resp, err := b.llm.GenerateContent(ctx,
		buildMessages(systemPrompt, contextStr, history, query),
		llms.WithTemperature(0.7),
		llms.WithMaxTokens(2000),
	)
	if err != nil {
		return "", fmt.Errorf("generating with deepseek: %w", err)
	}
	return firstChoice(resp)
}
