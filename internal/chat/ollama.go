package chat

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaConfig holds the local backend settings.
type OllamaConfig struct {
	// BaseURL is the Ollama server address.
	BaseURL string
	// Model is the chat model identifier.
	Model string
}

// OllamaBackend answers via a locally hosted model.
type OllamaBackend struct {
	llm *ollama.LLM
}

// NewOllamaBackend creates the local backend.
func NewOllamaBackend(cfg OllamaConfig) (*OllamaBackend, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return &OllamaBackend{llm: llm}, nil
}

// Name implements Backend.
func (b *OllamaBackend) Name() string { return "ollama" }

// Generate implements Backend.
func (b *OllamaBackend) Generate(ctx context.Context, systemPrompt, contextStr string, history *History, query string) (string, error) {
	resp, err := b.llm.GenerateContent(ctx,
		buildMessages(systemPrompt, contextStr, history, query),
		llms.WithTemperature(0.7),
	)
	if err != nil {
		return "", fmt.Errorf("generating with ollama: %w", err)
	}
	return firstChoice(resp)
}
