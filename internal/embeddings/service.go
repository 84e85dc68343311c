// Package embeddings generates vector embeddings via a local Ollama
// server, wrapped through langchaingo's embedder abstraction.
//
// Embeddings are deterministic for identical text and model
// configuration, which the knowledge cache relies on when it rebuilds
// an index for the same document set.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds the embedding model settings.
type Config struct {
	// BaseURL is the Ollama server address, e.g. http://localhost:11434.
	BaseURL string

	// Model is the embedding model identifier, e.g. llama3.
	Model string
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// Service generates embeddings. It satisfies the vector store's
// Embedder contract.
type Service struct {
	embedder *lcembeddings.EmbedderImpl
	config   Config
}

// NewService creates an embedding service backed by Ollama.
func NewService(config Config) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	llm, err := ollama.New(
		ollama.WithServerURL(config.BaseURL),
		ollama.WithModel(config.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Service{embedder: embedder, config: config}, nil
}

// EmbedDocuments generates one embedding per input text.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vector, nil
}
