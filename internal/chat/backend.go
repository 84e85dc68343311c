// Package chat produces grounded answers from retrieved context,
// conversation history and a query, via interchangeable language
// model backends.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Kind selects an answer backend per request.
type Kind string

const (
	// KindLocal is the locally hosted model (Ollama).
	KindLocal Kind = "local"
	// KindRemote is the hosted DeepSeek API.
	KindRemote Kind = "remote"
)

// ErrUnknownBackend is returned for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown backend")

// ParseKind resolves a request's backend parameter. Empty selects the
// local backend.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "local", "ollama":
		return KindLocal, nil
	case "remote", "deepseek":
		return KindRemote, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBackend, s)
	}
}

// Backend generates an answer from the assembled prompt inputs. Both
// variants receive the same system instruction, retrieved context
// (possibly empty), serialized history and query.
type Backend interface {
	Name() string
	Generate(ctx context.Context, systemPrompt, contextStr string, history *History, query string) (string, error)
}

// buildMessages assembles the chat messages both backends send: the
// grounding instruction, the retrieved context when present, the
// conversation so far, and the current question.
func buildMessages(systemPrompt, contextStr string, history *History, query string) []llms.MessageContent {
	msgs := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
	}
	if contextStr != "" {
		msgs = append(msgs, llms.TextParts(schema.ChatMessageTypeSystem,
			"Context information:\n"+contextStr))
	}
	if history != nil {
		for _, e := range history.Entries() {
			msgs = append(msgs,
				llms.TextParts(schema.ChatMessageTypeHuman, e.Query),
				llms.TextParts(schema.ChatMessageTypeAI, e.Answer),
			)
		}
	}
	return append(msgs, llms.TextParts(schema.ChatMessageTypeHuman, query))
}

// firstChoice extracts the generated text from a content response.
func firstChoice(resp *llms.ContentResponse) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
