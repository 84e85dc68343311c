package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/userstore"
)

// systemPrompt fixes the assistant's grounding behavior and response
// language for both backends.
const systemPrompt = "You are an AI assistant that answers questions based on the provided context. " +
	"If the context is insufficient, answer based on your knowledge. Respond in English."

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierkb_chat_queries_total",
		Help: "Number of chat queries answered, labeled by backend.",
	}, []string{"backend"})

	backendFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tierkb_chat_backend_failures_total",
		Help: "Number of backend generation failures, labeled by backend.",
	}, []string{"backend"})
)

// Retriever supplies query-relevant context for a user. Satisfied by
// the knowledge service.
type Retriever interface {
	Retrieve(ctx context.Context, user *userstore.User, query string) (string, error)
}

// Service answers queries against the user's accessible knowledge.
type Service struct {
	retriever Retriever
	local     Backend
	remote    Backend
	logger    *zap.Logger
}

// NewService wires the retriever and the two backends.
func NewService(retriever Retriever, local, remote Backend, logger *zap.Logger) (*Service, error) {
	if retriever == nil || local == nil || remote == nil {
		return nil, fmt.Errorf("retriever and both backends are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{retriever: retriever, local: local, remote: remote, logger: logger}, nil
}

func (s *Service) backendFor(kind Kind) Backend {
	if kind == KindRemote {
		return s.remote
	}
	return s.local
}

// Answer produces a grounded answer and the elapsed wall-clock time,
// measured from the start of context retrieval through the end of
// generation and formatted as seconds with two decimals.
//
// Answer never fails: retrieval problems degrade to empty context,
// backend errors and even panics below this boundary come back as a
// descriptive answer string. The caller always receives text and a
// timing value.
func (s *Service) Answer(ctx context.Context, user *userstore.User, query string, history *History, kind Kind) (answer, elapsed string) {
	start := time.Now()
	backend := s.backendFor(kind)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during answer generation",
				zap.String("backend", backend.Name()),
				zap.Any("panic", r),
			)
			backendFailuresTotal.WithLabelValues(backend.Name()).Inc()
			answer = fmt.Sprintf("An error occurred: %v", r)
		}
		elapsed = fmt.Sprintf("%.2f seconds", time.Since(start).Seconds())
	}()

	queriesTotal.WithLabelValues(backend.Name()).Inc()

	contextStr, err := s.retriever.Retrieve(ctx, user, query)
	if err != nil {
		s.logger.Warn("context retrieval failed, answering without context",
			zap.String("username", user.Username),
			zap.Error(err),
		)
		contextStr = ""
	}

	text, err := backend.Generate(ctx, systemPrompt, contextStr, history, query)
	if err != nil {
		s.logger.Error("backend generation failed",
			zap.String("backend", backend.Name()),
			zap.Error(err),
		)
		backendFailuresTotal.WithLabelValues(backend.Name()).Inc()
		answer = fmt.Sprintf("An error occurred while querying the %s backend: %v", backend.Name(), err)
		return
	}

	answer = text
	return
}
