// Package knowledge owns the knowledge base lifecycle: deciding when
// the vector index must be rebuilt versus reused, keyed by the
// requesting user's identity and access tier.
//
// The cache has two states, stale and fresh. It starts stale and
// becomes fresh when a rebuild records the (user, tier) key it was
// built for. Staleness is detected lazily: the next call whose key
// differs from the recorded one triggers a rebuild, and Invalidate
// clears the key so the next call rebuilds regardless (the upload path
// relies on this so an uploader's own next query never sees a stale
// index).
//
// All operations serialize behind one mutex: a rebuild in progress is
// never observed half-built by a concurrent retrieval. That trades
// head-of-line blocking across users for simplicity, which fits the
// corpus sizes this serves; building into a fresh collection and
// swapping a pointer is the upgrade path if concurrent load matters.
package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/chunk"
	"github.com/fyrsmithlabs/tierkb/internal/docstore"
	"github.com/fyrsmithlabs/tierkb/internal/ingest"
	"github.com/fyrsmithlabs/tierkb/internal/userstore"
	"github.com/fyrsmithlabs/tierkb/internal/vectorstore"
)

var tracer = otel.Tracer("tierkb.knowledge")

var rebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tierkb_knowledge_rebuilds_total",
	Help: "Number of vector index rebuilds performed.",
})

// Key identifies the accessible set the index was last built for.
type Key struct {
	Username string
	Tier     string
}

// Config holds retrieval pipeline settings.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Service coordinates listing, ingestion, chunking and index builds.
type Service struct {
	cfg    Config
	docs   *docstore.Store
	loader *ingest.Loader
	store  *vectorstore.Store
	logger *zap.Logger

	mu       sync.Mutex
	last     *Key
	rebuilds int64
}

// New creates the knowledge service. The cache starts stale.
func New(cfg Config, docs *docstore.Store, loader *ingest.Loader, store *vectorstore.Store, logger *zap.Logger) (*Service, error) {
	if docs == nil || loader == nil || store == nil {
		return nil, fmt.Errorf("docstore, loader and vector store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// Surface a bad window configuration at startup rather than on the
	// first query.
	if _, err := chunk.Split(nil, cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, docs: docs, loader: loader, store: store, logger: logger}, nil
}

// EnsureFresh rebuilds the index if it was last built for a different
// (user, tier) key, and is a no-op otherwise. Idempotent: consecutive
// calls for the same user with no intervening Invalidate perform at
// most one rebuild.
func (s *Service) EnsureFresh(ctx context.Context, user *userstore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureFreshLocked(ctx, user)
}

func (s *Service) ensureFreshLocked(ctx context.Context, user *userstore.User) error {
	key := Key{Username: user.Username, Tier: user.AccessLevel}
	if s.last != nil && *s.last == key {
		s.logger.Debug("knowledge base fresh",
			zap.String("username", key.Username),
			zap.String("tier", key.Tier),
		)
		return nil
	}

	ctx, span := tracer.Start(ctx, "Service.rebuild")
	defer span.End()
	span.SetAttributes(
		attribute.String("username", key.Username),
		attribute.String("tier", key.Tier),
	)

	s.logger.Info("rebuilding knowledge base",
		zap.String("username", key.Username),
		zap.String("tier", key.Tier),
	)

	paths, err := s.docs.ListAccessible(user.AccessLevel)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("listing accessible documents: %w", err)
	}

	records := s.loader.Load(ctx, paths)
	chunks, err := chunk.Split(records, s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("chunking documents: %w", err)
	}

	n, err := s.store.Rebuild(ctx, chunks)
	if err != nil {
		// A failed build leaves the index absent. The key still
		// records the attempt so the same user does not trigger a
		// futile rebuild on every request; the next upload or user
		// change clears it.
		s.logger.Error("index build failed, continuing with empty index",
			zap.String("username", key.Username),
			zap.Error(err),
		)
		if clearErr := s.store.Clear(ctx); clearErr != nil {
			s.logger.Warn("failed to clear index after build failure", zap.Error(clearErr))
		}
	}

	s.last = &key
	s.rebuilds++
	rebuildsTotal.Inc()

	s.logger.Info("knowledge base rebuilt",
		zap.String("username", key.Username),
		zap.String("tier", key.Tier),
		zap.Int("files", len(paths)),
		zap.Int("chunks", n),
	)
	return nil
}

// Invalidate marks the cache stale. The next EnsureFresh rebuilds no
// matter whose key it carries.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = nil
	s.logger.Debug("knowledge base invalidated")
}

// Retrieve ensures the index reflects the user's accessible set, then
// returns the top chunks for the query joined by blank lines. An
// absent index or a failing search degrade to empty context rather
// than an error.
func (s *Service) Retrieve(ctx context.Context, user *userstore.User, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureFreshLocked(ctx, user); err != nil {
		return "", err
	}

	results, err := s.store.Search(ctx, query, s.cfg.TopK)
	if err != nil {
		s.logger.Warn("retrieval failed, proceeding with empty context", zap.Error(err))
		return "", nil
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Content
	}
	return strings.Join(parts, "\n\n"), nil
}

// Rebuilds reports how many rebuilds this service has performed.
func (s *Service) Rebuilds() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilds
}
