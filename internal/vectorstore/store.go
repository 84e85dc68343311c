// Package vectorstore maintains the persisted vector index over the
// currently accessible chunk set.
//
// The index is embedded chromem-go state persisted under a configured
// directory. There is exactly one logical index: Rebuild replaces the
// prior collection wholesale rather than merging into it, matching the
// full-rebuild baseline. An absent collection is the valid "no
// accessible documents" state, not an error.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/tierkb/internal/chunk"
)

var tracer = otel.Tracer("tierkb.vectorstore")

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// SearchResult is one retrieved chunk with its similarity score.
type SearchResult struct {
	ID      string
	Content string
	// Score is cosine similarity; higher is more similar.
	Score float32
	// Source is the document path the chunk came from.
	Source string
}

// Config holds vector index settings.
type Config struct {
	// Path is the directory for persistent storage. A leading ~
	// expands to the user's home directory.
	Path string

	// Collection is the collection name. Default "tierkb_chunks".
	Collection string

	// Compress enables gzip compression of persisted state.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "tierkb_chunks"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path required", ErrInvalidConfig)
	}
	return nil
}

// Store is the persisted vector index.
//
// Store itself is not synchronized; the knowledge cache serializes
// Rebuild and Search behind its own lock.
type Store struct {
	db       *chromem.DB
	embedder Embedder
	config   Config
	logger   *zap.Logger
}

// New opens (or creates) the persistent index at the configured path.
func New(config Config, embedder Embedder, logger *zap.Logger) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("vector index opened",
		zap.String("path", path),
		zap.String("collection", config.Collection),
		zap.Bool("compress", config.Compress),
	)

	return &Store{db: db, embedder: embedder, config: config, logger: logger}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's query-time hook.
func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *Store) collection() *chromem.Collection {
	return s.db.GetCollection(s.config.Collection, s.embeddingFunc())
}

// Rebuild replaces the index contents with the given chunks.
//
// The previous collection is dropped first, so persisted state at the
// index path always reflects exactly one build. With no chunks the
// collection stays absent, which downstream treats as "no accessible
// documents". Returns the number of chunks indexed.
func (s *Store) Rebuild(ctx context.Context, chunks []chunk.Chunk) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.Rebuild")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	if err := s.Clear(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if len(chunks) == 0 {
		s.logger.Info("no chunks to index, leaving index absent")
		span.SetStatus(codes.Ok, "empty")
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbeddingFailed, len(vectors), len(chunks))
	}

	collection, err := s.db.CreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("creating collection: %w", err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        fmt.Sprintf("chunk_%06d", c.Seq),
			Content:   c.Content,
			Metadata:  map[string]string{"source": c.Source},
			Embedding: vectors[i],
		}
	}

	// Concurrency 1: embeddings are already computed above.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("index rebuilt", zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Search returns up to k chunks most similar to the query, highest
// score first. An absent or empty index yields an empty result, never
// an error: callers proceed with empty context.
func (s *Store) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return []SearchResult{}, nil
	}

	collection := s.collection()
	if collection == nil {
		span.SetStatus(codes.Ok, "index absent")
		return []SearchResult{}, nil
	}

	count := collection.Count()
	if count == 0 {
		span.SetStatus(codes.Ok, "index empty")
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:      r.ID,
			Content: r.Content,
			Score:   r.Similarity,
			Source:  r.Metadata["source"],
		}
	}

	span.SetAttributes(attribute.Int("results", len(out)))
	span.SetStatus(codes.Ok, "success")
	return out, nil
}

// Count returns the number of indexed chunks, zero when absent.
func (s *Store) Count() int {
	collection := s.collection()
	if collection == nil {
		return 0
	}
	return collection.Count()
}

// Clear drops the collection, leaving the index in its absent state.
func (s *Store) Clear(ctx context.Context) error {
	_, span := tracer.Start(ctx, "Store.Clear")
	defer span.End()

	if s.collection() == nil {
		return nil
	}
	if err := s.db.DeleteCollection(s.config.Collection); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting collection: %w", err)
	}
	return nil
}
