// Package ingest loads raw documents of heterogeneous formats into
// normalized text records.
//
// Loading is partial-failure tolerant: one malformed document is
// logged and skipped, never aborting the batch. Missing files are
// skipped silently. Unknown extensions fall back to plain text.
package ingest

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
)

// ParseFunc turns a single file into text records.
type ParseFunc func(ctx context.Context, path string) ([]schema.Document, error)

// Loader dispatches files to format-specific parsers by extension.
type Loader struct {
	parsers  map[string]ParseFunc
	fallback ParseFunc
	logger   *zap.Logger
}

// NewLoader creates a Loader with the built-in parser table.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		parsers: map[string]ParseFunc{
			".txt":  parseText,
			".csv":  parseCSV,
			".pdf":  parsePDF,
			".md":   parseMarkdown,
			".json": parseJSON,
			".xlsx": parseXLSX,
			".xls":  parseXLSX,
			".docx": parseDOCX,
			".doc":  parseDOCX,
		},
		fallback: parseText,
		logger:   logger,
	}
}

// Load parses every path and returns the concatenation of all records
// from files that loaded successfully, in input order. Each record
// carries its source path in metadata.
func (l *Loader) Load(ctx context.Context, paths []string) []schema.Document {
	var out []schema.Document
	for _, path := range paths {
		docs, err := l.loadOne(ctx, path)
		if err != nil {
			l.logger.Warn("skipping document",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		out = append(out, docs...)
	}
	l.logger.Debug("loaded documents",
		zap.Int("files", len(paths)),
		zap.Int("records", len(out)),
	)
	return out
}

func (l *Loader) loadOne(ctx context.Context, path string) ([]schema.Document, error) {
	if !fileExists(path) {
		// The listing can race with deletion; a vanished file is not
		// an error.
		l.logger.Debug("file not found", zap.String("path", path))
		return nil, nil
	}

	parse, ok := l.parsers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		parse = l.fallback
	}

	docs, err := parse(ctx, path)
	if err != nil {
		return nil, err
	}

	for i := range docs {
		if docs[i].Metadata == nil {
			docs[i].Metadata = make(map[string]any, 1)
		}
		docs[i].Metadata["source"] = path
	}
	return docs, nil
}
