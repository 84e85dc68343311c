// Package chunk splits normalized text records into overlapping
// fixed-size windows suitable for embedding.
package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/schema"
)

// ErrInvalidWindow is returned when size/overlap cannot make progress.
var ErrInvalidWindow = errors.New("invalid chunk window")

// Chunk is a bounded slice of a document's text. Source is the path of
// the document the text came from, for provenance.
type Chunk struct {
	Content string
	Source  string
	// Seq is the chunk's ordinal across the whole split, used as a
	// stable identifier within one index build.
	Seq int
}

// Split windows every record greedily: chunks are size runes long
// (the last chunk of a record may be shorter) and consecutive chunks
// within a record share exactly overlap runes. Chunk order preserves
// record order and in-record offset order. Whitespace-only records
// produce no chunks.
//
// overlap must be non-negative and strictly less than size, otherwise
// the window cannot advance.
func Split(docs []schema.Document, size, overlap int) ([]Chunk, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidWindow, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidWindow, overlap, size)
	}

	step := size - overlap
	var chunks []Chunk
	for _, doc := range docs {
		if strings.TrimSpace(doc.PageContent) == "" {
			continue
		}
		source := sourceOf(doc)
		runes := []rune(doc.PageContent)
		for start := 0; start < len(runes); start += step {
			end := start + size
			if end > len(runes) {
				end = len(runes)
			}
			chunks = append(chunks, Chunk{
				Content: string(runes[start:end]),
				Source:  source,
				Seq:     len(chunks),
			})
			if end == len(runes) {
				break
			}
		}
	}
	return chunks, nil
}

func sourceOf(doc schema.Document) string {
	if doc.Metadata == nil {
		return ""
	}
	if s, ok := doc.Metadata["source"].(string); ok {
		return s
	}
	return ""
}
