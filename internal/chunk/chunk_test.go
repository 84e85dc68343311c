package chunk_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"

	"github.com/fyrsmithlabs/tierkb/internal/chunk"
)

func doc(content, source string) schema.Document {
	return schema.Document{
		PageContent: content,
		Metadata:    map[string]any{"source": source},
	}
}

func TestSplitExactWindows(t *testing.T) {
	text := strings.Repeat("abcdefghij", 10) // 100 runes
	chunks, err := chunk.Split([]schema.Document{doc(text, "a.txt")}, 30, 10)
	require.NoError(t, err)

	// step = 20; offsets 0,20,40,60,80; last window is 80..100.
	require.Len(t, chunks, 5)
	for i, c := range chunks {
		if i < len(chunks)-1 {
			assert.Len(t, []rune(c.Content), 30, "chunk %d", i)
		} else {
			assert.LessOrEqual(t, len([]rune(c.Content)), 30)
		}
	}

	// Consecutive chunks share exactly the overlap.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Content)
		cur := []rune(chunks[i].Content)
		tail := string(prev[len(prev)-10:])
		head := string(cur[:10])
		assert.Equal(t, tail, head, "chunks %d/%d", i-1, i)
	}
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	chunks, err := chunk.Split([]schema.Document{doc("short", "a.txt")}, 100, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "short", chunks[0].Content)
	assert.Equal(t, "a.txt", chunks[0].Source)
}

func TestSplitPreservesOrderAcrossDocuments(t *testing.T) {
	docs := []schema.Document{
		doc(strings.Repeat("a", 50), "first.txt"),
		doc(strings.Repeat("b", 50), "second.txt"),
	}
	chunks, err := chunk.Split(docs, 30, 10)
	require.NoError(t, err)
	require.True(t, len(chunks) >= 4)

	// All chunks of the first document come before the second's, and
	// sequence numbers are the global ordinal.
	sawSecond := false
	for i, c := range chunks {
		assert.Equal(t, i, c.Seq)
		if c.Source == "second.txt" {
			sawSecond = true
		}
		if sawSecond {
			assert.Equal(t, "second.txt", c.Source)
		}
	}
	assert.True(t, sawSecond)
}

func TestSplitIsRuneSafe(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 20)
	chunks, err := chunk.Split([]schema.Document{doc(text, "a.txt")}, 25, 5)
	require.NoError(t, err)
	for _, c := range chunks {
		// No window may slice through a multi-byte rune.
		assert.True(t, strings.ContainsAny(c.Content, "ho"), "chunk should be valid text")
		assert.LessOrEqual(t, len([]rune(c.Content)), 25)
	}
}

func TestSplitSkipsBlankRecords(t *testing.T) {
	chunks, err := chunk.Split([]schema.Document{doc("   \n\t ", "a.txt")}, 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplitRejectsOverlapNotBelowSize(t *testing.T) {
	docs := []schema.Document{doc("anything", "a.txt")}

	_, err := chunk.Split(docs, 10, 10)
	assert.ErrorIs(t, err, chunk.ErrInvalidWindow)

	_, err = chunk.Split(docs, 10, 11)
	assert.ErrorIs(t, err, chunk.ErrInvalidWindow)

	_, err = chunk.Split(docs, 0, 0)
	assert.ErrorIs(t, err, chunk.ErrInvalidWindow)

	_, err = chunk.Split(docs, 10, -1)
	assert.ErrorIs(t, err, chunk.ErrInvalidWindow)
}

func TestSplitZeroOverlap(t *testing.T) {
	text := strings.Repeat("x", 30)
	chunks, err := chunk.Split([]schema.Document{doc(text, "a.txt")}, 10, 0)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.Len(t, c.Content, 10)
	}
}
