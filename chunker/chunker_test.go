package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inception881/knowledgeGPT/core"
)

func TestChunkShortText(t *testing.T) {
	s := New(100, 10)
	chunks := s.Chunk("hello world", "doc.txt", core.FileTypeText)

	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Content)
	assert.Equal(t, "doc.txt", chunks[0].SourceID)
	assert.Equal(t, core.FileTypeText, chunks[0].FileType)
	assert.Equal(t, 0, chunks[0].Sequence)
}

func TestChunkEmptyText(t *testing.T) {
	s := New(100, 10)
	assert.Empty(t, s.Chunk("", "doc.txt", core.FileTypeText))
	assert.Empty(t, s.Chunk("   \n\n  ", "doc.txt", core.FileTypeText))
}

func TestChunkRespectsSizeLimit(t *testing.T) {
	s := New(50, 10)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 20)

	chunks := s.Chunk(text, "doc.txt", core.FileTypeText)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Content), 50)
	}
}

func TestChunkSequencesAreOrdinal(t *testing.T) {
	s := New(30, 5)
	text := strings.Repeat("one two three four five six. ", 10)

	chunks := s.Chunk(text, "doc.txt", core.FileTypeText)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Sequence)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	s := New(30, 0)
	text := "first paragraph here\n\nsecond paragraph here"

	pieces := s.SplitText(text)
	require.Len(t, pieces, 2)
	assert.Equal(t, "first paragraph here", strings.TrimSpace(pieces[0]))
	assert.Equal(t, "second paragraph here", strings.TrimSpace(pieces[1]))
}

func TestSplitHandlesCJKSentences(t *testing.T) {
	s := New(10, 0)
	text := "这是第一句话。这是第二句话。这是第三句话。"

	pieces := s.SplitText(text)
	require.Greater(t, len(pieces), 1)
	for _, p := range pieces {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Contains(t, pieces[0], "第一句")
}

func TestSplitOverlapCarriesContext(t *testing.T) {
	s := New(20, 8)
	text := "aaaa bbbb cccc dddd eeee ffff gggg hhhh"

	pieces := s.SplitText(text)
	require.Greater(t, len(pieces), 1)
	// Consecutive chunks share at least one word from the overlap window.
	for i := 1; i < len(pieces); i++ {
		prevWords := strings.Fields(pieces[i-1])
		last := prevWords[len(prevWords)-1]
		assert.Contains(t, pieces[i], strings.TrimSpace(last))
	}
}

func TestNewClampsBadParameters(t *testing.T) {
	s := New(0, -1)
	assert.Equal(t, 500, s.chunkSize)
	assert.Equal(t, 50, s.chunkOverlap)

	s = New(100, 100)
	assert.Equal(t, 10, s.chunkOverlap)
}
