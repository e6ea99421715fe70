package index

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inception881/knowledgeGPT/core"
	"github.com/inception881/knowledgeGPT/embedder/mock"
)

func newTestManager(t *testing.T, dir string) *Manager {
	t.Helper()
	m, err := New(context.Background(), mock.New(64), Options{
		Dir:       dir,
		TopK:      4,
		BatchSize: 2,
		Trusted:   true,
	}, nil)
	require.NoError(t, err)
	return m
}

func textChunks(sourceID string, contents ...string) []core.DocumentChunk {
	chunks := make([]core.DocumentChunk, len(contents))
	for i, c := range contents {
		chunks[i] = core.DocumentChunk{
			Content:  c,
			SourceID: sourceID,
			FileType: core.FileTypeText,
			Sequence: i,
		}
	}
	return chunks
}

func TestFreshIndexIsEmpty(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	assert.Equal(t, 0, m.Count())
	results, err := m.Search(context.Background(), "anything at all", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestAddGeneratesSourcePrefixedIDs(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	ids, err := m.Add(context.Background(),
		textChunks("manual.txt", "alpha beta", "gamma delta", "epsilon zeta"), nil)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id, "manual.txt_"), "id %q", id)
	}
	assert.Equal(t, 3, m.Count())
}

func TestAddEmptyIsNoOp(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	ids, err := m.Add(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
	assert.Equal(t, 0, m.Count())
}

func TestAddRejectsLengthMismatch(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	_, err := m.Add(context.Background(),
		textChunks("a.txt", "one", "two"), []string{"only-one-id"})
	require.ErrorIs(t, err, ErrLengthMismatch)
	assert.Equal(t, 0, m.Count())
}

func TestSearchFindsRelevantChunk(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	_, err := m.Add(context.Background(), textChunks("kb.txt",
		"the reactor coolant pump maintenance schedule",
		"annual leave policy for all employees",
		"cafeteria menu for the coming week",
	), nil)
	require.NoError(t, err)

	results, err := m.SearchWithScore(context.Background(), "reactor coolant pump maintenance", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Chunk.Content, "coolant pump")
	assert.Greater(t, results[0].Score, float32(0))
}

func TestSearchNeverReturnsSentinel(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	_, err := m.Add(context.Background(), textChunks("a.txt", "only one real chunk"), nil)
	require.NoError(t, err)

	// Ask for more results than exist; the sentinel must not fill the gap.
	results, err := m.Search(context.Background(), "index bootstrap placeholder", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEqual(t, sentinelID, results[0].ID)
}

func TestRetrieveReturnsAtMostK(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	_, err := m.Add(context.Background(), textChunks("kb.txt",
		"apples are red fruit",
		"bananas are yellow fruit",
		"cherries are small red fruit",
		"dates grow on palm trees",
		"elderberries are dark purple",
	), nil)
	require.NoError(t, err)

	results, err := m.Retrieve(context.Background(), "red fruit", 2)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 2)
	assert.NotEmpty(t, results)
}

func TestDeleteBySource(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	_, err := m.Add(ctx, textChunks("a.txt", "alpha content", "beta content"), nil)
	require.NoError(t, err)
	_, err = m.Add(ctx, textChunks("b.txt", "gamma content"), nil)
	require.NoError(t, err)

	removed, err := m.DeleteBySource(ctx, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, m.Count())

	for _, id := range m.IDs() {
		assert.False(t, strings.HasPrefix(id, "a.txt_"), "id %q survived deletion", id)
	}
}

func TestDeleteBySourceNoMatch(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	removed, err := m.DeleteBySource(context.Background(), "never-ingested.txt")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestClearResetsToEmpty(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	_, err := m.Add(ctx, textChunks("a.txt", "one", "two", "three"), nil)
	require.NoError(t, err)
	require.Equal(t, 3, m.Count())

	require.NoError(t, m.Clear(ctx))

	assert.Equal(t, 0, m.Count())
	results, err := m.Search(ctx, "one two three", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m := newTestManager(t, dir)
	_, err := m.Add(ctx, textChunks("kb.txt",
		"the reactor coolant pump maintenance schedule",
		"annual leave policy for all employees",
	), nil)
	require.NoError(t, err)

	before, err := m.SearchWithScore(ctx, "coolant pump maintenance", 2)
	require.NoError(t, err)

	reopened := newTestManager(t, dir)
	assert.Equal(t, 2, reopened.Count())

	after, err := reopened.SearchWithScore(ctx, "coolant pump maintenance", 2)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Chunk, after[i].Chunk)
	}
}

func TestUntrustedDirStartsFresh(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m := newTestManager(t, dir)
	_, err := m.Add(ctx, textChunks("a.txt", "persisted content"), nil)
	require.NoError(t, err)

	untrusted, err := New(ctx, mock.New(64), Options{Dir: dir, Trusted: false}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, untrusted.Count())
}

func TestGenerateIDCarriesSourcePrefix(t *testing.T) {
	id := GenerateID("report.pdf")
	assert.True(t, strings.HasPrefix(id, "report.pdf_"))
	assert.Greater(t, len(id), len("report.pdf_"))
}
