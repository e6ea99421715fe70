package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inception881/knowledgeGPT/embedder/mock"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), mock.New(64), nil)
	require.NoError(t, err)
	return s
}

func TestPersistAndRetrieve(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, RoleUser, "how do I reset the router"))
	require.NoError(t, s.Persist(ctx, RoleAssistant, "hold the reset button for ten seconds"))

	entries, err := s.RetrieveSimilar(ctx, "reset the router", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "how do I reset the router", entries[0].Content)
	assert.Equal(t, RoleUser, entries[0].Role)
	assert.False(t, entries[0].Timestamp.IsZero())
}

func TestPersistIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Persist(ctx, RoleUser, "the same question again"))
	}
	assert.Equal(t, 1, s.Count())
}

func TestSameContentDifferentRolesAreDistinct(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, RoleUser, "identical text"))
	require.NoError(t, s.Persist(ctx, RoleAssistant, "identical text"))
	assert.Equal(t, 2, s.Count())
}

func TestPersistEmptyContentIsNoOp(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Persist(context.Background(), RoleUser, ""))
	assert.Equal(t, 0, s.Count())
}

func TestRetrieveSimilarOnEmptyStore(t *testing.T) {
	s := newTestStore(t)

	entries, err := s.RetrieveSimilar(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRetrieveSimilarClampsK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Persist(ctx, RoleUser, "only one entry"))

	entries, err := s.RetrieveSimilar(ctx, "one entry", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEntryIDIsDeterministic(t *testing.T) {
	a := EntryID(RoleUser, "hello")
	b := EntryID(RoleUser, "hello")
	c := EntryID(RoleAssistant, "hello")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
