package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"sqlite":   sqlite,
		"inmemory": NewInMemoryStore(),
	}
}

func TestHistoryChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Add(ctx, "s1", "user", "first", nil)
			require.NoError(t, err)
			_, err = store.Add(ctx, "s1", "assistant", "second", nil)
			require.NoError(t, err)
			_, err = store.Add(ctx, "s1", "user", "third", nil)
			require.NoError(t, err)

			msgs, err := store.History(ctx, "s1", 0)
			require.NoError(t, err)
			require.Len(t, msgs, 3)
			assert.Equal(t, "first", msgs[0].Content)
			assert.Equal(t, "third", msgs[2].Content)
		})
	}
}

func TestHistoryLimitKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, content := range []string{"a", "b", "c", "d"} {
				_, err := store.Add(ctx, "s2", "user", content, nil)
				require.NoError(t, err)
			}

			msgs, err := store.History(ctx, "s2", 2)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Equal(t, "c", msgs[0].Content)
			assert.Equal(t, "d", msgs[1].Content)
		})
	}
}

func TestClearRemovesOnlyThatSession(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Add(ctx, "keep", "user", "hello", nil)
			require.NoError(t, err)
			_, err = store.Add(ctx, "drop", "user", "bye", nil)
			require.NoError(t, err)

			require.NoError(t, store.Clear(ctx, "drop"))

			dropped, err := store.History(ctx, "drop", 0)
			require.NoError(t, err)
			assert.Empty(t, dropped)

			kept, err := store.History(ctx, "keep", 0)
			require.NoError(t, err)
			assert.Len(t, kept, 1)
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	meta := map[string]any{
		"sources": []any{
			map[string]any{"file_name": "report.pdf", "relevance_score": 90.0},
		},
	}

	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Add(ctx, "s3", "user", "question", nil)
			require.NoError(t, err)
			_, err = store.Add(ctx, "s3", "assistant", "answer", meta)
			require.NoError(t, err)

			msgs, err := store.History(ctx, "s3", 0)
			require.NoError(t, err)
			require.Len(t, msgs, 2)
			assert.Nil(t, msgs[0].Metadata)
			assert.Equal(t, meta, msgs[1].Metadata)
		})
	}
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Add(ctx, "alpha", "user", "x", nil)
			require.NoError(t, err)
			_, err = store.Add(ctx, "beta", "user", "y", nil)
			require.NoError(t, err)

			sessions, err := store.ListSessions(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"alpha", "beta"}, sessions)
		})
	}
}
