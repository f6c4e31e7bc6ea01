package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zimaxnet/engram/core"
)

// Interface compliance (compile-time assertions)
var (
	_ Store = (*InMemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{
		"in_memory": NewInMemoryStore(),
		"sqlite":    sqlite,
	}
}

func entryAt(seq int64, kind core.EntryKind) core.LogEntry {
	return core.LogEntry{
		Seq:       seq,
		Kind:      kind,
		Payload:   []byte(`{}`),
		Timestamp: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Add(time.Duration(seq) * time.Second),
	}
}

func TestStore_AppendAndEntries(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Append(ctx, "conv-1", entryAt(1, core.EntryConversationStarted)))
			require.NoError(t, store.Append(ctx, "conv-1", entryAt(2, core.EntryTurnStarted)))
			require.NoError(t, store.Append(ctx, "conv-1", entryAt(3, core.EntryStepCompleted)))

			entries, err := store.Entries(ctx, "conv-1")
			require.NoError(t, err)
			require.Len(t, entries, 3)
			for i, e := range entries {
				assert.Equal(t, int64(i+1), e.Seq)
			}
			assert.Equal(t, core.EntryConversationStarted, entries[0].Kind)
			assert.Equal(t, core.EntryStepCompleted, entries[2].Kind)
		})
	}
}

func TestStore_RejectsSequenceGap(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Append(ctx, "conv-1", entryAt(1, core.EntryConversationStarted)))

			err := store.Append(ctx, "conv-1", entryAt(3, core.EntryTurnStarted))
			assert.ErrorIs(t, err, ErrSequenceGap)

			// Replaying an already written seq is rejected too.
			err = store.Append(ctx, "conv-1", entryAt(1, core.EntryConversationStarted))
			assert.ErrorIs(t, err, ErrSequenceGap)
		})
	}
}

func TestStore_SequencesArePerConversation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.Append(ctx, "conv-a", entryAt(1, core.EntryConversationStarted)))
			require.NoError(t, store.Append(ctx, "conv-b", entryAt(1, core.EntryConversationStarted)))
			require.NoError(t, store.Append(ctx, "conv-a", entryAt(2, core.EntryTurnStarted)))

			ids, err := store.Conversations(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"conv-a", "conv-b"}, ids)

			a, err := store.Entries(ctx, "conv-a")
			require.NoError(t, err)
			assert.Len(t, a, 2)

			b, err := store.Entries(ctx, "conv-b")
			require.NoError(t, err)
			assert.Len(t, b, 1)
		})
	}
}

func TestStore_EntriesForUnknownConversation(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := store.Entries(context.Background(), "missing")
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, "conv-1", entryAt(1, core.EntryConversationStarted)))
	require.NoError(t, store.Append(ctx, "conv-1", entryAt(2, core.EntryTurnStarted)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries, err := reopened.Entries(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.EntryTurnStarted, entries[1].Kind)

	// The reopened store continues at the recorded tail.
	require.NoError(t, reopened.Append(ctx, "conv-1", entryAt(3, core.EntryStepCompleted)))
	assert.ErrorIs(t, reopened.Append(ctx, "conv-1", entryAt(3, core.EntryStepCompleted)), ErrSequenceGap)
}
