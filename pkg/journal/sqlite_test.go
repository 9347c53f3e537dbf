package journal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := New(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournalAppendAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, "wss://example.test/__ws__", 1000, `{"type":"state_update","data":{"seq":1}}`))
	require.NoError(t, j.Append(ctx, "wss://example.test/__ws__", 2000, `{"type":"state_update","data":{"seq":2}}`))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first
	require.Equal(t, int64(2000), entries[0].ReceivedAtMs)
	require.Equal(t, int64(1000), entries[1].ReceivedAtMs)
	require.Contains(t, entries[0].Payload, `"seq":2`)
}

func TestJournalRecentHonorsLimit(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, "src", int64(i), "{}"))
	}
	entries, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestJournalRejectsEmptyInputs(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)

	j := newTestJournal(t)
	require.Error(t, j.Append(context.Background(), "", 0, "{}"))
}
