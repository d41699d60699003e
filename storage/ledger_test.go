package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ctitoolkit/metrics"
)

// setupLedger creates an in-memory ledger closed at test end
func setupLedger(t *testing.T) *Ledger {
	t.Helper()
	ledger, err := NewLedger(MemoryPath, 8, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}

// TestNewLedger_File tests that a file ledger is created in WAL mode
func TestNewLedger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")

	ledger, err := NewLedger(path, 0, nil)
	require.NoError(t, err)
	defer ledger.Close()

	assert.Equal(t, path, ledger.Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)

	var journalMode string
	require.NoError(t, ledger.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var tableCount int
	require.NoError(t, ledger.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = 'processed_sources'").Scan(&tableCount))
	assert.Equal(t, 1, tableCount)
}

func TestNewLedger_InvalidPath(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{name: "empty", path: ""},
		{name: "null byte", path: "ledger\x00.db"},
		{name: "uri", path: "file:ledger.db?mode=ro"},
		{name: "reserved", path: "CON.db"},
		{name: "directory", path: t.TempDir()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLedger(tt.path, 0, nil)
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

// TestLedger_RecordAndSeen tests the basic record/lookup cycle
func TestLedger_RecordAndSeen(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()

	seen, err := ledger.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, ledger.Record(ctx, Entry{
		Digest:      "abc",
		FileName:    "feed.xml",
		STIXVersion: "1.2",
		Outcome:     "parsed",
		Observables: 6,
	}))

	seen, err = ledger.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)

	entries, err := ledger.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "feed.xml", entries[0].FileName)
	assert.Equal(t, "1.2", entries[0].STIXVersion)
	assert.Equal(t, 6, entries[0].Observables)
	assert.False(t, entries[0].ProcessedAt.IsZero())
}

// TestLedger_SeenFromDatabase tests lookups that miss the cache
func TestLedger_SeenFromDatabase(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, Entry{Digest: "abc", Outcome: "parsed"}))
	ledger.cache.Purge()

	before := testutil.ToFloat64(metrics.LedgerCacheHits)
	seen, err := ledger.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, before, testutil.ToFloat64(metrics.LedgerCacheHits))

	seen, err = ledger.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LedgerCacheHits))
}

// TestLedger_RecordReplaces tests that a digest is stored once
func TestLedger_RecordReplaces(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Record(ctx, Entry{Digest: "abc", FileName: "old.xml", Outcome: "parsed"}))
	require.NoError(t, ledger.Record(ctx, Entry{Digest: "abc", FileName: "new.xml", Outcome: "upgraded", STIXVersion: "1.1.1"}))

	entries, err := ledger.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "new.xml", entries[0].FileName)
	assert.Equal(t, "upgraded", entries[0].Outcome)
}

// TestLedger_RecentOrder tests newest-first ordering and the limit
func TestLedger_RecentOrder(t *testing.T) {
	ledger := setupLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, digest := range []string{"first", "second", "third"} {
		require.NoError(t, ledger.Record(ctx, Entry{
			Digest:      digest,
			Outcome:     "parsed",
			ProcessedAt: base.Add(time.Duration(i) * 1500 * time.Millisecond),
		}))
	}

	entries, err := ledger.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "third", entries[0].Digest)
	assert.Equal(t, "second", entries[1].Digest)
	assert.True(t, entries[1].ProcessedAt.Equal(base.Add(1500*time.Millisecond)))

	all, err := ledger.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLedger_RecordRequiresDigest(t *testing.T) {
	ledger := setupLedger(t)
	err := ledger.Record(context.Background(), Entry{FileName: "x.xml"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

// TestLedger_Persistence tests that entries survive reopening the file
func TestLedger_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	ledger, err := NewLedger(path, 4, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Record(ctx, Entry{Digest: "abc", Outcome: "parsed"}))
	require.NoError(t, ledger.Close())

	reopened, err := NewLedger(path, 4, nil)
	require.NoError(t, err)
	defer reopened.Close()

	seen, err := reopened.Seen(ctx, "abc")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestLedger_Closed(t *testing.T) {
	ledger, err := NewLedger(MemoryPath, 4, nil)
	require.NoError(t, err)
	require.NoError(t, ledger.Close())
	assert.NoError(t, ledger.Close())

	ctx := context.Background()
	_, err = ledger.Seen(ctx, "abc")
	assert.ErrorIs(t, err, ErrLedgerClosed)
	assert.ErrorIs(t, ledger.Record(ctx, Entry{Digest: "abc"}), ErrLedgerClosed)
	_, err = ledger.Recent(ctx, 1)
	assert.ErrorIs(t, err, ErrLedgerClosed)
}
