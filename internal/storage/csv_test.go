package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newDailyStore(t *testing.T) (*CSVStore, string) {
	t.Helper()
	root := t.TempDir()
	store, err := NewCSVStore(root, chunk.Daily, testLogger())
	require.NoError(t, err)
	return store, root
}

func TestNewCSVStoreCreatesGranularityDir(t *testing.T) {
	root := t.TempDir()
	_, err := NewCSVStore(root, chunk.SubHour, testLogger())
	require.NoError(t, err)

	info, err := os.Stat(filepath.Join(root, "sub-hour"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewCSVStoreRejectsInvalidGranularity(t *testing.T) {
	_, err := NewCSVStore(t.TempDir(), chunk.Granularity(99), testLogger())
	assert.Error(t, err)
}

func TestCSVStoreLayout(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	rows := []models.Row{
		row("2024-03-01 09:30:00", map[string]string{"open": "1.08", "close": "1.0850"}),
	}
	require.NoError(t, store.WriteChunk(ctx, "EUR=", ts("2024-03-01 00:00:00"), false, rows))

	path := filepath.Join(root, "daily", "RIC EUR=", "2024-03-01.csv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Date,close,open\n2024-03-01 09:30:00,1.085000,1.080000\n", string(data))
}

func TestCSVStoreWriteThenLoadRoundTrip(t *testing.T) {
	store, _ := newDailyStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	days := []struct {
		day  string
		rows []models.Row
	}{
		{"2024-03-01 00:00:00", []models.Row{
			row("2024-03-01 09:30:00", map[string]string{"close": "1.08"}),
			row("2024-03-01 17:00:00", map[string]string{"close": "1.09"}),
		}},
		{"2024-03-02 00:00:00", []models.Row{
			row("2024-03-02 12:00:00", map[string]string{"close": "1.10"}),
		}},
		{"2024-03-03 00:00:00", []models.Row{
			row("2024-03-03 08:00:00", map[string]string{"close": "1.11"}),
			row("2024-03-03 16:30:00", map[string]string{"close": "1.12"}),
		}},
	}
	for _, d := range days {
		require.NoError(t, store.WriteChunk(ctx, "EUR=", ts(d.day), false, d.rows))
	}

	require.NoError(t, store.Load(ctx))

	summary, ok := store.Summary("EUR=")
	require.True(t, ok)
	assert.False(t, summary.Empty)
	assert.True(t, summary.FirstObserved.Equal(ts("2024-03-01 09:30:00")))
	assert.True(t, summary.LastObserved.Equal(ts("2024-03-03 16:30:00")))
	assert.Equal(t, 3, summary.ChunkCount)
	assert.Equal(t, 0, summary.MissingChunks)

	first := store.Summaries()
	require.NoError(t, store.Load(ctx))
	assert.Equal(t, first, store.Summaries(), "reloading an unchanged tree must yield an identical index")
}

func TestCSVStoreCountsMissingChunks(t *testing.T) {
	root := t.TempDir()
	store, err := NewCSVStore(root, chunk.Monthly, testLogger())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "GBP="))
	for _, month := range []string{"2024-01-15 10:00:00", "2024-02-15 10:00:00", "2024-05-15 10:00:00"} {
		rows := []models.Row{row(month, map[string]string{"close": "1.27"})}
		require.NoError(t, store.WriteChunk(ctx, "GBP=", ts(month), false, rows))
	}

	require.NoError(t, store.Load(ctx))

	summary, ok := store.Summary("GBP=")
	require.True(t, ok)
	assert.Equal(t, 3, summary.ChunkCount)
	assert.Equal(t, 2, summary.MissingChunks, "march and april have no chunk files")
}

func TestCSVStoreBackupRotation(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()
	day := ts("2024-03-01 00:00:00")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "1"})}))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "2"})}))

	live, err := store.ReadChunk(ctx, "EUR=", day, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	value, _ := live[0].Field("close")
	assert.Equal(t, "2.000000", value.StringFixed(6))

	backupPath := filepath.Join(root, "daily", "RIC EUR=", ".2024-03-01.csv")
	backupData, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	backupRows, err := decodeRows(backupData)
	require.NoError(t, err)
	require.Len(t, backupRows, 1)
	value, _ = backupRows[0].Field("close")
	assert.Equal(t, "1.000000", value.StringFixed(6), "backup must hold the previous content")

	// A third write replaces the backup with the second version.
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "3"})}))
	backupData, err = os.ReadFile(backupPath)
	require.NoError(t, err)
	backupRows, err = decodeRows(backupData)
	require.NoError(t, err)
	value, _ = backupRows[0].Field("close")
	assert.Equal(t, "2.000000", value.StringFixed(6))
}

func TestCSVStoreCompleteReplacesIncomplete(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()
	day := ts("2024-03-01 00:00:00")
	dir := filepath.Join(root, "daily", "RIC EUR=")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, true,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "1"})}))

	_, err := os.Stat(filepath.Join(dir, "2024-03-01.INCOMPLETE.csv"))
	require.NoError(t, err)
	assert.False(t, store.HasChunk("EUR=", day), "incomplete chunks never satisfy HasChunk")

	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "2"})}))

	assert.True(t, store.HasChunk("EUR=", day))
	_, err = os.Stat(filepath.Join(dir, "2024-03-01.csv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "2024-03-01.INCOMPLETE.csv"))
	assert.True(t, os.IsNotExist(err), "the incomplete variant must be rotated away")
	_, err = os.Stat(filepath.Join(dir, ".2024-03-01.INCOMPLETE.csv"))
	assert.NoError(t, err, "the incomplete variant must survive as a hidden backup")
}

func TestCSVStoreZeroRowChunk(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()
	day := ts("2024-03-01 00:00:00")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false, nil))

	info, err := os.Stat(filepath.Join(root, "daily", "RIC EUR=", "2024-03-01.csv"))
	require.NoError(t, err)
	assert.Zero(t, info.Size(), "a confirmed-empty chunk is a zero-byte file")

	rows, err := store.ReadChunk(ctx, "EUR=", day, false)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.True(t, store.HasChunk("EUR=", day), "a confirmed-empty chunk still counts as present")

	require.NoError(t, store.Load(ctx))
	summary, ok := store.Summary("EUR=")
	require.True(t, ok)
	assert.True(t, summary.Empty, "zero non-empty chunks loads as an empty entry")
	assert.Equal(t, 1, summary.ChunkCount)
	assert.Equal(t, 0, summary.MissingChunks)
}

func TestCSVStoreWriteNormalizesRows(t *testing.T) {
	store, _ := newDailyStore(t)
	ctx := context.Background()
	day := ts("2024-03-01 00:00:00")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	rows := []models.Row{
		row("2024-03-01 10:00:00", map[string]string{"close": "2"}),
		row("2024-03-01 09:30:00", map[string]string{"open": "1"}),
		row("2024-03-01 09:30:00", map[string]string{"close": "1.5"}),
		row("2024-03-01 09:30:00", map[string]string{"close": "1.6"}),
	}
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false, rows))

	got, err := store.ReadChunk(ctx, "EUR=", day, false)
	require.NoError(t, err)
	require.Len(t, got, 2, "rows sharing a timestamp must merge into one record")

	assert.True(t, got[0].Timestamp.Equal(ts("2024-03-01 09:30:00")))
	open, ok := got[0].Field("open")
	require.True(t, ok)
	assert.Equal(t, "1.000000", open.StringFixed(6))
	closeValue, ok := got[0].Field("close")
	require.True(t, ok)
	assert.Equal(t, "1.600000", closeValue.StringFixed(6), "the later duplicate wins")
	assert.True(t, got[1].Timestamp.Equal(ts("2024-03-01 10:00:00")))
}

func TestCSVStoreLoadToleratesDamage(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()
	dir := filepath.Join(root, "daily", "RIC EUR=")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	for _, day := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		rows := []models.Row{row(day+" 12:00:00", map[string]string{"close": "1"})}
		require.NoError(t, store.WriteChunk(ctx, "EUR=", ts(day+" 00:00:00"), false, rows))
	}

	// Corrupt the earliest chunk and drop in files the scanner must skip.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2024-03-01.csv"), []byte("Date,close\ngarbage,1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("scratch"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "03-bad-name.csv"), []byte(""), 0o644))

	require.NoError(t, store.Load(ctx))

	summary, ok := store.Summary("EUR=")
	require.True(t, ok)
	assert.Equal(t, 2, summary.ChunkCount, "the malformed chunk is treated as absent")
	assert.True(t, summary.FirstObserved.Equal(ts("2024-03-02 12:00:00")))
	assert.True(t, summary.LastObserved.Equal(ts("2024-03-03 12:00:00")))
	assert.False(t, store.HasChunk("EUR=", ts("2024-03-01 00:00:00")), "a malformed chunk must be fetched again")
	assert.True(t, store.HasChunk("EUR=", ts("2024-03-02 00:00:00")))
}

func TestCSVStoreLoadSkipsForeignDirs(t *testing.T) {
	store, root := newDailyStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "daily", "scratch"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "daily", "stray.csv"), []byte(""), 0o644))

	require.NoError(t, store.Load(ctx))
	assert.Equal(t, []string{"EUR="}, store.Instruments())
}

func TestCSVStoreAddInstrumentIdempotent(t *testing.T) {
	store, _ := newDailyStore(t)
	ctx := context.Background()
	day := ts("2024-03-01 00:00:00")

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", day, false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "1"})}))

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	assert.Equal(t, []string{"EUR="}, store.Instruments())
	assert.True(t, store.HasChunk("EUR=", day), "re-adding must not reset the index entry")

	assert.Error(t, store.AddInstrument(ctx, "  "))
}

func TestCSVStoreSummariesSorted(t *testing.T) {
	store, _ := newDailyStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "GBP="))
	require.NoError(t, store.AddInstrument(ctx, "AUD="))
	require.NoError(t, store.AddInstrument(ctx, "EUR="))

	assert.Equal(t, []string{"AUD=", "EUR=", "GBP="}, store.Instruments())

	summaries := store.Summaries()
	require.Len(t, summaries, 3)
	assert.Equal(t, "AUD=", summaries[0].Instrument)
	assert.Equal(t, "GBP=", summaries[2].Instrument)

	_, ok := store.Summary("JPY=")
	assert.False(t, ok)
}

func TestCSVStoreHasChunkFloorsTimestamp(t *testing.T) {
	store, _ := newDailyStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", ts("2024-03-01 00:00:00"), false,
		[]models.Row{row("2024-03-01 09:30:00", map[string]string{"close": "1"})}))

	assert.True(t, store.HasChunk("EUR=", ts("2024-03-01 15:45:00")))
	assert.False(t, store.HasChunk("EUR=", ts("2024-03-02 00:00:00")))
	assert.False(t, store.HasChunk("JPY=", ts("2024-03-01 00:00:00")))
}
