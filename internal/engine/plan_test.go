package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
	"github.com/johnayoung/go-timeseries-archiver/internal/provider"
	"github.com/johnayoung/go-timeseries-archiver/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func utc(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

// testConfig keeps the retry and pacing knobs small enough for tests.
func testConfig(epoch time.Time) *Config {
	cfg := DefaultConfig()
	cfg.Epoch = epoch
	cfg.MinCallSpacing = 0
	cfg.RetryBackoffBase = time.Millisecond
	cfg.ThrottleCooldown = 45 * time.Second
	return cfg
}

func okProvider() provider.Provider {
	return provider.Func(func(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error) {
		return nil, nil
	})
}

func newPlanEngine(t *testing.T, granularity chunk.Granularity, epoch time.Time) (*Engine, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(granularity, testLogger())
	eng, err := New(store, okProvider(), testConfig(epoch), testLogger(), nil)
	require.NoError(t, err)
	return eng, store
}

func TestPlanDailySpansEpochToNow(t *testing.T) {
	epoch := utc("1980-01-01 00:00:00")
	now := utc("2024-03-02 12:00:00")
	eng, store := newPlanEngine(t, chunk.Daily, epoch)
	require.NoError(t, store.AddInstrument(context.Background(), "EUR="))

	plans, planned, skipped := eng.plan(now, []string{"EUR="})
	require.Len(t, plans, 1)

	// Every calendar day from the epoch through today, inclusive.
	assert.Equal(t, 16133, planned)
	assert.Equal(t, chunk.PeriodDay.Count(epoch, now), planned)
	assert.Zero(t, skipped)

	windows := plans[0].Windows
	require.Len(t, windows, planned)
	assert.Equal(t, epoch, windows[0].Start)
	assert.False(t, windows[0].Incomplete)

	last := windows[len(windows)-1]
	assert.Equal(t, utc("2024-03-02 00:00:00"), last.Start)
	assert.True(t, last.Incomplete, "the period containing now is still in progress")
}

func TestPlanWindowsAreHalfOpenAndOrdered(t *testing.T) {
	eng, store := newPlanEngine(t, chunk.Daily, utc("2024-02-27 00:00:00"))
	require.NoError(t, store.AddInstrument(context.Background(), "EUR="))

	plans, _, _ := eng.plan(utc("2024-03-01 09:00:00"), []string{"EUR="})
	require.Len(t, plans, 1)
	windows := plans[0].Windows
	require.NotEmpty(t, windows)

	for i, w := range windows {
		assert.Equal(t, chunk.PeriodDay.Next(w.Start), w.End)
		if i > 0 {
			assert.True(t, windows[i-1].Start.Before(w.Start))
		}
	}
}

func TestPlanSkipsStoredCompletePeriods(t *testing.T) {
	ctx := context.Background()
	epoch := utc("2024-03-01 00:00:00")
	now := utc("2024-03-03 12:00:00")
	eng, store := newPlanEngine(t, chunk.Daily, epoch)
	require.NoError(t, store.AddInstrument(ctx, "EUR="))

	// 2024-03-01 is stored complete, 2024-03-02 is absent, 2024-03-03 is
	// stored but still in progress.
	require.NoError(t, store.WriteChunk(ctx, "EUR=", utc("2024-03-01 00:00:00"), false, nil))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", utc("2024-03-03 00:00:00"), true, nil))

	plans, planned, skipped := eng.plan(now, []string{"EUR="})
	require.Len(t, plans, 1)
	assert.Equal(t, 2, planned)
	assert.Equal(t, 1, skipped)

	windows := plans[0].Windows
	require.Len(t, windows, 2)
	assert.Equal(t, utc("2024-03-02 00:00:00"), windows[0].Start)
	assert.False(t, windows[0].Incomplete)
	assert.Equal(t, utc("2024-03-03 00:00:00"), windows[1].Start)
	assert.True(t, windows[1].Incomplete, "in-progress periods are refetched even when stored")
}

func TestPlanFullyStoredLeavesOnlyCurrentPeriod(t *testing.T) {
	ctx := context.Background()
	epoch := utc("2024-02-25 00:00:00")
	now := utc("2024-03-02 12:00:00")
	eng, store := newPlanEngine(t, chunk.Daily, epoch)
	require.NoError(t, store.AddInstrument(ctx, "EUR="))

	for _, start := range chunk.PeriodDay.Starts(epoch, now) {
		incomplete := chunk.PeriodDay.Next(start).After(now)
		require.NoError(t, store.WriteChunk(ctx, "EUR=", start, incomplete, nil))
	}

	plans, planned, skipped := eng.plan(now, []string{"EUR="})
	require.Len(t, plans, 1)
	assert.Equal(t, 1, planned, "only the in-progress period is left to fetch")
	assert.Equal(t, 6, skipped)
	require.Len(t, plans[0].Windows, 1)
	assert.Equal(t, utc("2024-03-02 00:00:00"), plans[0].Windows[0].Start)
}

func TestLookbackStartPerGranularity(t *testing.T) {
	epoch := utc("1980-01-01 00:00:00")
	now := utc("2024-03-02 12:00:00")

	tests := []struct {
		granularity chunk.Granularity
		want        time.Time
	}{
		{chunk.Yearly, epoch},
		{chunk.Daily, epoch},
		{chunk.Monthly, now.Add(-2 * 365 * 24 * time.Hour)},
		{chunk.SubHour, now.Add(-30 * 24 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.granularity.String(), func(t *testing.T) {
			eng, _ := newPlanEngine(t, tt.granularity, epoch)
			assert.Equal(t, tt.want, eng.lookbackStart(now))
		})
	}
}

func TestDryRunSummarizesWithoutFetching(t *testing.T) {
	ctx := context.Background()
	eng, store := newPlanEngine(t, chunk.Daily, utc("2024-03-01 00:00:00"))
	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.WriteChunk(ctx, "EUR=", utc("2024-03-01 00:00:00"), false, nil))
	eng.now = func() time.Time { return utc("2024-03-03 12:00:00") }

	summaries, err := eng.DryRun(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)

	s := summaries[0]
	assert.Equal(t, "EUR=", s.Instrument)
	assert.Equal(t, 2, s.Periods)
	assert.Equal(t, 1, s.Incomplete)
	assert.Equal(t, utc("2024-03-02 00:00:00"), s.First)
	assert.Equal(t, utc("2024-03-03 00:00:00"), s.Last)

	_, err = eng.DryRun(ctx, "XAU=")
	require.Error(t, err, "a dry run validates the selection the same way a sync does")
}

func TestPlanMultipleInstruments(t *testing.T) {
	ctx := context.Background()
	eng, store := newPlanEngine(t, chunk.Daily, utc("2024-03-01 00:00:00"))
	require.NoError(t, store.AddInstrument(ctx, "EUR="))
	require.NoError(t, store.AddInstrument(ctx, "JPY="))

	plans, planned, _ := eng.plan(utc("2024-03-02 12:00:00"), []string{"EUR=", "JPY="})
	require.Len(t, plans, 2)
	assert.Equal(t, 4, planned)
	assert.Equal(t, "EUR=", plans[0].Instrument)
	assert.Equal(t, "JPY=", plans[1].Instrument)
}
