package engine

import (
	"sync/atomic"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// runMetrics accumulates the counters of a single sync run. Fields are
// atomic so status observers can snapshot a run in flight.
type runMetrics struct {
	periodsPlanned  atomic.Int64
	chunksWritten   atomic.Int64
	emptyChunks     atomic.Int64
	skippedExisting atomic.Int64
	failedPeriods   atomic.Int64
	fetchAttempts   atomic.Int64
	throttleWaits   atomic.Int64
	rowsWritten     atomic.Int64
	storageErrors   atomic.Int64
	invalidAborts   atomic.Int64
}

func (m *runMetrics) snapshot() models.SyncCounters {
	return models.SyncCounters{
		PeriodsPlanned:  m.periodsPlanned.Load(),
		ChunksWritten:   m.chunksWritten.Load(),
		EmptyChunks:     m.emptyChunks.Load(),
		SkippedExisting: m.skippedExisting.Load(),
		FailedPeriods:   m.failedPeriods.Load(),
		FetchAttempts:   m.fetchAttempts.Load(),
		ThrottleWaits:   m.throttleWaits.Load(),
		RowsWritten:     m.rowsWritten.Load(),
		StorageErrors:   m.storageErrors.Load(),
		InvalidAborts:   m.invalidAborts.Load(),
	}
}
