package models

import (
	"fmt"
	"time"
)

// SyncState tracks where a sync run is in its lifecycle.
// A run moves Idle -> Planning -> Fetching and terminates in either
// Cancelled or Completed.
type SyncState string

const (
	// SyncIdle indicates no run is in progress
	SyncIdle SyncState = "idle"
	// SyncPlanning indicates the engine is enumerating periods to fetch
	SyncPlanning SyncState = "planning"
	// SyncFetching indicates the engine is issuing provider calls
	SyncFetching SyncState = "fetching"
	// SyncCancelled indicates the run stopped early on request; chunks
	// already written remain, the rest of the plan was abandoned
	SyncCancelled SyncState = "cancelled"
	// SyncCompleted indicates the planned sequence was exhausted
	SyncCompleted SyncState = "completed"
)

// validSyncTransitions captures the legal state machine edges.
var validSyncTransitions = map[SyncState][]SyncState{
	SyncIdle:      {SyncPlanning},
	SyncPlanning:  {SyncFetching, SyncCancelled, SyncCompleted},
	SyncFetching:  {SyncCancelled, SyncCompleted},
	SyncCancelled: {SyncPlanning},
	SyncCompleted: {SyncPlanning},
}

// CanTransition reports whether moving from s to next is a legal edge of
// the sync state machine.
func (s SyncState) CanTransition(next SyncState) bool {
	for _, allowed := range validSyncTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends a run.
func (s SyncState) Terminal() bool {
	return s == SyncCancelled || s == SyncCompleted
}

// SyncCounters is the counter snapshot taken at the end of a run.
type SyncCounters struct {
	PeriodsPlanned  int64 `json:"periods_planned"`
	ChunksWritten   int64 `json:"chunks_written"`
	EmptyChunks     int64 `json:"empty_chunks"`
	SkippedExisting int64 `json:"skipped_existing"`
	FailedPeriods   int64 `json:"failed_periods"`
	FetchAttempts   int64 `json:"fetch_attempts"`
	ThrottleWaits   int64 `json:"throttle_waits"`
	RowsWritten     int64 `json:"rows_written"`
	StorageErrors   int64 `json:"storage_errors"`
	InvalidAborts   int64 `json:"invalid_aborts"`
}

// SyncReport summarizes a finished sync run.
type SyncReport struct {
	// RunID uniquely identifies the run
	RunID string `json:"run_id"`

	// Granularity names the store the run was executed against
	Granularity string `json:"granularity"`

	// Instruments lists the instruments the run targeted
	Instruments []string `json:"instruments"`

	// State is the terminal state the run reached
	State SyncState `json:"state"`

	// StartedAt and FinishedAt bound the run in wall time
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Counters is the metrics snapshot for the run
	Counters SyncCounters `json:"counters"`
}

// Duration returns the wall-clock length of the run.
func (r *SyncReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// String renders a one-line summary suitable for status notifications.
func (r *SyncReport) String() string {
	return fmt.Sprintf("sync %s %s: %s, %d written (%d empty), %d skipped, %d failed in %s",
		r.Granularity, r.RunID, r.State,
		r.Counters.ChunksWritten, r.Counters.EmptyChunks,
		r.Counters.SkippedExisting, r.Counters.FailedPeriods,
		r.Duration().Round(time.Millisecond))
}
