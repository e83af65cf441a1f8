package models

import (
	"fmt"
	"time"
)

// InstrumentSummary is one entry of the rebuildable store index: the
// observed range and chunk coverage of a single instrument at one
// granularity. It is derived purely from the on-disk chunk files and is
// safe to discard and rebuild at any time.
type InstrumentSummary struct {
	// Instrument is the identifier of the series subject
	Instrument string `json:"instrument"`

	// FirstObserved is the earliest row timestamp across all chunks
	FirstObserved time.Time `json:"first_observed"`

	// LastObserved is the latest row timestamp across all chunks
	LastObserved time.Time `json:"last_observed"`

	// ChunkCount is the number of chunk files present, empty ones included
	ChunkCount int `json:"chunk_count"`

	// MissingChunks counts the calendar periods between FirstObserved and
	// LastObserved for which no chunk file exists
	MissingChunks int `json:"missing_chunks"`

	// Empty marks an instrument that is registered but holds zero
	// non-empty chunks; the range fields are meaningless when set
	Empty bool `json:"empty"`
}

// Range formats the observed range for display. Empty instruments report
// that no data is present yet.
func (s InstrumentSummary) Range() string {
	if s.Empty {
		return "no data"
	}
	return fmt.Sprintf("%s to %s",
		s.FirstObserved.UTC().Format("2006-01-02 15:04:05"),
		s.LastObserved.UTC().Format("2006-01-02 15:04:05"))
}
