// Package storage owns the partitioned on-disk archive: one directory tree
// per granularity, one folder per instrument, one CSV chunk file per
// calendar period. It rebuilds its index purely by rescanning the tree;
// the chunk files themselves are the only authoritative state.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// ChunkWriter handles mutations of the archive tree.
type ChunkWriter interface {
	// AddInstrument registers an instrument, creating its folder if
	// absent. Re-adding an existing instrument is a no-op beyond
	// re-affirming its presence in the index.
	AddInstrument(ctx context.Context, instrument string) error

	// WriteChunk persists the rows fetched for one period. Rows are
	// normalized (merged by timestamp, columns ordered alphabetically,
	// numerics rendered at fixed precision); any live file for the same
	// period is first renamed to its hidden backup; zero rows produce a
	// zero-byte confirmed-empty chunk.
	WriteChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool, rows []models.Row) error
}

// ChunkReader answers questions about individual chunks.
type ChunkReader interface {
	// HasChunk reports whether a live chunk file exists for the exact
	// period start that is not marked incomplete. The engine uses it to
	// decide whether a fetch may be skipped.
	HasChunk(instrument string, periodStart time.Time) bool

	// ReadChunk decodes one chunk back into rows. A confirmed-empty
	// chunk yields zero rows and no error.
	ReadChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool) ([]models.Row, error)
}

// IndexReader exposes the in-memory index built by the last Load.
type IndexReader interface {
	// Instruments returns the registered instrument identifiers, sorted.
	Instruments() []string

	// Summary returns the index entry for one instrument.
	Summary(instrument string) (models.InstrumentSummary, bool)

	// Summaries returns all index entries, sorted by instrument.
	Summaries() []models.InstrumentSummary
}

// IndexLoader rebuilds the index from the filesystem.
type IndexLoader interface {
	// Load rescans the tree. Files that fail to parse are treated as
	// absent; an instrument with zero non-empty chunks loads as an
	// empty (not failed) entry. Loading twice with no intervening
	// writes yields an identical index.
	Load(ctx context.Context) error
}

// ChunkStorage is the full store contract consumed by the sync engine.
type ChunkStorage interface {
	IndexLoader
	IndexReader
	ChunkReader
	ChunkWriter

	// Granularity identifies which partitioning the store manages.
	Granularity() chunk.Granularity
}

// StorageError carries the context of a failed store operation.
type StorageError struct {
	Op         string // "load", "write", "read", "add"
	Instrument string
	Path       string
	Err        error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Instrument != "" {
		return fmt.Sprintf("storage %s for %s: %v", e.Op, e.Instrument, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewLoadError wraps a failure during index rebuild.
func NewLoadError(instrument, path string, err error) *StorageError {
	return &StorageError{Op: "load", Instrument: instrument, Path: path, Err: err}
}

// NewWriteError wraps a failure during chunk persistence.
func NewWriteError(instrument, path string, err error) *StorageError {
	return &StorageError{Op: "write", Instrument: instrument, Path: path, Err: err}
}

// NewReadError wraps a failure decoding a chunk.
func NewReadError(instrument, path string, err error) *StorageError {
	return &StorageError{Op: "read", Instrument: instrument, Path: path, Err: err}
}

// NewAddError wraps a failure registering an instrument.
func NewAddError(instrument, path string, err error) *StorageError {
	return &StorageError{Op: "add", Instrument: instrument, Path: path, Err: err}
}
