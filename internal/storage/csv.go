package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// CSVStore is the file-backed ChunkStorage implementation. One store
// instance manages the subtree of a single granularity.
type CSVStore struct {
	root        string
	dir         string
	granularity chunk.Granularity
	period      chunk.Period
	logger      *slog.Logger

	mu    sync.RWMutex
	index map[string]*instrumentState
}

var _ ChunkStorage = (*CSVStore)(nil)

// NewCSVStore opens the granularity subtree under root, creating it if
// absent. Failure to create the tree is the only fatal setup condition.
func NewCSVStore(root string, granularity chunk.Granularity, logger *slog.Logger) (*CSVStore, error) {
	if !granularity.Valid() {
		return nil, fmt.Errorf("invalid granularity %d", int(granularity))
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(root, granularity.String())
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, NewLoadError("", dir, err)
	}
	return &CSVStore{
		root:        root,
		dir:         dir,
		granularity: granularity,
		period:      granularity.Period(),
		logger:      logger.With("component", "storage", "granularity", granularity.String()),
		index:       make(map[string]*instrumentState),
	}, nil
}

// Granularity identifies which partitioning the store manages.
func (s *CSVStore) Granularity() chunk.Granularity {
	return s.granularity
}

// Load rebuilds the index by rescanning the granularity subtree. Files
// whose names or contents cannot be parsed are treated as absent, so
// their periods are planned for fetching again.
func (s *CSVStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return NewLoadError("", s.dir, err)
	}

	index := make(map[string]*instrumentState)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), instrumentDirPrefix) {
			s.logger.Debug("skipping unrecognized directory", "name", entry.Name())
			continue
		}
		instrument := strings.TrimPrefix(entry.Name(), instrumentDirPrefix)
		state, err := s.scanInstrument(instrument)
		if err != nil {
			return err
		}
		index[instrument] = state
	}

	s.index = index
	s.logger.Info("index rebuilt", "instruments", len(index))
	return nil
}

func (s *CSVStore) scanInstrument(instrument string) (*instrumentState, error) {
	dir := s.instrumentDir(instrument)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, NewLoadError(instrument, dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	read := func(name string) ([]byte, error) {
		return os.ReadFile(filepath.Join(dir, name))
	}
	return rebuildEntry(s.period, instrument, names, read, s.logger), nil
}

// AddInstrument creates the instrument folder and registers an empty
// index entry. Adding an instrument that already exists changes nothing.
func (s *CSVStore) AddInstrument(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateInstrument(instrument); err != nil {
		return NewAddError(instrument, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.instrumentDir(instrument)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return NewAddError(instrument, dir, err)
	}
	if _, ok := s.index[instrument]; !ok {
		s.index[instrument] = newInstrumentState(instrument)
	}
	return nil
}

// HasChunk reports whether the index knows a complete live chunk for the
// period containing periodStart.
func (s *CSVStore) HasChunk(instrument string, periodStart time.Time) bool {
	start := s.period.Floor(periodStart)

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.index[instrument]
	if !ok {
		return false
	}
	incomplete, ok := state.chunks[start]
	return ok && !incomplete
}

// WriteChunk normalizes and persists the rows for one period. Any live
// file for the same period, under either completeness variant, is first
// renamed to its hidden backup so exactly one live file remains.
func (s *CSVStore) WriteChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool, rows []models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateInstrument(instrument); err != nil {
		return NewWriteError(instrument, "", err)
	}
	start := s.period.Floor(periodStart)

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.instrumentDir(instrument)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return NewWriteError(instrument, dir, err)
	}

	for _, variant := range []bool{!incomplete, incomplete} {
		name := s.period.Identifier(start, variant) + chunkFileExt
		live := filepath.Join(dir, name)
		if _, err := os.Stat(live); err == nil {
			backup := filepath.Join(dir, backupPrefix+name)
			if err := os.Rename(live, backup); err != nil {
				return NewWriteError(instrument, live, err)
			}
		}
	}

	rows = models.MergeRows(rows)
	var data []byte
	if len(rows) > 0 {
		encoded, err := encodeRows(rows)
		if err != nil {
			return NewWriteError(instrument, dir, err)
		}
		data = encoded
	}

	path := s.chunkPath(instrument, start, incomplete)
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return NewWriteError(instrument, path, err)
	}

	state, ok := s.index[instrument]
	if !ok {
		state = newInstrumentState(instrument)
		s.index[instrument] = state
	}
	state.chunks[start] = incomplete

	s.logger.Debug("chunk written",
		"instrument", instrument,
		"chunk", s.period.Identifier(start, incomplete),
		"rows", len(rows))
	return nil
}

// ReadChunk decodes one chunk file back into rows. A zero-byte confirmed
// empty chunk yields zero rows and no error.
func (s *CSVStore) ReadChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := s.chunkPath(instrument, periodStart, incomplete)

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if err != nil {
		return nil, NewReadError(instrument, path, err)
	}

	rows, err := decodeRows(data)
	if err != nil {
		return nil, NewReadError(instrument, path, err)
	}
	return rows, nil
}

// Instruments returns the registered instrument identifiers, sorted.
func (s *CSVStore) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.index))
	for id := range s.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Summary returns the index entry for one instrument.
func (s *CSVStore) Summary(instrument string) (models.InstrumentSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.index[instrument]
	if !ok {
		return models.InstrumentSummary{}, false
	}
	return state.summary, true
}

// Summaries returns every index entry, sorted by instrument.
func (s *CSVStore) Summaries() []models.InstrumentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.InstrumentSummary, 0, len(s.index))
	for _, state := range s.index {
		out = append(out, state.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (s *CSVStore) instrumentDir(instrument string) string {
	return filepath.Join(s.dir, instrumentDirPrefix+instrument)
}

func (s *CSVStore) chunkPath(instrument string, periodStart time.Time, incomplete bool) string {
	return filepath.Join(s.instrumentDir(instrument), s.period.Identifier(periodStart, incomplete)+chunkFileExt)
}
