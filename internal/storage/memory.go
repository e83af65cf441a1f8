package storage

import (
	"context"
	"io/fs"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// MemoryStore is an in-memory ChunkStorage used by tests and development
// runs. It mirrors the file store's behavior over a map of simulated
// files: backup rotation, confirmed-empty chunks, and index rebuild all
// work the same way, so contract tests can run against either store.
type MemoryStore struct {
	granularity chunk.Granularity
	period      chunk.Period
	logger      *slog.Logger

	mu       sync.RWMutex
	files    map[string]map[string][]byte
	index    map[string]*instrumentState
	writeErr error
}

var _ ChunkStorage = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store for one granularity.
func NewMemoryStore(granularity chunk.Granularity, logger *slog.Logger) *MemoryStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		granularity: granularity,
		period:      granularity.Period(),
		logger:      logger.With("component", "storage", "granularity", granularity.String()),
		files:       make(map[string]map[string][]byte),
		index:       make(map[string]*instrumentState),
	}
}

// Granularity identifies which partitioning the store manages.
func (s *MemoryStore) Granularity() chunk.Granularity {
	return s.granularity
}

// Load rebuilds the index from the simulated files.
func (s *MemoryStore) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	index := make(map[string]*instrumentState)
	for instrument, files := range s.files {
		names := make([]string, 0, len(files))
		for name := range files {
			names = append(names, name)
		}
		sort.Strings(names)
		read := func(name string) ([]byte, error) {
			data, ok := files[name]
			if !ok {
				return nil, fs.ErrNotExist
			}
			return data, nil
		}
		index[instrument] = rebuildEntry(s.period, instrument, names, read, s.logger)
	}

	s.index = index
	return nil
}

// AddInstrument registers an instrument. Re-adding changes nothing.
func (s *MemoryStore) AddInstrument(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateInstrument(instrument); err != nil {
		return NewAddError(instrument, "", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[instrument]; !ok {
		s.files[instrument] = make(map[string][]byte)
	}
	if _, ok := s.index[instrument]; !ok {
		s.index[instrument] = newInstrumentState(instrument)
	}
	return nil
}

// HasChunk reports whether the index knows a complete live chunk for the
// period containing periodStart.
func (s *MemoryStore) HasChunk(instrument string, periodStart time.Time) bool {
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

// WriteChunk normalizes and stores the rows for one period, rotating any
// live file of either completeness variant to its hidden backup first.
func (s *MemoryStore) WriteChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool, rows []models.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateInstrument(instrument); err != nil {
		return NewWriteError(instrument, "", err)
	}
	start := s.period.Floor(periodStart)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return NewWriteError(instrument, s.fileName(start, incomplete), s.writeErr)
	}

	files, ok := s.files[instrument]
	if !ok {
		files = make(map[string][]byte)
		s.files[instrument] = files
	}

	for _, variant := range []bool{!incomplete, incomplete} {
		name := s.fileName(start, variant)
		if data, exists := files[name]; exists {
			files[backupPrefix+name] = data
			delete(files, name)
		}
	}

	rows = models.MergeRows(rows)
	data := []byte{}
	if len(rows) > 0 {
		encoded, err := encodeRows(rows)
		if err != nil {
			return NewWriteError(instrument, s.fileName(start, incomplete), err)
		}
		data = encoded
	}
	files[s.fileName(start, incomplete)] = data

	state, ok := s.index[instrument]
	if !ok {
		state = newInstrumentState(instrument)
		s.index[instrument] = state
	}
	state.chunks[start] = incomplete
	return nil
}

// ReadChunk decodes one stored chunk back into rows.
func (s *MemoryStore) ReadChunk(ctx context.Context, instrument string, periodStart time.Time, incomplete bool) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := s.fileName(s.period.Floor(periodStart), incomplete)

	s.mu.RLock()
	data, ok := s.files[instrument][name]
	s.mu.RUnlock()
	if !ok {
		return nil, NewReadError(instrument, name, fs.ErrNotExist)
	}

	rows, err := decodeRows(data)
	if err != nil {
		return nil, NewReadError(instrument, name, err)
	}
	return rows, nil
}

// Instruments returns the registered instrument identifiers, sorted.
func (s *MemoryStore) Instruments() []string {
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
func (s *MemoryStore) Summary(instrument string) (models.InstrumentSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.index[instrument]
	if !ok {
		return models.InstrumentSummary{}, false
	}
	return state.summary, true
}

// Summaries returns every index entry, sorted by instrument.
func (s *MemoryStore) Summaries() []models.InstrumentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.InstrumentSummary, 0, len(s.index))
	for _, state := range s.index {
		out = append(out, state.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

// SetWriteError makes subsequent WriteChunk calls fail with err until
// cleared with nil. Only tests use this.
func (s *MemoryStore) SetWriteError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// CorruptChunk overwrites a live chunk's content with bytes that do not
// decode. The index is left untouched so a later Load can discover the
// corruption. Only tests use this.
func (s *MemoryStore) CorruptChunk(instrument string, periodStart time.Time, incomplete bool) bool {
	name := s.fileName(s.period.Floor(periodStart), incomplete)

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.files[instrument]
	if !ok {
		return false
	}
	if _, exists := files[name]; !exists {
		return false
	}
	files[name] = []byte("Date,value\nnot a timestamp,1\n")
	return true
}

// DeleteChunk removes a live chunk file without touching the index, the
// way an out-of-band deletion would. Only tests use this.
func (s *MemoryStore) DeleteChunk(instrument string, periodStart time.Time, incomplete bool) bool {
	name := s.fileName(s.period.Floor(periodStart), incomplete)

	s.mu.Lock()
	defer s.mu.Unlock()

	files, ok := s.files[instrument]
	if !ok {
		return false
	}
	if _, exists := files[name]; !exists {
		return false
	}
	delete(files, name)
	return true
}

// BackupChunk returns the rotated backup content for a period, if any.
func (s *MemoryStore) BackupChunk(instrument string, periodStart time.Time, incomplete bool) ([]byte, bool) {
	name := backupPrefix + s.fileName(s.period.Floor(periodStart), incomplete)

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[instrument][name]
	return data, ok
}

// ChunkData returns the raw live chunk content for a period, if any.
func (s *MemoryStore) ChunkData(instrument string, periodStart time.Time, incomplete bool) ([]byte, bool) {
	name := s.fileName(s.period.Floor(periodStart), incomplete)

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[instrument][name]
	return data, ok
}

func (s *MemoryStore) fileName(periodStart time.Time, incomplete bool) string {
	return s.period.Identifier(periodStart, incomplete) + chunkFileExt
}
