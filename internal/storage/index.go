package storage

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

const (
	// instrumentDirPrefix prefixes every instrument folder name.
	instrumentDirPrefix = "RIC "
	// chunkFileExt terminates every chunk filename.
	chunkFileExt = ".csv"
	// backupPrefix hides rotated chunk files from index scans.
	backupPrefix = "."
)

// instrumentState pairs an instrument's summary with the set of live
// chunks known for it, keyed by period start. The value records whether
// the live file carries the incomplete marker.
type instrumentState struct {
	summary models.InstrumentSummary
	chunks  map[time.Time]bool
}

func newInstrumentState(instrument string) *instrumentState {
	return &instrumentState{
		summary: models.InstrumentSummary{Instrument: instrument, Empty: true},
		chunks:  make(map[time.Time]bool),
	}
}

func validateInstrument(instrument string) error {
	if strings.TrimSpace(instrument) == "" {
		return errors.New("instrument identifier is empty")
	}
	return nil
}

// rebuildEntry computes one instrument's index entry from a listing of
// its filenames plus a content reader. Backup files and filenames that do
// not parse as chunk identifiers are ignored. The observed bounds come
// from the actual row timestamps of the first and last non-empty chunks;
// the scan walks inward past files whose contents fail to decode and
// drops those from the entry so their periods count as absent.
func rebuildEntry(period chunk.Period, instrument string, names []string, read func(name string) ([]byte, error), logger *slog.Logger) *instrumentState {
	chunks := make(map[time.Time]bool)
	for _, name := range names {
		if strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, chunkFileExt) {
			continue
		}
		start, incomplete, err := period.ParseIdentifier(strings.TrimSuffix(name, chunkFileExt))
		if err != nil {
			logger.Warn("ignoring unrecognized chunk filename",
				"instrument", instrument, "name", name, "error", err)
			continue
		}
		// A complete file wins over an incomplete sibling of the same period.
		if prev, seen := chunks[start]; !seen || prev {
			chunks[start] = incomplete
		}
	}

	starts := make([]time.Time, 0, len(chunks))
	for start := range chunks {
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	bounds := func(start time.Time) (first, last time.Time, hasRows, ok bool) {
		name := period.Identifier(start, chunks[start]) + chunkFileExt
		data, err := read(name)
		if err != nil {
			logger.Warn("treating unreadable chunk as absent",
				"instrument", instrument, "name", name, "error", err)
			return time.Time{}, time.Time{}, false, false
		}
		first, last, err = boundingTimestamps(data)
		if err != nil {
			logger.Warn("treating malformed chunk as absent",
				"instrument", instrument, "name", name, "error", err)
			return time.Time{}, time.Time{}, false, false
		}
		return first, last, !first.IsZero(), true
	}

	summary := models.InstrumentSummary{Instrument: instrument, Empty: true}

	for _, start := range starts {
		first, _, hasRows, ok := bounds(start)
		if !ok {
			delete(chunks, start)
			continue
		}
		if hasRows {
			summary.FirstObserved = first
			summary.Empty = false
			break
		}
	}
	if !summary.Empty {
		for i := len(starts) - 1; i >= 0; i-- {
			start := starts[i]
			if _, kept := chunks[start]; !kept {
				continue
			}
			_, last, hasRows, ok := bounds(start)
			if !ok {
				delete(chunks, start)
				continue
			}
			if hasRows {
				summary.LastObserved = last
				break
			}
		}
	}

	summary.ChunkCount = len(chunks)
	if len(chunks) > 0 {
		var spanFirst, spanLast time.Time
		for start := range chunks {
			if spanFirst.IsZero() || start.Before(spanFirst) {
				spanFirst = start
			}
			if start.After(spanLast) {
				spanLast = start
			}
		}
		if missing := period.Count(spanFirst, spanLast) - len(chunks); missing > 0 {
			summary.MissingChunks = missing
		}
	}

	return &instrumentState{summary: summary, chunks: chunks}
}
