package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// SyntheticConfig controls the series a SyntheticProvider generates.
type SyntheticConfig struct {
	// Step is the spacing between generated rows.
	Step time.Duration

	// Fields names the value columns of every generated row.
	Fields []string

	// Earliest bounds the series at the far end. Windows that close on
	// or before it get a definitive no-data answer.
	Earliest time.Time

	// Instruments restricts the known universe. Fetching anything else
	// fails as an invalid instrument. Empty accepts every identifier.
	Instruments []string

	// SkipWeekends leaves Saturdays and Sundays without rows.
	SkipWeekends bool

	// Now supplies the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultSyntheticConfig returns the generation parameters used when a
// field is left at its zero value.
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Step:     30 * time.Minute,
		Fields:   []string{"close", "high", "low", "open"},
		Earliest: time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SyntheticProvider serves a deterministic artificial series with no
// network dependency: the same instrument and window always produce the
// same rows. It backs rehearsal syncs, demos, and tests; real sources
// plug in through the same Provider port.
type SyntheticProvider struct {
	cfg   SyntheticConfig
	known map[string]bool
}

var _ Provider = (*SyntheticProvider)(nil)

// NewSyntheticProvider builds a provider from cfg, filling zero-valued
// fields from DefaultSyntheticConfig.
func NewSyntheticProvider(cfg SyntheticConfig) *SyntheticProvider {
	defaults := DefaultSyntheticConfig()
	if cfg.Step <= 0 {
		cfg.Step = defaults.Step
	}
	if len(cfg.Fields) == 0 {
		cfg.Fields = defaults.Fields
	}
	if cfg.Earliest.IsZero() {
		cfg.Earliest = defaults.Earliest
	}
	cfg.Earliest = cfg.Earliest.UTC()
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	known := make(map[string]bool, len(cfg.Instruments))
	for _, id := range cfg.Instruments {
		known[id] = true
	}
	return &SyntheticProvider{cfg: cfg, known: known}
}

// Fetch generates the rows of [start, end). Rows never extend past the
// current clock reading, so windows still in progress come back partial
// and future windows come back empty.
func (p *SyntheticProvider) Fetch(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.known) > 0 && !p.known[instrument] {
		return nil, InvalidInstrument(instrument, fmt.Errorf("instrument %q is not in the synthetic universe", instrument))
	}

	start = start.UTC()
	limit := p.cfg.Now().UTC()
	if !end.IsZero() {
		end = end.UTC()
		if !end.After(p.cfg.Earliest) {
			return nil, NoData(instrument)
		}
		if end.Before(limit) {
			limit = end
		}
	}
	if start.Before(p.cfg.Earliest) {
		start = p.cfg.Earliest
	}

	var rows []models.Row
	for at := alignUp(start, p.cfg.Step); at.Before(limit); at = at.Add(p.cfg.Step) {
		if p.cfg.SkipWeekends {
			if wd := at.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
		}
		fields := make(map[string]decimal.NullDecimal, len(p.cfg.Fields))
		for _, field := range p.cfg.Fields {
			fields[field] = models.Value(p.value(instrument, field, at))
		}
		rows = append(rows, models.Row{Timestamp: at, Fields: fields})
	}
	return rows, nil
}

// value derives one cell deterministically from the instrument, field,
// and timestamp: a per-pair base level modulated by slow and fast waves.
func (p *SyntheticProvider) value(instrument, field string, at time.Time) decimal.Decimal {
	h := fnv.New64a()
	h.Write([]byte(instrument))
	h.Write([]byte{0})
	h.Write([]byte(field))
	seed := h.Sum64()

	base := 10 + float64(seed%9000)/10
	phase := float64(seed%628) / 100
	x := float64(at.Unix())
	v := base * (1 + 0.05*math.Sin(x/86400+phase) + 0.01*math.Sin(x/1800+2*phase))
	return decimal.NewFromFloat(v).Round(6)
}

func alignUp(t time.Time, step time.Duration) time.Time {
	aligned := t.Truncate(step)
	if aligned.Before(t) {
		aligned = aligned.Add(step)
	}
	return aligned
}
