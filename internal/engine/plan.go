package engine

import (
	"context"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/chunk"
)

// window is one half-open fetch range [Start, End). Incomplete marks a
// period whose end lies beyond the clock reading the plan was built
// with; such periods are always fetched again, because more of their
// data can still arrive.
type window struct {
	Start      time.Time
	End        time.Time
	Incomplete bool
}

// instrumentPlan lists the windows one instrument still needs, in
// chronological order.
type instrumentPlan struct {
	Instrument string
	Windows    []window
}

// PlanSummary describes what a run would fetch for one instrument.
type PlanSummary struct {
	Instrument string
	Periods    int
	Incomplete int
	First      time.Time
	Last       time.Time
}

// DryRun computes the fetch plan a Sync call would execute right now,
// without touching the provider or the store. An empty selection means
// every registered instrument.
func (e *Engine) DryRun(ctx context.Context, instruments ...string) ([]PlanSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selected, err := e.selectInstruments(instruments)
	if err != nil {
		return nil, err
	}

	plans, _, _ := e.plan(e.now().UTC(), selected)
	summaries := make([]PlanSummary, 0, len(plans))
	for _, p := range plans {
		s := PlanSummary{Instrument: p.Instrument, Periods: len(p.Windows)}
		for _, w := range p.Windows {
			if w.Incomplete {
				s.Incomplete++
			}
		}
		if len(p.Windows) > 0 {
			s.First = p.Windows[0].Start
			s.Last = p.Windows[len(p.Windows)-1].Start
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// plan enumerates every period from the granularity's lookback start
// through now and keeps the ones worth fetching: periods with no
// complete chunk on record, plus every period still in progress.
// It returns the per-instrument plans along with the total number of
// planned windows and the number skipped as already stored.
func (e *Engine) plan(now time.Time, instruments []string) ([]instrumentPlan, int, int) {
	period := e.store.Granularity().Period()
	starts := period.Starts(e.lookbackStart(now), now)

	plans := make([]instrumentPlan, 0, len(instruments))
	planned, skipped := 0, 0
	for _, instrument := range instruments {
		windows := make([]window, 0, len(starts))
		for _, start := range starts {
			end := period.Next(start)
			incomplete := end.After(now)
			if !incomplete && e.store.HasChunk(instrument, start) {
				skipped++
				continue
			}
			windows = append(windows, window{Start: start, End: end, Incomplete: incomplete})
		}
		planned += len(windows)
		plans = append(plans, instrumentPlan{Instrument: instrument, Windows: windows})
	}
	return plans, planned, skipped
}

// lookbackStart computes how far back a run reaches. Year and day
// partitioned series go all the way back to the configured epoch; the
// finer partitionings are bounded because sources only serve recent
// history at those granularities.
func (e *Engine) lookbackStart(now time.Time) time.Time {
	switch e.store.Granularity() {
	case chunk.Yearly, chunk.Daily:
		return e.cfg.Epoch
	case chunk.Monthly:
		return now.Add(-e.cfg.MonthlyLookback)
	case chunk.SubHour:
		return now.Add(-e.cfg.SubHourLookback)
	default:
		return e.cfg.Epoch
	}
}
