package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
	"github.com/johnayoung/go-timeseries-archiver/internal/provider"
)

// fetchCall records one provider invocation.
type fetchCall struct {
	Instrument string
	Start      time.Time
	End        time.Time
}

// scriptedProvider serves preset rows and scripted failures. Each
// instrument carries one continuous series; Fetch slices it by the
// requested window, so consecutive sync windows see consistent history.
type scriptedProvider struct {
	mu      sync.Mutex
	series  map[string][]models.Row
	pending map[string][]error
	calls   []fetchCall
	onFetch func(call fetchCall)
	delay   time.Duration

	total atomic.Int64
}

var _ provider.Provider = (*scriptedProvider)(nil)

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		series:  make(map[string][]models.Row),
		pending: make(map[string][]error),
	}
}

// SetSeries installs the full history served for one instrument.
func (p *scriptedProvider) SetSeries(instrument string, rows []models.Row) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make([]models.Row, len(rows))
	copy(copied, rows)
	models.SortRows(copied)
	p.series[instrument] = copied
}

// FailNext queues errors returned, in order, by the instrument's next
// fetches before real data flows again.
func (p *scriptedProvider) FailNext(instrument string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending[instrument] = append(p.pending[instrument], errs...)
}

// OnFetch installs a hook invoked on every call, after it is recorded.
func (p *scriptedProvider) OnFetch(hook func(call fetchCall)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFetch = hook
}

// SetDelay makes every fetch wait before answering.
func (p *scriptedProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// CallCount returns how many fetches were issued in total.
func (p *scriptedProvider) CallCount() int64 {
	return p.total.Load()
}

// Calls returns a copy of the recorded invocations in order.
func (p *scriptedProvider) Calls() []fetchCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]fetchCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// Fetch implements provider.Provider.
func (p *scriptedProvider) Fetch(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error) {
	p.total.Add(1)
	call := fetchCall{Instrument: instrument, Start: start, End: end}

	p.mu.Lock()
	p.calls = append(p.calls, call)
	hook := p.onFetch
	delay := p.delay
	var scripted error
	if queue := p.pending[instrument]; len(queue) > 0 {
		scripted = queue[0]
		p.pending[instrument] = queue[1:]
	}
	rows := p.series[instrument]
	p.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scripted != nil {
		return nil, scripted
	}

	var out []models.Row
	for _, r := range rows {
		if r.Timestamp.Before(start) || !r.Timestamp.Before(end) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

// dailyRows builds one morning and one evening observation per day for
// days consecutive days starting at from, valued so every row differs.
func dailyRows(from time.Time, days int) []models.Row {
	rows := make([]models.Row, 0, days*2)
	day := from.UTC().Truncate(24 * time.Hour)
	for i := 0; i < days; i++ {
		for _, offset := range []time.Duration{9 * time.Hour, 17 * time.Hour} {
			at := day.AddDate(0, 0, i).Add(offset)
			rows = append(rows, models.NewRow(at, map[string]decimal.NullDecimal{
				"close": models.Value(decimal.NewFromInt(int64(i*100) + int64(offset/time.Hour))),
			}))
		}
	}
	return rows
}
