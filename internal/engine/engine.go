// Package engine drives incremental synchronization: it plans the
// periods each instrument is missing, fetches them one provider call at
// a time under a global pacing limit, and persists every result before
// moving on. A run is resumable by construction because each chunk
// lands in storage the moment it is fetched.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
	"github.com/johnayoung/go-timeseries-archiver/internal/provider"
	"github.com/johnayoung/go-timeseries-archiver/internal/storage"
	"github.com/johnayoung/go-timeseries-archiver/internal/validator"
)

const (
	// DefaultMaxAttempts bounds how many times one window is fetched
	// before its period is skipped for the run.
	DefaultMaxAttempts = 5

	// DefaultMinCallSpacing separates consecutive provider calls.
	DefaultMinCallSpacing = 100 * time.Millisecond

	// DefaultThrottleCooldown is served before retrying a call the
	// source throttled.
	DefaultThrottleCooldown = time.Minute

	retryMaxInterval = 30 * time.Second
)

// ErrSyncActive is returned by Sync while another run is in progress.
var ErrSyncActive = errors.New("a sync run is already active")

// Config tunes a sync engine. Start from DefaultConfig; the zero value
// does not validate.
type Config struct {
	// MaxAttempts is the per-window fetch ceiling, first try included.
	MaxAttempts int

	// MinCallSpacing is the minimum time between provider calls.
	MinCallSpacing time.Duration

	// ThrottleCooldown is how long the engine waits after the source
	// pushes back on call rate. The throttled call still counts as one
	// attempt.
	ThrottleCooldown time.Duration

	// RetryBackoffBase seeds the exponential delay between retries.
	RetryBackoffBase time.Duration

	// Epoch is the furthest-back bound for year and day partitioned
	// series.
	Epoch time.Time

	// MonthlyLookback bounds month partitioned series.
	MonthlyLookback time.Duration

	// SubHourLookback bounds half-hour partitioned series.
	SubHourLookback time.Duration
}

// DefaultConfig returns the tuning used when no config is supplied.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      DefaultMaxAttempts,
		MinCallSpacing:   DefaultMinCallSpacing,
		ThrottleCooldown: DefaultThrottleCooldown,
		RetryBackoffBase: 500 * time.Millisecond,
		Epoch:            time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC),
		MonthlyLookback:  2 * 365 * 24 * time.Hour,
		SubHourLookback:  30 * 24 * time.Hour,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	if c.MaxAttempts < 1 {
		problems = append(problems, "max attempts must be at least 1")
	}
	if c.MinCallSpacing < 0 {
		problems = append(problems, "min call spacing cannot be negative")
	}
	if c.ThrottleCooldown < 0 {
		problems = append(problems, "throttle cooldown cannot be negative")
	}
	if c.RetryBackoffBase <= 0 {
		problems = append(problems, "retry backoff base must be positive")
	}
	if c.Epoch.IsZero() {
		problems = append(problems, "epoch must be set")
	}
	if c.MonthlyLookback <= 0 {
		problems = append(problems, "monthly lookback must be positive")
	}
	if c.SubHourLookback <= 0 {
		problems = append(problems, "sub-hour lookback must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid engine config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Engine implements Syncer over one store and one provider.
type Engine struct {
	store    storage.ChunkStorage
	provider provider.Provider
	rows     *validator.RowValidator
	cfg      *Config
	logger   *slog.Logger
	sink     StatusSink
	limiter  *rate.Limiter

	running int32

	stateMu sync.RWMutex
	state   models.SyncState

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc

	metricsMu   sync.Mutex
	runCounters *runMetrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

var _ Syncer = (*Engine)(nil)

// New wires an engine from its dependencies. A nil cfg means
// DefaultConfig, a nil sink discards status messages.
func New(store storage.ChunkStorage, prov provider.Provider, cfg *Config, logger *slog.Logger, sink StatusSink) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine requires a store")
	}
	if prov == nil {
		return nil, errors.New("engine requires a provider")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = NopSink()
	}
	logger = logger.With("component", "engine")

	return &Engine{
		store:    store,
		provider: prov,
		rows:     validator.New(logger),
		cfg:      cfg,
		logger:   logger,
		sink:     sink,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinCallSpacing), 1),
		state:    models.SyncIdle,
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// LoadIndex rebuilds the store index from the archive tree.
func (e *Engine) LoadIndex(ctx context.Context) error {
	if err := e.store.Load(ctx); err != nil {
		return fmt.Errorf("load index: %w", err)
	}
	count := len(e.store.Instruments())
	e.logger.Info("index loaded", "instruments", count)
	e.sink.Notify(fmt.Sprintf("index loaded: %d instruments", count))
	return nil
}

// AddInstruments registers every identifier with the store.
func (e *Engine) AddInstruments(ctx context.Context, instruments []string) error {
	for _, instrument := range instruments {
		if err := e.store.AddInstrument(ctx, instrument); err != nil {
			return fmt.Errorf("add instrument %q: %w", instrument, err)
		}
		e.logger.Info("instrument registered", "instrument", instrument)
	}
	if len(instruments) > 0 {
		e.sink.Notify(fmt.Sprintf("registered %d instruments", len(instruments)))
	}
	return nil
}

// State reports the engine's position in the run lifecycle.
func (e *Engine) State() models.SyncState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// Metrics snapshots the counters of the run in progress, or of the most
// recent run once it finished.
func (e *Engine) Metrics() models.SyncCounters {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	if e.runCounters == nil {
		return models.SyncCounters{}
	}
	return e.runCounters.snapshot()
}

// Cancel asks the active run to stop at the next fetch boundary. Calling
// it with no run active does nothing.
func (e *Engine) Cancel() {
	e.cancelMu.Lock()
	cancel := e.cancelRun
	e.cancelMu.Unlock()
	if cancel != nil {
		e.logger.Info("cancellation requested")
		cancel()
	}
}

// Sync plans and executes one run. Cancellation is a normal outcome: the
// report carries the Cancelled state with a nil error, and every chunk
// written before the stop remains in storage. Per-period failures are
// counted and skipped, never escalated; the only errors returned are a
// rejected selection and a run already in progress.
func (e *Engine) Sync(ctx context.Context, instruments ...string) (*models.SyncReport, error) {
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil, ErrSyncActive
	}
	defer atomic.StoreInt32(&e.running, 0)

	selected, err := e.selectInstruments(instruments)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.setCancelFunc(cancel)
	defer e.setCancelFunc(nil)

	report := &models.SyncReport{
		RunID:       uuid.NewString(),
		Granularity: e.store.Granularity().String(),
		Instruments: selected,
		StartedAt:   e.now().UTC(),
	}
	metrics := &runMetrics{}
	e.metricsMu.Lock()
	e.runCounters = metrics
	e.metricsMu.Unlock()
	logger := e.logger.With("run_id", shortID(report.RunID))

	e.setState(models.SyncPlanning)
	now := e.now().UTC()
	plans, planned, skipped := e.plan(now, selected)
	metrics.periodsPlanned.Store(int64(planned))
	metrics.skippedExisting.Store(int64(skipped))
	logger.Info("run planned",
		"instruments", len(selected), "periods", planned, "skipped_existing", skipped)
	e.sink.Notify(fmt.Sprintf("sync %s: planned %d periods across %d instruments (%d already stored)",
		shortID(report.RunID), planned, len(selected), skipped))

	e.setState(models.SyncFetching)
	for _, p := range plans {
		if runCtx.Err() != nil {
			break
		}
		e.syncInstrument(runCtx, logger, p, metrics)
	}

	if runCtx.Err() != nil {
		e.setState(models.SyncCancelled)
		report.State = models.SyncCancelled
	} else {
		e.setState(models.SyncCompleted)
		report.State = models.SyncCompleted
	}
	report.FinishedAt = e.now().UTC()
	report.Counters = metrics.snapshot()

	logger.Info("run finished",
		"state", report.State,
		"written", report.Counters.ChunksWritten,
		"empty", report.Counters.EmptyChunks,
		"failed", report.Counters.FailedPeriods,
		"duration", report.Duration().Round(time.Millisecond))
	e.sink.Notify(report.String())
	return report, nil
}

// selectInstruments resolves the requested identifiers against the
// index: no selection means every registered instrument, anything not
// registered rejects the run before it starts.
func (e *Engine) selectInstruments(requested []string) ([]string, error) {
	registered := e.store.Instruments()
	if len(requested) == 0 {
		return registered, nil
	}

	known := make(map[string]bool, len(registered))
	for _, id := range registered {
		known[id] = true
	}
	unique := make(map[string]bool, len(requested))
	selected := make([]string, 0, len(requested))
	for _, id := range requested {
		if !known[id] {
			return nil, fmt.Errorf("instrument %q is not registered; add it first", id)
		}
		if !unique[id] {
			unique[id] = true
			selected = append(selected, id)
		}
	}
	sort.Strings(selected)
	return selected, nil
}

func (e *Engine) syncInstrument(ctx context.Context, logger *slog.Logger, p instrumentPlan, m *runMetrics) {
	if len(p.Windows) == 0 {
		logger.Debug("nothing to fetch", "instrument", p.Instrument)
		return
	}
	logger.Info("syncing instrument", "instrument", p.Instrument, "periods", len(p.Windows))
	e.sink.Notify(fmt.Sprintf("%s: fetching %d periods", p.Instrument, len(p.Windows)))

	for _, w := range p.Windows {
		if ctx.Err() != nil {
			return
		}
		if aborted := e.fetchWindow(ctx, logger, p.Instrument, w, m); aborted {
			e.sink.Notify(fmt.Sprintf("%s: aborted, the source does not know this instrument", p.Instrument))
			return
		}
	}
}

// fetchWindow fetches, cleans, and stores one window. It reports whether
// the instrument should be abandoned for the rest of the run.
func (e *Engine) fetchWindow(ctx context.Context, logger *slog.Logger, instrument string, w window, m *runMetrics) bool {
	id := e.store.Granularity().Period().Identifier(w.Start, w.Incomplete)

	rows, err := e.fetchWithRetry(ctx, instrument, w, m)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		switch provider.KindOf(err) {
		case provider.KindInvalidInstrument:
			m.invalidAborts.Add(1)
			logger.Warn("instrument rejected by source", "instrument", instrument, "error", err)
			return true
		case provider.KindNoData:
			rows = nil
		default:
			m.failedPeriods.Add(1)
			logger.Warn("period skipped after exhausting retries",
				"instrument", instrument, "chunk", id, "error", err)
			e.sink.Notify(fmt.Sprintf("%s: giving up on %s for this run", instrument, id))
			return false
		}
	}

	cleaned, issues := e.rows.Clean(rows, w.Start, w.End)
	for _, issue := range issues {
		logger.Debug("row issue", "instrument", instrument, "chunk", id, "issue", issue.String())
	}

	if err := e.store.WriteChunk(ctx, instrument, w.Start, w.Incomplete, cleaned); err != nil {
		if ctx.Err() != nil {
			return false
		}
		m.storageErrors.Add(1)
		logger.Error("chunk write failed", "instrument", instrument, "chunk", id, "error", err)
		e.sink.Notify(fmt.Sprintf("%s: failed to write %s", instrument, id))
		return false
	}

	m.chunksWritten.Add(1)
	if len(cleaned) == 0 {
		m.emptyChunks.Add(1)
	} else {
		m.rowsWritten.Add(int64(len(cleaned)))
	}
	logger.Debug("chunk stored", "instrument", instrument, "chunk", id, "rows", len(cleaned))
	return false
}

// fetchWithRetry issues provider calls for one window under the global
// pacing limit, retrying transient failures with exponential backoff up
// to the attempt ceiling. Invalid-instrument and no-data answers stop
// retrying immediately, and a throttled call serves the long cooldown
// before the next attempt.
func (e *Engine) fetchWithRetry(ctx context.Context, instrument string, w window, m *runMetrics) ([]models.Row, error) {
	var rows []models.Row
	operation := func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		m.fetchAttempts.Add(1)
		fetched, err := e.provider.Fetch(ctx, instrument, w.Start, w.End)
		if err == nil {
			rows = fetched
			return nil
		}
		switch provider.KindOf(err) {
		case provider.KindInvalidInstrument, provider.KindNoData:
			return backoff.Permanent(err)
		case provider.KindThrottled:
			m.throttleWaits.Add(1)
			e.logger.Warn("source throttled, cooling down",
				"instrument", instrument, "cooldown", e.cfg.ThrottleCooldown)
			if sleepErr := e.sleep(ctx, e.cfg.ThrottleCooldown); sleepErr != nil {
				return backoff.Permanent(sleepErr)
			}
			return err
		default:
			return err
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.cfg.RetryBackoffBase
	expo.MaxInterval = retryMaxInterval

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(e.cfg.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("fetch attempt failed",
			"instrument", instrument, "retry_in", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) setState(next models.SyncState) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if !e.state.CanTransition(next) {
		e.logger.Error("illegal state transition ignored", "from", e.state, "to", next)
		return
	}
	e.logger.Debug("state transition", "from", e.state, "to", next)
	e.state = next
}

func (e *Engine) setCancelFunc(cancel context.CancelFunc) {
	e.cancelMu.Lock()
	e.cancelRun = cancel
	e.cancelMu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
