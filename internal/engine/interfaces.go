package engine

import (
	"context"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// Syncer is the incremental synchronization surface consumed by the CLI
// and the scheduler.
type Syncer interface {
	// LoadIndex rebuilds the store index by rescanning the archive.
	LoadIndex(ctx context.Context) error

	// AddInstruments registers instruments so subsequent runs include
	// them. Registering an existing instrument changes nothing.
	AddInstruments(ctx context.Context, instruments []string) error

	// Sync plans and fetches every missing period for the selected
	// instruments, or for all registered instruments when none are
	// named. Only one run may be active at a time.
	Sync(ctx context.Context, instruments ...string) (*models.SyncReport, error)

	// Cancel asks the active run to stop at the next fetch boundary.
	// It returns immediately; chunks already written remain.
	Cancel()

	// State reports where the engine currently is in the run lifecycle.
	State() models.SyncState
}

// StatusSink receives short human-readable progress messages during a
// run. Delivery is fire-and-forget: the engine never waits on a sink and
// never alters its behavior based on one.
type StatusSink interface {
	Notify(message string)
}

// StatusFunc adapts a plain function to the StatusSink interface.
type StatusFunc func(message string)

// Notify calls f.
func (f StatusFunc) Notify(message string) {
	f(message)
}

type nopSink struct{}

func (nopSink) Notify(string) {}

// NopSink returns a sink that discards every message.
func NopSink() StatusSink {
	return nopSink{}
}
