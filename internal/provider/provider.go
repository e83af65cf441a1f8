// Package provider defines the port through which the archive reaches a
// remote time-series source, together with the classified errors every
// adapter must translate raw failures into.
//
// The interface is deliberately small: one fetch operation over a
// half-open time window. Everything the sync engine needs to react to a
// failure travels in the error's Kind, never in its text, so adapters own
// the full mapping from transport and API details onto the closed set of
// kinds at this boundary.
package provider

import (
	"context"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// Provider fetches raw rows for one instrument.
//
// Implementations should:
// - Return rows whose timestamps fall in [start, end); a zero end leaves
//   the window open toward the present
// - Return rows in any order with any duplication; callers normalize
// - Translate every failure into an *Error with the right Kind
// - Return empty rows and a nil error when the source confirms the
//   window simply holds no data (NoData is the explicit alternative)
// - Respect context cancellation
type Provider interface {
	Fetch(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error)
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error)

// Fetch calls f.
func (f Func) Fetch(ctx context.Context, instrument string, start, end time.Time) ([]models.Row, error) {
	return f(ctx, instrument, start, end)
}
