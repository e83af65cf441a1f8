package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure into the closed set the sync engine
// reacts to. The engine branches only on these values.
type Kind int

const (
	// KindTransient covers failures that may clear on their own:
	// network hiccups, timeouts, server errors. Worth retrying soon.
	KindTransient Kind = iota

	// KindThrottled means the source pushed back on call rate. Retrying
	// is allowed only after an extended cooldown.
	KindThrottled

	// KindInvalidInstrument means the source does not recognize the
	// instrument at all. No window of it can ever succeed.
	KindInvalidInstrument

	// KindNoData is a definitive answer that the requested window holds
	// no rows. It is a success in disguise: the emptiness is worth
	// recording so the window is not asked for again.
	KindNoData
)

// String returns a short human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindThrottled:
		return "throttled"
	case KindInvalidInstrument:
		return "invalid instrument"
	case KindNoData:
		return "no data"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified fetch failure. Adapters build these at the
// boundary; everything above matches on Kind alone.
type Error struct {
	Kind       Kind
	Instrument string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Instrument, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Instrument, e.Kind)
}

// Unwrap returns the underlying error for error chain support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient classifies err as worth retrying soon.
func Transient(instrument string, err error) *Error {
	return &Error{Kind: KindTransient, Instrument: instrument, Err: err}
}

// Throttled classifies err as rate pushback from the source.
func Throttled(instrument string, err error) *Error {
	return &Error{Kind: KindThrottled, Instrument: instrument, Err: err}
}

// InvalidInstrument classifies err as the source rejecting the
// instrument identifier itself.
func InvalidInstrument(instrument string, err error) *Error {
	return &Error{Kind: KindInvalidInstrument, Instrument: instrument, Err: err}
}

// NoData reports a definitive empty answer for the requested window.
func NoData(instrument string) *Error {
	return &Error{Kind: KindNoData, Instrument: instrument}
}

// KindOf extracts the classification from any error returned by Fetch,
// looking through wrapping. Errors that carry no classification count as
// transient, so an adapter that forgets to classify degrades to the
// retry path instead of aborting work.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindTransient
}
