// Package validator repairs fetched rows before they reach storage. It
// never rejects a batch outright: rows that cannot be stored are dropped
// and reported as issues, everything else is normalized and kept.
package validator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

// IssueKind labels one class of dropped or repaired rows.
type IssueKind string

const (
	// IssueZeroTimestamp marks a row without a timestamp.
	IssueZeroTimestamp IssueKind = "zero_timestamp"
	// IssueNoValues marks a row whose fields are all null.
	IssueNoValues IssueKind = "no_values"
	// IssueOutsideWindow marks a row outside the requested window.
	IssueOutsideWindow IssueKind = "outside_window"
	// IssueMergedDuplicates marks rows collapsed into an earlier row
	// that shares their timestamp.
	IssueMergedDuplicates IssueKind = "merged_duplicates"
)

// Issue describes one row-level repair applied while cleaning a batch.
type Issue struct {
	Kind      IssueKind
	Timestamp time.Time
	Detail    string
}

// String renders the issue for status lines and logs.
func (i Issue) String() string {
	if i.Timestamp.IsZero() {
		return fmt.Sprintf("%s: %s", i.Kind, i.Detail)
	}
	return fmt.Sprintf("%s at %s: %s", i.Kind, i.Timestamp.UTC().Format("2006-01-02 15:04:05"), i.Detail)
}

// RowValidator cleans provider output for one fetch window.
type RowValidator struct {
	logger *slog.Logger
}

// New returns a validator logging through logger.
func New(logger *slog.Logger) *RowValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RowValidator{logger: logger.With("component", "validator")}
}

// Clean drops rows that cannot be stored, clips rows outside [start, end)
// (a zero end leaves the window open toward the present), merges rows
// sharing a timestamp, and returns the result in chronological order.
// The returned issues describe everything that was dropped or merged.
func (v *RowValidator) Clean(rows []models.Row, start, end time.Time) ([]models.Row, []Issue) {
	start = start.UTC()
	if !end.IsZero() {
		end = end.UTC()
	}

	var issues []Issue
	kept := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		at := row.Timestamp.UTC()
		switch {
		case at.IsZero():
			issues = append(issues, Issue{Kind: IssueZeroTimestamp, Detail: "row dropped"})
		case !row.HasValues():
			issues = append(issues, Issue{Kind: IssueNoValues, Timestamp: at, Detail: "row dropped"})
		case at.Before(start):
			issues = append(issues, Issue{Kind: IssueOutsideWindow, Timestamp: at,
				Detail: fmt.Sprintf("before window start %s", start.Format("2006-01-02 15:04:05"))})
		case !end.IsZero() && !at.Before(end):
			issues = append(issues, Issue{Kind: IssueOutsideWindow, Timestamp: at,
				Detail: fmt.Sprintf("at or after window end %s", end.Format("2006-01-02 15:04:05"))})
		default:
			kept = append(kept, row)
		}
	}

	merged := models.MergeRows(kept)
	if collapsed := len(kept) - len(merged); collapsed > 0 {
		issues = append(issues, Issue{Kind: IssueMergedDuplicates,
			Detail: fmt.Sprintf("%d rows merged into shared timestamps", collapsed)})
	}

	if len(issues) > 0 {
		v.logger.Debug("cleaned fetched rows",
			"received", len(rows), "kept", len(merged), "issues", len(issues))
	}
	return merged, issues
}
