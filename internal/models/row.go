// Package models defines the core data types shared by the archive store,
// the sync engine, and the provider boundary: observation rows, instrument
// index summaries, and sync run reports.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Row is a single observation: one timestamp plus the numeric fields the
// provider supplied for it. A field holds a NullDecimal so that "value
// missing at this timestamp" survives normalization and serialization.
type Row struct {
	// Timestamp is the observation instant in UTC
	Timestamp time.Time `json:"timestamp"`

	// Fields maps field name to its (nullable) numeric value
	Fields map[string]decimal.NullDecimal `json:"fields"`
}

// NewRow creates a Row with the given timestamp (normalized to UTC) and
// field values.
func NewRow(timestamp time.Time, fields map[string]decimal.NullDecimal) Row {
	if fields == nil {
		fields = make(map[string]decimal.NullDecimal)
	}
	return Row{Timestamp: timestamp.UTC(), Fields: fields}
}

// Value creates a valid NullDecimal from a decimal.
func Value(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Null returns the null NullDecimal, an absent field value.
func Null() decimal.NullDecimal {
	return decimal.NullDecimal{}
}

// Field returns the named field's value and whether it is present and
// non-null.
func (r Row) Field(name string) (decimal.Decimal, bool) {
	v, ok := r.Fields[name]
	if !ok || !v.Valid {
		return decimal.Decimal{}, false
	}
	return v.Decimal, true
}

// HasValues reports whether the row carries at least one non-null field.
func (r Row) HasValues() bool {
	for _, v := range r.Fields {
		if v.Valid {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	fields := make(map[string]decimal.NullDecimal, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return Row{Timestamp: r.Timestamp, Fields: fields}
}

// Validate checks the row for structural problems.
func (r Row) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("row timestamp cannot be zero")
	}
	for name := range r.Fields {
		if name == "" {
			return fmt.Errorf("row at %s has a field with an empty name", r.Timestamp)
		}
	}
	return nil
}

// SortRows orders rows by timestamp ascending. The sort is stable so rows
// sharing a timestamp keep their relative order for merging.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}

// MergeRows flattens a possibly multi-field result into one row per
// timestamp: rows sharing a timestamp are combined into a single row whose
// field set is the union, with later values winning per field. The result
// is sorted by timestamp.
func MergeRows(rows []Row) []Row {
	if len(rows) == 0 {
		return nil
	}

	byTime := make(map[time.Time]Row, len(rows))
	for _, r := range rows {
		key := r.Timestamp.UTC()
		merged, ok := byTime[key]
		if !ok {
			merged = NewRow(key, nil)
		}
		for name, v := range r.Fields {
			merged.Fields[name] = v
		}
		byTime[key] = merged
	}

	out := make([]Row, 0, len(byTime))
	for _, r := range byTime {
		out = append(out, r)
	}
	SortRows(out)
	return out
}

// FieldNames returns the sorted union of field names across all rows.
// This fixes the deterministic column order used when chunks are written.
func FieldNames(rows []Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for name := range r.Fields {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
