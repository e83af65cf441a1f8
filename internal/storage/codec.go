package storage

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

const (
	// timestampColumn heads the first CSV column. Existing archives use
	// this name, so it is part of the layout contract.
	timestampColumn = "Date"

	// rowTimeLayout is the textual timestamp form inside chunks. It
	// parses back to the exact instant it was formatted from (UTC).
	rowTimeLayout = "2006-01-02 15:04:05"

	// valuePrecision is the fixed number of decimal places numeric
	// cells are rendered with.
	valuePrecision = 6
)

// encodeRows renders normalized rows as a CSV table: a header of
// "Date" plus alphabetically ordered field columns, one record per
// timestamp, numerics at fixed precision, null fields as empty cells.
// The caller guarantees rows are already merged and sorted.
func encodeRows(rows []models.Row) ([]byte, error) {
	fields := models.FieldNames(rows)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := make([]string, 0, len(fields)+1)
	header = append(header, timestampColumn)
	header = append(header, fields...)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(fields)+1)
	for _, row := range rows {
		record[0] = row.Timestamp.UTC().Format(rowTimeLayout)
		for i, field := range fields {
			if v, ok := row.Fields[field]; ok && v.Valid {
				record[i+1] = v.Decimal.StringFixed(valuePrecision)
			} else {
				record[i+1] = ""
			}
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeRows parses chunk file content back into rows. Zero-byte content
// is a valid confirmed-empty chunk and yields no rows. Any structural
// problem (bad header, unparseable timestamp or value, ragged records)
// is an error; callers scanning the store treat such files as absent.
func decodeRows(data []byte) ([]models.Row, error) {
	if len(data) == 0 {
		return nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) == 0 || header[0] != timestampColumn {
		return nil, fmt.Errorf("unexpected header %v, first column must be %q", header, timestampColumn)
	}
	fields := header[1:]

	var rows []models.Row
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}

		ts, err := time.ParseInLocation(rowTimeLayout, record[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", record[0], err)
		}

		values := make(map[string]decimal.NullDecimal, len(fields))
		for i, field := range fields {
			cell := record[i+1]
			if cell == "" {
				values[field] = decimal.NullDecimal{}
				continue
			}
			d, err := decimal.NewFromString(cell)
			if err != nil {
				return nil, fmt.Errorf("parse value %q in column %s: %w", cell, field, err)
			}
			values[field] = decimal.NullDecimal{Decimal: d, Valid: true}
		}
		rows = append(rows, models.Row{Timestamp: ts, Fields: values})
	}
	return rows, nil
}

// boundingTimestamps returns the earliest and latest row timestamps in the
// chunk content. Used during index rebuild to recover exact observed
// bounds from the first and last chunk files.
func boundingTimestamps(data []byte) (first, last time.Time, err error) {
	rows, err := decodeRows(data)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, time.Time{}, nil
	}
	first, last = rows[0].Timestamp, rows[0].Timestamp
	for _, row := range rows[1:] {
		if row.Timestamp.Before(first) {
			first = row.Timestamp
		}
		if row.Timestamp.After(last) {
			last = row.Timestamp
		}
	}
	return first, last, nil
}
