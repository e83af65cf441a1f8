package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-timeseries-archiver/internal/models"
)

func ts(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func row(stamp string, fields map[string]string) models.Row {
	values := make(map[string]decimal.NullDecimal, len(fields))
	for name, v := range fields {
		values[name] = models.Value(decimal.RequireFromString(v))
	}
	return models.Row{Timestamp: ts(stamp), Fields: values}
}

func TestEncodeRowsHeaderOrderAndPrecision(t *testing.T) {
	rows := []models.Row{
		row("2024-03-01 09:30:00", map[string]string{"open": "2", "close": "1.23456789"}),
		{
			Timestamp: ts("2024-03-01 10:00:00"),
			Fields: map[string]decimal.NullDecimal{
				"open":  models.Value(decimal.RequireFromString("3.5")),
				"close": models.Null(),
			},
		},
	}

	data, err := encodeRows(rows)
	require.NoError(t, err)

	want := "Date,close,open\n" +
		"2024-03-01 09:30:00,1.234568,2.000000\n" +
		"2024-03-01 10:00:00,,3.500000\n"
	assert.Equal(t, want, string(data))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	rows := []models.Row{
		row("2024-03-01 09:30:00", map[string]string{"close": "1.5", "volume": "1000"}),
		row("2024-03-01 10:00:00", map[string]string{"close": "1.75", "volume": "2500"}),
	}

	data, err := encodeRows(rows)
	require.NoError(t, err)

	decoded, err := decodeRows(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	for i, want := range rows {
		assert.True(t, decoded[i].Timestamp.Equal(want.Timestamp))
		for name := range want.Fields {
			got, ok := decoded[i].Field(name)
			require.True(t, ok, "field %s missing after round trip", name)
			wantValue, _ := want.Field(name)
			assert.True(t, got.Equal(wantValue), "field %s: got %s want %s", name, got, wantValue)
		}
	}
}

func TestDecodeRowsZeroByteIsEmpty(t *testing.T) {
	rows, err := decodeRows(nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = decodeRows([]byte{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecodeRowsNullCells(t *testing.T) {
	data := []byte("Date,close,open\n2024-03-01 09:30:00,,2.000000\n")

	rows, err := decodeRows(data)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, ok := rows[0].Field("close")
	assert.False(t, ok, "null cell must read back as absent")
	open, ok := rows[0].Field("open")
	require.True(t, ok)
	assert.True(t, open.Equal(decimal.RequireFromString("2")))
}

func TestDecodeRowsRejectsMalformedContent(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong first column", "Timestamp,close\n2024-03-01 09:30:00,1\n"},
		{"bad timestamp", "Date,close\nnot a time,1\n"},
		{"bad numeric", "Date,close\n2024-03-01 09:30:00,abc\n"},
		{"ragged record", "Date,close,open\n2024-03-01 09:30:00,1\n"},
		{"binary garbage", "\x00\x01\x02\"unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeRows([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestBoundingTimestamps(t *testing.T) {
	rows := []models.Row{
		row("2024-03-01 12:00:00", map[string]string{"close": "2"}),
		row("2024-03-01 09:30:00", map[string]string{"close": "1"}),
		row("2024-03-01 17:00:00", map[string]string{"close": "3"}),
	}
	data, err := encodeRows(rows)
	require.NoError(t, err)

	first, last, err := boundingTimestamps(data)
	require.NoError(t, err)
	assert.True(t, first.Equal(ts("2024-03-01 09:30:00")))
	assert.True(t, last.Equal(ts("2024-03-01 17:00:00")))

	first, last, err = boundingTimestamps(nil)
	require.NoError(t, err)
	assert.True(t, first.IsZero())
	assert.True(t, last.IsZero())
}
