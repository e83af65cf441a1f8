package chunk

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(value string) time.Time {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestGranularityPeriodBinding(t *testing.T) {
	tests := []struct {
		granularity Granularity
		period      Period
		name        string
	}{
		{Yearly, PeriodYear, "yearly"},
		{Monthly, PeriodMonth, "monthly"},
		{Daily, PeriodDay, "daily"},
		{SubHour, PeriodHalfHour, "sub-hour"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.period, tt.granularity.Period())
			assert.Equal(t, tt.name, tt.granularity.String())
			assert.True(t, tt.granularity.Valid())

			parsed, err := ParseGranularity(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.granularity, parsed)
		})
	}
}

func TestParseGranularityRejectsUnknown(t *testing.T) {
	_, err := ParseGranularity("hourly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown granularity")
}

func TestFloor(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		input  time.Time
		want   time.Time
	}{
		{"year mid", PeriodYear, ts("2024-07-15 13:45:10"), ts("2024-01-01 00:00:00")},
		{"year at boundary", PeriodYear, ts("2024-01-01 00:00:00"), ts("2024-01-01 00:00:00")},
		{"month mid", PeriodMonth, ts("2024-02-29 23:59:59"), ts("2024-02-01 00:00:00")},
		{"day mid", PeriodDay, ts("1980-01-01 00:00:01"), ts("1980-01-01 00:00:00")},
		{"half-hour first half", PeriodHalfHour, ts("2024-03-02 09:29:59"), ts("2024-03-02 09:00:00")},
		{"half-hour second half", PeriodHalfHour, ts("2024-03-02 09:30:00"), ts("2024-03-02 09:30:00")},
		{"half-hour late", PeriodHalfHour, ts("2024-03-02 09:59:59"), ts("2024-03-02 09:30:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.period.Floor(tt.input)))
		})
	}
}

func TestNextRespectsCalendarLengths(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		input  time.Time
		want   time.Time
	}{
		{"leap february", PeriodMonth, ts("2024-02-10 00:00:00"), ts("2024-03-01 00:00:00")},
		{"non-leap february", PeriodMonth, ts("2023-02-10 00:00:00"), ts("2023-03-01 00:00:00")},
		{"december rolls year", PeriodMonth, ts("2023-12-31 23:59:59"), ts("2024-01-01 00:00:00")},
		{"leap year day count", PeriodYear, ts("2024-06-01 00:00:00"), ts("2025-01-01 00:00:00")},
		{"leap day", PeriodDay, ts("2024-02-29 12:00:00"), ts("2024-03-01 00:00:00")},
		{"half hour wraps hour", PeriodHalfHour, ts("2024-03-02 09:30:00"), ts("2024-03-02 10:00:00")},
		{"half hour wraps day", PeriodHalfHour, ts("2024-03-02 23:45:00"), ts("2024-03-03 00:00:00")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(tt.period.Next(tt.input)))
		})
	}
}

// Floor must be idempotent and Next strictly advancing for every period.
func TestFloorNextProperties(t *testing.T) {
	periods := []Period{PeriodYear, PeriodMonth, PeriodDay, PeriodHalfHour}
	samples := []time.Time{
		ts("1980-01-01 00:00:00"),
		ts("1999-12-31 23:59:59"),
		ts("2024-02-29 11:30:00"),
		ts("2024-03-02 09:31:07"),
		ts("2031-07-04 15:00:00"),
	}

	for _, p := range periods {
		for _, sample := range samples {
			floored := p.Floor(sample)
			assert.True(t, floored.Equal(p.Floor(floored)), "%s: floor not idempotent at %s", p, sample)
			assert.True(t, p.Next(floored).After(sample), "%s: next(floor(t)) must exceed t at %s", p, sample)

			next := p.Next(sample)
			assert.True(t, next.Equal(p.Floor(next)), "%s: next(t) must be a period start at %s", p, sample)
			assert.True(t, next.After(sample), "%s: next(t) must advance past t at %s", p, sample)
		}
	}
}

func TestIdentifierPrecision(t *testing.T) {
	start := ts("2024-03-02 09:30:00")

	tests := []struct {
		period Period
		want   string
	}{
		{PeriodYear, "2024"},
		{PeriodMonth, "2024-03"},
		{PeriodDay, "2024-03-02"},
		{PeriodHalfHour, "2024-03-02 09-30-00"},
	}

	for _, tt := range tests {
		t.Run(tt.period.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.Identifier(start, false))
			assert.Equal(t, tt.want+".INCOMPLETE", tt.period.Identifier(start, true))
		})
	}
}

func TestIdentifierRoundTrip(t *testing.T) {
	periods := []Period{PeriodYear, PeriodMonth, PeriodDay, PeriodHalfHour}
	starts := []time.Time{
		ts("1980-01-01 00:00:00"),
		ts("2024-02-29 23:30:00"),
		ts("2024-12-31 00:00:00"),
	}

	for _, p := range periods {
		for _, start := range starts {
			for _, incomplete := range []bool{false, true} {
				id := p.Identifier(start, incomplete)
				parsed, gotIncomplete, err := p.ParseIdentifier(id)
				require.NoError(t, err, "%s %s", p, id)
				assert.True(t, p.Floor(start).Equal(parsed))
				assert.Equal(t, incomplete, gotIncomplete)
			}
		}
	}
}

func TestParseIdentifierRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "notadate", "2024-13", "2024-03-02 09:30:00"} {
		_, _, err := PeriodHalfHour.ParseIdentifier(id)
		assert.Error(t, err, "identifier %q", id)
	}
}

// Lexicographic order of identifiers must equal chronological order so
// directory listings are naturally time-ordered.
func TestIdentifiersSortChronologically(t *testing.T) {
	starts := PeriodHalfHour.Starts(ts("2024-03-02 22:00:00"), ts("2024-03-03 02:00:00"))
	require.Greater(t, len(starts), 2)

	ids := make([]string, len(starts))
	for i, s := range starts {
		ids[i] = PeriodHalfHour.Identifier(s, false)
	}

	shuffled := append([]string(nil), ids...)
	sort.Sort(sort.Reverse(sort.StringSlice(shuffled)))
	SortIdentifiers(shuffled)
	assert.Equal(t, ids, shuffled)
}

func TestCount(t *testing.T) {
	tests := []struct {
		name   string
		period Period
		first  time.Time
		last   time.Time
		want   int
	}{
		{"single year", PeriodYear, ts("2024-03-01 00:00:00"), ts("2024-09-01 00:00:00"), 1},
		{"three years", PeriodYear, ts("2022-12-31 00:00:00"), ts("2024-01-01 00:00:00"), 3},
		{"months across year", PeriodMonth, ts("2023-11-15 00:00:00"), ts("2024-02-01 00:00:00"), 4},
		{"days across leap feb", PeriodDay, ts("2024-02-28 10:00:00"), ts("2024-03-01 00:00:00"), 3},
		{"half hours", PeriodHalfHour, ts("2024-03-02 09:00:00"), ts("2024-03-02 10:29:00"), 3},
		{"reversed", PeriodDay, ts("2024-03-02 00:00:00"), ts("2024-03-01 00:00:00"), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.period.Count(tt.first, tt.last))
		})
	}
}

func TestStartsEnumeration(t *testing.T) {
	starts := PeriodDay.Starts(ts("2024-02-27 15:00:00"), ts("2024-03-01 00:00:00"))
	want := []time.Time{
		ts("2024-02-27 00:00:00"),
		ts("2024-02-28 00:00:00"),
		ts("2024-02-29 00:00:00"),
		ts("2024-03-01 00:00:00"),
	}
	require.Len(t, starts, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(starts[i]))
	}
	assert.Equal(t, len(starts), PeriodDay.Count(ts("2024-02-27 15:00:00"), ts("2024-03-01 00:00:00")))
}

func TestContains(t *testing.T) {
	start := ts("2024-03-02 09:30:00")
	assert.True(t, PeriodHalfHour.Contains(start, ts("2024-03-02 09:30:00")))
	assert.True(t, PeriodHalfHour.Contains(start, ts("2024-03-02 09:59:59")))
	assert.False(t, PeriodHalfHour.Contains(start, ts("2024-03-02 10:00:00")))
	assert.False(t, PeriodHalfHour.Contains(start, ts("2024-03-02 09:29:59")))
}
