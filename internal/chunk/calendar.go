// Package chunk provides the period arithmetic behind the archive layout:
// granularities, their fixed chunk periods, period boundary calculations,
// and the canonical chunk identifiers used as filenames.
//
// All calculations are calendar-exact in UTC. Identifiers sort
// lexicographically in chronological order, so a sorted directory listing
// is already time-ordered without parsing.
package chunk

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Granularity identifies the sampling granularity of a stored series.
// Each granularity is bound to exactly one chunk Period; the binding is
// total and static.
type Granularity int

const (
	// Yearly series are partitioned into one chunk per calendar year.
	Yearly Granularity = iota
	// Monthly series are partitioned into one chunk per calendar month.
	Monthly
	// Daily series are partitioned into one chunk per calendar day.
	Daily
	// SubHour series are partitioned into one chunk per half-hour.
	SubHour
)

// granularityNames are the canonical strings, which also name the
// per-granularity directories on disk.
var granularityNames = map[Granularity]string{
	Yearly:  "yearly",
	Monthly: "monthly",
	Daily:   "daily",
	SubHour: "sub-hour",
}

// String returns the canonical name of the granularity.
func (g Granularity) String() string {
	if name, ok := granularityNames[g]; ok {
		return name
	}
	return fmt.Sprintf("granularity(%d)", int(g))
}

// Valid reports whether g is one of the defined granularities.
func (g Granularity) Valid() bool {
	_, ok := granularityNames[g]
	return ok
}

// Period returns the chunk period bound to this granularity.
func (g Granularity) Period() Period {
	switch g {
	case Yearly:
		return PeriodYear
	case Monthly:
		return PeriodMonth
	case Daily:
		return PeriodDay
	case SubHour:
		return PeriodHalfHour
	default:
		return PeriodYear
	}
}

// ParseGranularity converts a canonical name back to its Granularity.
func ParseGranularity(s string) (Granularity, error) {
	for g, name := range granularityNames {
		if name == s {
			return g, nil
		}
	}
	return 0, fmt.Errorf("unknown granularity %q (valid: %s)", s, strings.Join(GranularityNames(), ", "))
}

// Granularities returns all granularities in coarse-to-fine order.
func Granularities() []Granularity {
	return []Granularity{Yearly, Monthly, Daily, SubHour}
}

// GranularityNames returns the canonical names in coarse-to-fine order.
func GranularityNames() []string {
	names := make([]string, 0, len(granularityNames))
	for _, g := range Granularities() {
		names = append(names, g.String())
	}
	return names
}

// Period is a fixed chunking interval. Year and month periods follow the
// calendar (leap years, 28-31 day months); day and half-hour periods have
// fixed lengths in UTC.
type Period int

const (
	PeriodYear Period = iota
	PeriodMonth
	PeriodDay
	PeriodHalfHour
)

const halfHour = 30 * time.Minute

// identifier layouts per period, precision matching the period length.
// Colons are unsafe in filenames, so the half-hour layout uses hyphens
// in the time component.
const (
	layoutYear     = "2006"
	layoutMonth    = "2006-01"
	layoutDay      = "2006-01-02"
	layoutHalfHour = "2006-01-02 15-04-05"
)

// IncompleteMarker is the identifier segment that distinguishes a chunk
// written before its period had fully elapsed. It sits between the date
// portion and the file extension so the date prefix of the filename stays
// parseable on its own.
const IncompleteMarker = "INCOMPLETE"

// String returns a human-readable period name.
func (p Period) String() string {
	switch p {
	case PeriodYear:
		return "year"
	case PeriodMonth:
		return "month"
	case PeriodDay:
		return "day"
	case PeriodHalfHour:
		return "half-hour"
	default:
		return fmt.Sprintf("period(%d)", int(p))
	}
}

// Floor rounds t down to the start of its enclosing period.
func (p Period) Floor(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case PeriodYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	case PeriodMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodHalfHour:
		minute := 0
		if t.Minute() >= 30 {
			minute = 30
		}
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, time.UTC)
	default:
		return t
	}
}

// Next returns the start of the period immediately following the one that
// contains t. Calendar-length periods advance by actual calendar length.
func (p Period) Next(t time.Time) time.Time {
	start := p.Floor(t)
	switch p {
	case PeriodYear:
		return start.AddDate(1, 0, 0)
	case PeriodMonth:
		return start.AddDate(0, 1, 0)
	case PeriodDay:
		return start.AddDate(0, 0, 1)
	case PeriodHalfHour:
		return start.Add(halfHour)
	default:
		return start
	}
}

// Contains reports whether t falls inside the period starting at start.
func (p Period) Contains(start, t time.Time) bool {
	start = p.Floor(start)
	t = t.UTC()
	return !t.Before(start) && t.Before(p.Next(start))
}

// Identifier returns the canonical chunk identifier for the period
// starting at start. Identifiers are filesystem-safe and sort in
// chronological order. Incomplete chunks carry the marker segment.
func (p Period) Identifier(start time.Time, incomplete bool) string {
	id := p.Floor(start).Format(p.layout())
	if incomplete {
		id += "." + IncompleteMarker
	}
	return id
}

// ParseIdentifier is the inverse of Identifier. It accepts identifiers
// with or without the incomplete marker and returns the period start.
func (p Period) ParseIdentifier(id string) (start time.Time, incomplete bool, err error) {
	base := id
	if strings.HasSuffix(base, "."+IncompleteMarker) {
		incomplete = true
		base = strings.TrimSuffix(base, "."+IncompleteMarker)
	}
	start, err = time.ParseInLocation(p.layout(), base, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed %s chunk identifier %q: %w", p, id, err)
	}
	return start, incomplete, nil
}

// Count returns the number of calendar periods spanned inclusively from
// the period containing first through the period containing last.
// Returns 0 when last precedes first.
func (p Period) Count(first, last time.Time) int {
	lo := p.Floor(first)
	hi := p.Floor(last)
	if hi.Before(lo) {
		return 0
	}
	switch p {
	case PeriodYear:
		return hi.Year() - lo.Year() + 1
	case PeriodMonth:
		return (hi.Year()-lo.Year())*12 + int(hi.Month()) - int(lo.Month()) + 1
	case PeriodDay:
		return int(hi.Sub(lo).Hours()/24) + 1
	case PeriodHalfHour:
		return int(hi.Sub(lo)/halfHour) + 1
	default:
		return 0
	}
}

// Starts enumerates every period start from the period containing from
// through the period containing until, in chronological order.
func (p Period) Starts(from, until time.Time) []time.Time {
	lo := p.Floor(from)
	hi := p.Floor(until)
	if hi.Before(lo) {
		return nil
	}
	starts := make([]time.Time, 0, p.Count(from, until))
	for cur := lo; !cur.After(hi); cur = p.Next(cur) {
		starts = append(starts, cur)
	}
	return starts
}

// SortIdentifiers sorts chunk identifiers lexicographically, which for
// canonical identifiers is chronological order.
func SortIdentifiers(ids []string) {
	sort.Strings(ids)
}

func (p Period) layout() string {
	switch p {
	case PeriodYear:
		return layoutYear
	case PeriodMonth:
		return layoutMonth
	case PeriodDay:
		return layoutDay
	case PeriodHalfHour:
		return layoutHalfHour
	default:
		return layoutYear
	}
}
