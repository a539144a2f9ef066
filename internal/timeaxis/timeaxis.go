// Package timeaxis decodes CF-convention time coordinates.
//
// Model output uses "units since epoch" encodings over a handful of model
// calendars (standard, noleap, 360_day, ...). Timestamps are rendered as
// zero-padded "YYYY-MM-DD HH:MM:SS" strings so that chronological order and
// lexical order coincide; the catalog compares coverage bounds as strings.
package timeaxis

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// Calendar identifies a CF model calendar.
type Calendar string

const (
	CalendarStandard Calendar = "standard"
	CalendarNoLeap   Calendar = "noleap"
	CalendarAllLeap  Calendar = "all_leap"
	Calendar360Day   Calendar = "360_day"
)

// ParseCalendar normalizes a CF calendar attribute value.
// Unknown values fall back to the standard calendar.
func ParseCalendar(s string) Calendar {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "noleap", "365_day":
		return CalendarNoLeap
	case "all_leap", "366_day":
		return CalendarAllLeap
	case "360_day":
		return Calendar360Day
	default:
		// standard, gregorian, proleptic_gregorian, julian, ""
		return CalendarStandard
	}
}

// Stamp is a calendar-agnostic timestamp.
type Stamp struct {
	Year, Month, Day     int
	Hour, Minute, Second int
}

// String renders the stamp zero-padded so lexical order is chronological.
func (s Stamp) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:%02d",
		s.Year, s.Month, s.Day, s.Hour, s.Minute, s.Second)
}

// IsZero reports whether the stamp is unset.
func (s Stamp) IsZero() bool {
	return s == Stamp{}
}

// Units is a parsed CF time units attribute ("days since 1900-01-01").
type Units struct {
	// Seconds is the length of one unit in seconds.
	Seconds float64
	// Epoch is the reference timestamp.
	Epoch Stamp
}

var unitsRe = regexp.MustCompile(`^\s*(\w+?)s?\s+since\s+(.+?)\s*$`)

var unitSeconds = map[string]float64{
	"second": 1,
	"sec":    1,
	"s":      1,
	"minute": 60,
	"min":    60,
	"hour":   3600,
	"hr":     3600,
	"h":      3600,
	"day":    86400,
	"d":      86400,
}

// ParseUnits parses a CF units attribute.
func ParseUnits(units string) (Units, error) {
	m := unitsRe.FindStringSubmatch(units)
	if m == nil {
		return Units{}, fmt.Errorf("unrecognized time units %q", units)
	}

	secs, ok := unitSeconds[strings.ToLower(m[1])]
	if !ok {
		return Units{}, fmt.Errorf("unsupported time unit %q", m[1])
	}

	epoch, err := parseEpoch(m[2])
	if err != nil {
		return Units{}, fmt.Errorf("bad epoch in %q: %w", units, err)
	}

	return Units{Seconds: secs, Epoch: epoch}, nil
}

// parseEpoch parses the datestamp part of a units attribute.
// Accepts "YYYY-MM-DD", "YYYY-MM-DD HH:MM:SS", and a "T" separator.
// Fractional seconds and timezone suffixes are ignored.
func parseEpoch(s string) (Stamp, error) {
	s = strings.ReplaceAll(s, "T", " ")
	var st Stamp

	fields := strings.Fields(s)
	if len(fields) == 0 {
		return st, fmt.Errorf("empty datestamp")
	}

	if _, err := fmt.Sscanf(fields[0], "%d-%d-%d", &st.Year, &st.Month, &st.Day); err != nil {
		return st, fmt.Errorf("bad date %q", fields[0])
	}

	if len(fields) > 1 {
		clock := fields[1]
		if i := strings.IndexAny(clock, ".+Z"); i >= 0 {
			clock = clock[:i]
		}
		parts := strings.Split(clock, ":")
		vals := []*int{&st.Hour, &st.Minute, &st.Second}
		for i := 0; i < len(parts) && i < 3; i++ {
			if _, err := fmt.Sscanf(parts[i], "%d", vals[i]); err != nil {
				return st, fmt.Errorf("bad time %q", fields[1])
			}
		}
	}

	if st.Month < 1 || st.Month > 12 || st.Day < 1 || st.Day > 31 {
		return st, fmt.Errorf("date %q out of range", fields[0])
	}

	return st, nil
}

// ParseStamp parses a rendered stamp back into its components. The clock
// part may be omitted.
func ParseStamp(s string) (Stamp, error) {
	return parseEpoch(s)
}

// NumToDate converts an encoded time value to a Stamp under the given
// calendar, the equivalent of cftime's num2date.
func NumToDate(value float64, u Units, cal Calendar) Stamp {
	total := value * u.Seconds

	switch cal {
	case CalendarStandard:
		return stdAdd(u.Epoch, total)
	default:
		return fixedAdd(u.Epoch, total, cal)
	}
}

// DeltaDays returns b-a in days under the given calendar.
func DeltaDays(a, b Stamp, cal Calendar) float64 {
	switch cal {
	case CalendarStandard:
		return stdTime(b).Sub(stdTime(a)).Hours() / 24
	default:
		return float64(fixedSeconds(b, cal)-fixedSeconds(a, cal)) / 86400
	}
}

// stdTime converts a Stamp to time.Time in the proleptic Gregorian calendar.
func stdTime(s Stamp) time.Time {
	return time.Date(s.Year, time.Month(s.Month), s.Day, s.Hour, s.Minute, s.Second, 0, time.UTC)
}

// stdAdd adds seconds to an epoch using time.Time arithmetic.
func stdAdd(epoch Stamp, seconds float64) Stamp {
	// Split into days and sub-day remainder to dodge Duration overflow on
	// multi-century offsets.
	days := math.Floor(seconds / 86400)
	rem := seconds - days*86400

	t := stdTime(epoch).AddDate(0, 0, int(days)).Add(time.Duration(math.Round(rem)) * time.Second)
	return Stamp{
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
	}
}

// Month lengths for the fixed calendars.
var (
	monthsNoLeap  = [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	monthsAllLeap = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
)

func fixedMonths(cal Calendar) ([12]int, int) {
	switch cal {
	case CalendarAllLeap:
		return monthsAllLeap, 366
	case Calendar360Day:
		return [12]int{30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30}, 360
	default:
		return monthsNoLeap, 365
	}
}

// fixedSeconds maps a Stamp to absolute seconds since year 0 of a
// fixed-length calendar.
func fixedSeconds(s Stamp, cal Calendar) int64 {
	months, yearDays := fixedMonths(cal)

	days := int64(s.Year) * int64(yearDays)
	for m := 0; m < s.Month-1; m++ {
		days += int64(months[m])
	}
	days += int64(s.Day - 1)

	return days*86400 + int64(s.Hour)*3600 + int64(s.Minute)*60 + int64(s.Second)
}

// fixedAdd adds seconds to an epoch in a fixed-length calendar.
func fixedAdd(epoch Stamp, seconds float64, cal Calendar) Stamp {
	months, yearDays := fixedMonths(cal)

	abs := fixedSeconds(epoch, cal) + int64(math.Round(seconds))

	days := abs / 86400
	rem := abs % 86400
	if rem < 0 {
		rem += 86400
		days--
	}

	year := days / int64(yearDays)
	doy := days % int64(yearDays)
	if doy < 0 {
		doy += int64(yearDays)
		year--
	}

	month := 1
	for _, n := range months {
		if doy < int64(n) {
			break
		}
		doy -= int64(n)
		month++
	}

	return Stamp{
		Year:   int(year),
		Month:  month,
		Day:    int(doy) + 1,
		Hour:   int(rem / 3600),
		Minute: int(rem % 3600 / 60),
		Second: int(rem % 60),
	}
}
