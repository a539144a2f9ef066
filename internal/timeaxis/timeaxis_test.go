package timeaxis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	u, err := ParseUnits("days since 1900-01-01")
	require.NoError(t, err)
	assert.Equal(t, 86400.0, u.Seconds)
	assert.Equal(t, Stamp{Year: 1900, Month: 1, Day: 1}, u.Epoch)

	u, err = ParseUnits("seconds since 0001-01-01 00:00:00")
	require.NoError(t, err)
	assert.Equal(t, 1.0, u.Seconds)
	assert.Equal(t, Stamp{Year: 1, Month: 1, Day: 1}, u.Epoch)

	u, err = ParseUnits("hours since 2000-06-15T12:00:00")
	require.NoError(t, err)
	assert.Equal(t, 3600.0, u.Seconds)
	assert.Equal(t, Stamp{Year: 2000, Month: 6, Day: 15, Hour: 12}, u.Epoch)
}

func TestParseUnits_Invalid(t *testing.T) {
	_, err := ParseUnits("fortnights since 1900-01-01")
	assert.Error(t, err)

	_, err = ParseUnits("days")
	assert.Error(t, err)

	_, err = ParseUnits("days since 1900-13-01")
	assert.Error(t, err)
}

func TestNumToDate_Standard(t *testing.T) {
	u, err := ParseUnits("days since 2000-01-01")
	require.NoError(t, err)

	// 2000 is a leap year in the standard calendar
	got := NumToDate(59, u, CalendarStandard)
	assert.Equal(t, "2000-02-29 00:00:00", got.String())

	got = NumToDate(60, u, CalendarStandard)
	assert.Equal(t, "2000-03-01 00:00:00", got.String())

	// Sub-day offsets
	got = NumToDate(0.5, u, CalendarStandard)
	assert.Equal(t, "2000-01-01 12:00:00", got.String())
}

func TestNumToDate_NoLeap(t *testing.T) {
	u, err := ParseUnits("days since 2000-01-01")
	require.NoError(t, err)

	// No Feb 29 in the noleap calendar
	got := NumToDate(59, u, CalendarNoLeap)
	assert.Equal(t, "2000-03-01 00:00:00", got.String())

	// A full noleap year
	got = NumToDate(365, u, CalendarNoLeap)
	assert.Equal(t, "2001-01-01 00:00:00", got.String())
}

func TestNumToDate_360Day(t *testing.T) {
	u, err := ParseUnits("days since 0001-01-01")
	require.NoError(t, err)

	// Every month has 30 days
	got := NumToDate(30, u, Calendar360Day)
	assert.Equal(t, "0001-02-01 00:00:00", got.String())

	got = NumToDate(360, u, Calendar360Day)
	assert.Equal(t, "0002-01-01 00:00:00", got.String())
}

func TestStamp_LexicalOrderIsChronological(t *testing.T) {
	a := Stamp{Year: 99, Month: 12, Day: 31}
	b := Stamp{Year: 100, Month: 1, Day: 1}
	// zero padding keeps short years ordered
	assert.Less(t, a.String(), b.String())
}

func TestParseCalendar(t *testing.T) {
	assert.Equal(t, CalendarNoLeap, ParseCalendar("365_day"))
	assert.Equal(t, CalendarNoLeap, ParseCalendar("NOLEAP"))
	assert.Equal(t, Calendar360Day, ParseCalendar("360_day"))
	assert.Equal(t, CalendarAllLeap, ParseCalendar("all_leap"))
	assert.Equal(t, CalendarStandard, ParseCalendar("proleptic_gregorian"))
	assert.Equal(t, CalendarStandard, ParseCalendar(""))
}

func TestDeltaDays(t *testing.T) {
	a := Stamp{Year: 2000, Month: 1, Day: 1}
	b := Stamp{Year: 2000, Month: 2, Day: 1}
	assert.InDelta(t, 31, DeltaDays(a, b, CalendarStandard), 1e-9)
	assert.InDelta(t, 31, DeltaDays(a, b, CalendarNoLeap), 1e-9)
	assert.InDelta(t, 30, DeltaDays(a, b, Calendar360Day), 1e-9)
}

func TestInferFrequency(t *testing.T) {
	assert.Equal(t, "1 yearly", InferFrequency(365))
	assert.Equal(t, "1 monthly", InferFrequency(30))
	assert.Equal(t, "1 monthly", InferFrequency(31))
	assert.Equal(t, "3 monthly", InferFrequency(90))
	assert.Equal(t, "1 daily", InferFrequency(1))
	assert.Equal(t, "5 daily", InferFrequency(5))
	assert.Equal(t, "6 hourly", InferFrequency(0.25))
}

func TestFrequencyOrdering(t *testing.T) {
	assert.True(t, FinerFrequency("1 daily", "1 monthly"))
	assert.True(t, FinerFrequency("1 monthly", "1 yearly"))
	assert.True(t, FinerFrequency("1 daily", FrequencyStatic))
	assert.False(t, FinerFrequency(FrequencyStatic, "1 yearly"))
	assert.False(t, FinerFrequency("1 monthly", "1 monthly"))
}
