package bucket_test

import (
	"testing"
	"time"

	"github.com/2beens/fittracker/internal/tracker/bucket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newYorkCalendar(t *testing.T) bucket.Calendar {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return bucket.NewCalendar(loc)
}

func TestCalendar_Day_DSTBoundaries(t *testing.T) {
	cal := newYorkCalendar(t)

	springForward := time.Date(2024, 3, 10, 23, 30, 0, 0, cal.Location)
	k := cal.Day(springForward)
	assert.Equal(t, bucket.Key{Granularity: bucket.Day, Year: 2024, Month: time.March, Day: 10}, k)
	assert.Equal(t, 23*time.Hour, cal.End(k).Sub(cal.Start(k)))
	assert.True(t, cal.Contains(k, springForward))

	fallBack := time.Date(2024, 11, 3, 0, 15, 0, 0, cal.Location)
	k = cal.Day(fallBack)
	assert.Equal(t, "2024-11-03", k.String())
	assert.Equal(t, 25*time.Hour, cal.End(k).Sub(cal.Start(k)))

	// the same UTC instant falls into the previous local day
	utcMorning := time.Date(2024, 11, 4, 3, 0, 0, 0, time.UTC)
	assert.Equal(t, "2024-11-03", cal.Day(utcMorning).String())
}

func TestCalendar_WeekdayIndex(t *testing.T) {
	cal := bucket.NewCalendar(time.UTC)

	monday := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		assert.Equal(t, i, cal.WeekdayIndex(monday.AddDate(0, 0, i)))
	}

	sunday := time.Date(2024, 5, 12, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, 6, cal.WeekdayIndex(sunday))
}

func TestCalendar_Week_AcrossYears(t *testing.T) {
	cal := bucket.NewCalendar(time.UTC)

	newYear := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	k := cal.Week(newYear)
	assert.Equal(t, 2024, k.Year)
	assert.Equal(t, time.December, k.Month)
	assert.Equal(t, 30, k.Day)
	assert.Equal(t, "2025-W01", k.String())

	days := k.Days()
	require.Len(t, days, 7)
	assert.Equal(t, "2024-12-30", days[0].String())
	assert.Equal(t, "2025-01-05", days[6].String())

	assert.Equal(t, "2024-W52", k.Prev().String())
}

func TestCalendar_Week_SundayStart(t *testing.T) {
	cal := bucket.Calendar{Location: time.UTC, WeekStart: time.Sunday}

	wednesday := time.Date(2024, 5, 8, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, cal.WeekdayIndex(wednesday))
	k := cal.Week(wednesday)
	assert.Equal(t, 5, k.Day)
	assert.Equal(t, "wk-2024-05-05", k.String())
}

func TestKey_MonthArithmetic(t *testing.T) {
	cal := bucket.NewCalendar(time.UTC)

	jan := cal.Month(time.Date(2024, 1, 31, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-01", jan.String())
	assert.Equal(t, "2023-12", jan.Prev().String())

	feb := jan.Next()
	assert.Equal(t, "2024-02", feb.String())
	assert.Len(t, feb.Days(), 29)
	assert.Len(t, feb.Next().Next().Next().Days(), 31)
	assert.Equal(t, -1, bucket.CompareMonth(jan, feb))
	assert.Equal(t, 0, bucket.CompareMonth(feb, feb))
	assert.Equal(t, 1, bucket.CompareMonth(feb, jan))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), cal.End(feb))
}

func TestKey_RunAndDaysUntil(t *testing.T) {
	start, err := bucket.ParseDay("2024-02-27")
	require.NoError(t, err)

	run := start.Run(4)
	require.Len(t, run, 4)
	assert.Equal(t, "2024-02-27", run[0].String())
	assert.Equal(t, "2024-03-01", run[3].String())
	assert.Equal(t, 3, start.DaysUntil(run[3]))
	assert.Equal(t, -3, run[3].DaysUntil(start))
	assert.True(t, run[0].Before(run[1]))
	assert.True(t, run[2].After(run[1]))
	assert.Empty(t, start.Run(0))

	_, err = bucket.ParseDay("27.02.2024")
	assert.Error(t, err)
}

func TestCalendar_LastDays(t *testing.T) {
	cal := bucket.NewCalendar(time.UTC)
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)

	days := cal.LastDays(now, 7)
	require.Len(t, days, 7)
	assert.Equal(t, "2024-02-25", days[0].String())
	assert.Equal(t, cal.Today(now), days[6])
	assert.Empty(t, cal.LastDays(now, 0))
}

func TestCalendar_ResolveMonth(t *testing.T) {
	cal := bucket.NewCalendar(time.UTC)
	now := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	current := cal.ResolveMonth(now, 0)
	assert.Equal(t, bucket.MonthCurrent, current.State)
	assert.Equal(t, "2024-06", current.Key.String())
	assert.True(t, current.CanGoBack)
	assert.False(t, current.CanGoForward)

	past := cal.ResolveMonth(now, -6)
	assert.Equal(t, bucket.MonthPast, past.State)
	assert.Equal(t, "2023-12", past.Key.String())
	assert.True(t, past.CanGoForward)

	clamped := cal.ResolveMonth(now, -500)
	assert.Equal(t, -bucket.MaxMonthsBack, clamped.Offset)
	assert.Equal(t, "2014-06", clamped.Key.String())
	assert.False(t, clamped.CanGoBack)

	future := cal.ResolveMonth(now, 1)
	assert.Equal(t, bucket.MonthFuture, future.State)
	assert.Equal(t, "2024-07", future.Key.String())
}
