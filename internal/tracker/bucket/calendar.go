package bucket

import "time"

// MaxMonthsBack limits how far month paging may go into the past.
const MaxMonthsBack = 120

// Calendar maps instants to buckets in a fixed location.
// Bucket boundaries are always local midnights, so DST days are 23 or 25 hours long.
type Calendar struct {
	Location  *time.Location
	WeekStart time.Weekday
}

// NewCalendar returns a calendar with Monday-start weeks.
// The week start is never taken from the host locale.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.Local
	}
	return Calendar{
		Location:  loc,
		WeekStart: time.Monday,
	}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

func (c Calendar) Day(t time.Time) Key {
	return keyFromDate(Day, t.In(c.loc()))
}

// WeekdayIndex returns the position of t within its week, 0 being the week start
// (Monday = 0 ... Sunday = 6 for Monday-start weeks).
func (c Calendar) WeekdayIndex(t time.Time) int {
	return (int(t.In(c.loc()).Weekday()) - int(c.WeekStart) + 7) % 7
}

func (c Calendar) Week(t time.Time) Key {
	local := t.In(c.loc())
	y, m, d := local.Date()
	start := time.Date(y, m, d-c.WeekdayIndex(t), 0, 0, 0, 0, time.UTC)
	return keyFromDate(Week, start)
}

func (c Calendar) Month(t time.Time) Key {
	y, m, _ := t.In(c.loc()).Date()
	return Key{Granularity: Month, Year: y, Month: m, Day: 1}
}

func (c Calendar) KeyFor(t time.Time, g Granularity) Key {
	switch g {
	case Week:
		return c.Week(t)
	case Month:
		return c.Month(t)
	default:
		return c.Day(t)
	}
}

// Start is the first instant of the bucket in the calendar location.
func (c Calendar) Start(k Key) time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, c.loc())
}

// End is the exclusive end of the bucket (the start of the next one).
func (c Calendar) End(k Key) time.Time {
	return c.Start(k.Next())
}

func (c Calendar) Contains(k Key, t time.Time) bool {
	return !t.Before(c.Start(k)) && t.Before(c.End(k))
}

// Today is the day key of now.
func (c Calendar) Today(now time.Time) Key {
	return c.Day(now)
}

// LastDays returns the n day keys ending with the day of now, oldest first.
func (c Calendar) LastDays(now time.Time, n int) []Key {
	if n <= 0 {
		return []Key{}
	}
	return c.Day(now).Add(-(n - 1)).Run(n)
}

type MonthState int

const (
	MonthPast MonthState = iota
	MonthCurrent
	MonthFuture
)

// MonthWindow is a resolved month page.
// A Future window carries no data: callers render an explicit empty state.
type MonthWindow struct {
	Key          Key
	Offset       int
	State        MonthState
	CanGoBack    bool
	CanGoForward bool
}

// ResolveMonth resolves a month offset relative to the month of now.
// Offsets older than MaxMonthsBack are clamped.
func (c Calendar) ResolveMonth(now time.Time, offset int) MonthWindow {
	if offset < -MaxMonthsBack {
		offset = -MaxMonthsBack
	}

	current := c.Month(now)
	k := current.Add(offset)

	state := MonthCurrent
	switch CompareMonth(k, current) {
	case -1:
		state = MonthPast
	case 1:
		state = MonthFuture
	}

	return MonthWindow{
		Key:          k,
		Offset:       offset,
		State:        state,
		CanGoBack:    offset > -MaxMonthsBack,
		CanGoForward: offset < 0,
	}
}
