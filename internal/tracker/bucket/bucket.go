package bucket

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

type Granularity int

const (
	Day Granularity = iota
	Week
	Month
)

func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	default:
		return fmt.Sprintf("granularity(%d)", int(g))
	}
}

// Key identifies a calendar bucket by its first civil date.
// Keys are comparable and independent of any location: the same key maps
// to different instants in different calendars.
type Key struct {
	Granularity Granularity
	Year        int
	Month       time.Month
	Day         int
}

func keyFromDate(g Granularity, d time.Time) Key {
	y, m, day := d.Date()
	return Key{Granularity: g, Year: y, Month: m, Day: day}
}

// civil returns the key start date at UTC midnight. UTC has no DST, so day
// arithmetic on it is exact.
func (k Key) civil() time.Time {
	return time.Date(k.Year, k.Month, k.Day, 0, 0, 0, 0, time.UTC)
}

func (k Key) IsZero() bool {
	return k == Key{}
}

// Add moves the key by n buckets of its own granularity.
func (k Key) Add(n int) Key {
	switch k.Granularity {
	case Week:
		return keyFromDate(Week, k.civil().AddDate(0, 0, 7*n))
	case Month:
		return keyFromDate(Month, time.Date(k.Year, k.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC))
	default:
		return keyFromDate(Day, k.civil().AddDate(0, 0, n))
	}
}

func (k Key) Next() Key { return k.Add(1) }
func (k Key) Prev() Key { return k.Add(-1) }

func (k Key) Before(o Key) bool {
	return k.civil().Before(o.civil())
}

func (k Key) After(o Key) bool {
	return k.civil().After(o.civil())
}

// Days lists the day keys covered by the bucket, in order.
func (k Key) Days() []Key {
	first := keyFromDate(Day, k.civil())
	switch k.Granularity {
	case Week:
		return first.Run(7)
	case Month:
		n := k.Next().civil().Sub(k.civil()).Hours() / 24
		return first.Run(int(n))
	default:
		return []Key{first}
	}
}

// Run returns n consecutive keys starting at k.
func (k Key) Run(n int) []Key {
	if n <= 0 {
		return []Key{}
	}
	keys := make([]Key, 0, n)
	for cur := k; len(keys) < n; cur = cur.Next() {
		keys = append(keys, cur)
	}
	return keys
}

// DaysUntil counts whole days from k to o (negative when o is earlier).
func (k Key) DaysUntil(o Key) int {
	return int(o.civil().Sub(k.civil()).Hours() / 24)
}

func (k Key) String() string {
	switch k.Granularity {
	case Week:
		d := k.civil()
		if d.Weekday() == time.Monday {
			y, w := d.ISOWeek()
			return fmt.Sprintf("%04d-W%02d", y, w)
		}
		return "wk-" + d.Format(dayLayout)
	case Month:
		return fmt.Sprintf("%04d-%02d", k.Year, int(k.Month))
	default:
		return fmt.Sprintf("%04d-%02d-%02d", k.Year, int(k.Month), k.Day)
	}
}

// ParseDay parses a YYYY-MM-DD day key.
func ParseDay(s string) (Key, error) {
	d, err := time.Parse(dayLayout, s)
	if err != nil {
		return Key{}, fmt.Errorf("parse day key [%s]: %w", s, err)
	}
	return keyFromDate(Day, d), nil
}

// CompareMonth compares the months of two keys: -1, 0 or 1.
func CompareMonth(a, b Key) int {
	am := a.Year*12 + int(a.Month)
	bm := b.Year*12 + int(b.Month)
	switch {
	case am < bm:
		return -1
	case am > bm:
		return 1
	default:
		return 0
	}
}
