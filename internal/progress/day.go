package progress

import (
	"fmt"
	"time"
)

// DayLayout is the wire and storage format of a Day.
const DayLayout = "2006-01-02"

// Day is a calendar date with no time-of-day component.
// The zero Day is not a valid date; use IsZero to detect it.
type Day struct {
	year  int
	month time.Month
	dom   int
}

func NewDay(year int, month time.Month, dom int) Day {
	return fromUTC(time.Date(year, month, dom, 0, 0, 0, 0, time.UTC))
}

// DayOf returns the calendar day t falls on in loc. A nil loc means UTC.
func DayOf(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return Day{year: lt.Year(), month: lt.Month(), dom: lt.Day()}
}

func ParseDay(s string) (Day, error) {
	t, err := time.Parse(DayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", s, err)
	}
	return fromUTC(t), nil
}

func fromUTC(t time.Time) Day {
	return Day{year: t.Year(), month: t.Month(), dom: t.Day()}
}

func (d Day) utc() time.Time {
	return time.Date(d.year, d.month, d.dom, 0, 0, 0, 0, time.UTC)
}

func (d Day) IsZero() bool { return d == Day{} }

func (d Day) Year() int { return d.year }
func (d Day) Month() time.Month { return d.month }
func (d Day) DayOfMonth() int { return d.dom }

func (d Day) AddDays(n int) Day {
	return fromUTC(d.utc().AddDate(0, 0, n))
}

// Sub returns the number of days from o to d (positive when d is later).
func (d Day) Sub(o Day) int {
	return int(d.utc().Sub(o.utc()).Hours() / 24)
}

func (d Day) Before(o Day) bool { return d.utc().Before(o.utc()) }
func (d Day) After(o Day) bool { return d.utc().After(o.utc()) }

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.utc().Format(DayLayout)
}

func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Day) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func minDay(a, b Day) Day {
	if a.Before(b) {
		return a
	}
	return b
}
