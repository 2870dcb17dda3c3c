package progress

import (
	"sort"
	"time"
)

// DaySet is the set of distinct calendar days with at least one completion.
type DaySet map[Day]struct{}

func NewDaySet(days ...Day) DaySet {
	s := make(DaySet, len(days))
	for _, d := range days {
		s.Add(d)
	}
	return s
}

func (s DaySet) Add(d Day) {
	if d.IsZero() {
		return
	}
	s[d] = struct{}{}
}

func (s DaySet) Has(d Day) bool {
	_, ok := s[d]
	return ok
}

func (s DaySet) Len() int { return len(s) }

// Sorted returns the days in ascending order.
func (s DaySet) Sorted() []Day {
	out := make([]Day, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Between returns the days in [from, to]. A zero from means no lower bound.
func (s DaySet) Between(from, to Day) DaySet {
	out := DaySet{}
	for d := range s {
		if !from.IsZero() && d.Before(from) {
			continue
		}
		if d.After(to) {
			continue
		}
		out[d] = struct{}{}
	}
	return out
}

// Union merges other into a new set.
func (s DaySet) Union(other DaySet) DaySet {
	out := make(DaySet, len(s)+len(other))
	for d := range s {
		out[d] = struct{}{}
	}
	for d := range other {
		out[d] = struct{}{}
	}
	return out
}

// Window is a lookback range ending at Today. Days <= 0 has no lower bound.
type Window struct {
	Today Day
	Days  int
}

// From returns the first day of the window, or the zero Day when unbounded.
func (w Window) From() Day {
	if w.Days <= 0 {
		return Day{}
	}
	return w.Today.AddDays(-(w.Days - 1))
}

func (w Window) Contains(d Day) bool {
	if d.After(w.Today) {
		return false
	}
	from := w.From()
	return from.IsZero() || !d.Before(from)
}

// CollectTimes builds the completion-day set from raw timestamps, normalizing
// each one to its calendar day in loc and keeping only days inside w.
func CollectTimes(times []time.Time, loc *time.Location, w Window) DaySet {
	s := make(DaySet, len(times))
	for _, t := range times {
		d := DayOf(t, loc)
		if w.Contains(d) {
			s.Add(d)
		}
	}
	return s
}

// CollectDays is CollectTimes for values that are already calendar days.
func CollectDays(days []Day, w Window) DaySet {
	s := make(DaySet, len(days))
	for _, d := range days {
		if w.Contains(d) {
			s.Add(d)
		}
	}
	return s
}
