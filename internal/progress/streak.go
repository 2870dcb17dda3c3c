package progress

// Streak summarizes consecutive-day runs in a completion set.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
	// LastDay is the most recent completion on or before today.
	LastDay Day `json:"lastDay,omitempty"`
}

// Run is a maximal block of consecutive days.
type Run struct {
	Start  Day `json:"start"`
	Length int `json:"length"`
}

func (r Run) End() Day { return r.Start.AddDays(r.Length - 1) }

// Runs splits the days on or before today into maximal consecutive runs,
// oldest first.
func Runs(set DaySet, today Day) []Run {
	var runs []Run
	for _, d := range set.Sorted() {
		if d.After(today) {
			break
		}
		if n := len(runs); n > 0 && runs[n-1].End().AddDays(1) == d {
			runs[n-1].Length++
			continue
		}
		runs = append(runs, Run{Start: d, Length: 1})
	}
	return runs
}

// CurrentStreak counts consecutive days ending today, or ending yesterday when
// today has not been logged yet. Anything older breaks the streak.
func CurrentStreak(set DaySet, today Day) int {
	anchor := today
	if !set.Has(anchor) {
		anchor = today.AddDays(-1)
		if !set.Has(anchor) {
			return 0
		}
	}
	n := 0
	for d := anchor; set.Has(d); d = d.AddDays(-1) {
		n++
	}
	return n
}

func LongestStreak(set DaySet, today Day) int {
	longest := 0
	for _, r := range Runs(set, today) {
		if r.Length > longest {
			longest = r.Length
		}
	}
	return longest
}

func Streaks(set DaySet, today Day) Streak {
	out := Streak{Current: CurrentStreak(set, today)}
	for _, r := range Runs(set, today) {
		if r.Length > out.Longest {
			out.Longest = r.Length
		}
		out.LastDay = r.End()
	}
	return out
}
