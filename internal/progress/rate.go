package progress

// Rate is completed days over elapsed days for a window that starts at a
// fixed day and may still be in progress.
type Rate struct {
	Completed int     `json:"completed"`
	Elapsed   int     `json:"elapsed"`
	Value     float64 `json:"value"`
}

// CompletionRate counts the days of set inside [start, min(today, start+window-1)].
// A window that has not started yet, or a non-positive window, has zero elapsed
// days and a zero rate.
func CompletionRate(set DaySet, start Day, window int, today Day) Rate {
	if window <= 0 || start.IsZero() || start.After(today) {
		return Rate{}
	}
	end := minDay(today, start.AddDays(window-1))
	r := Rate{Elapsed: end.Sub(start) + 1}
	for d := range set {
		if d.Before(start) || d.After(end) {
			continue
		}
		r.Completed++
	}
	if r.Elapsed > 0 {
		r.Value = float64(r.Completed) / float64(r.Elapsed)
	}
	return r
}

// TrailingRate is the completion rate over the last days days ending today.
func TrailingRate(set DaySet, days int, today Day) Rate {
	if days <= 0 {
		return Rate{}
	}
	return CompletionRate(set, today.AddDays(-(days - 1)), days, today)
}
