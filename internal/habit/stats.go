package habit

import (
	"wellnest/internal/model"
	"wellnest/internal/progress"
)

// Stats is the per-habit summary every view renders.
type Stats struct {
	Streak progress.Streak `json:"streak"`
	Rate   progress.Rate   `json:"rate"`
	// Total counts all completed days on or before today.
	Total int `json:"total"`
	Tier  int `json:"tier"`
}

// ComputeStats derives streaks, the trailing rate over window days and totals
// from a habit's full completion set.
func ComputeStats(set progress.DaySet, today progress.Day, window int) Stats {
	total := progress.CollectDays(set.Sorted(), progress.Window{Today: today}).Len()
	return Stats{
		Streak: progress.Streaks(set, today),
		Rate:   progress.TrailingRate(set, window, today),
		Total:  total,
		Tier:   progress.HabitTier(total),
	}
}

// Sets groups completions into one day set per habit.
func Sets(completions []model.Completion) map[model.HabitID]progress.DaySet {
	out := map[model.HabitID]progress.DaySet{}
	for _, c := range completions {
		s, ok := out[c.HabitID]
		if !ok {
			s = progress.NewDaySet()
			out[c.HabitID] = s
		}
		s.Add(c.Day)
	}
	return out
}

// Union merges the sets of the given habits into one set of active days.
func Union(sets map[model.HabitID]progress.DaySet, habits []model.Habit) progress.DaySet {
	out := progress.NewDaySet()
	for _, h := range habits {
		out = out.Union(sets[h.ID])
	}
	return out
}

// XP scores a user's habits. Archived habits keep the XP they earned.
func XP(habits []model.Habit, sets map[model.HabitID]progress.DaySet, today progress.Day, w progress.Weights) progress.XPBreakdown {
	var out progress.XPBreakdown
	for _, h := range habits {
		out = out.Add(progress.HabitXP(string(h.Difficulty), sets[h.ID], today, w))
	}
	return out
}
