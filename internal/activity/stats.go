package activity

import (
	"context"
	"time"

	"wellnest/internal/model"
)

// Stats summarizes platform usage over a period.
type Stats struct {
	Period            string                  `json:"period"`
	Days              int                     `json:"days"`
	EventCounts       map[model.EventType]int `json:"event_counts"`
	HabitsCreated     int                     `json:"habits_created"`
	Completions       int                     `json:"completions"`
	CompletionsPerDay float64                 `json:"completions_per_day"`
	StreakMilestones  int                     `json:"streak_milestones"`
	LevelUps          int                     `json:"level_ups"`
	GroupJoins        int                     `json:"group_joins"`
	ChallengesSet     int                     `json:"challenges_set"`
	// StoredCompletions counts completion rows logged in the period. It trails
	// Completions when a log has since been undone.
	StoredCompletions int `json:"stored_completions"`
}

// CalculateStats derives usage stats from per-type event counts recorded in
// [since, until).
func CalculateStats(counts map[model.EventType]int, since, until time.Time) Stats {
	stats := Stats{
		Period:      since.Format("2006-01-02") + "/" + until.Format("2006-01-02"),
		EventCounts: make(map[model.EventType]int, len(counts)),
	}
	for typ, n := range counts {
		stats.EventCounts[typ] = n
		switch typ {
		case model.EventHabitCreated:
			stats.HabitsCreated += n
		case model.EventHabitLogged:
			stats.Completions += n
		case model.EventStreakMilestone:
			stats.StreakMilestones += n
		case model.EventLevelUp:
			stats.LevelUps += n
		case model.EventGroupJoined:
			stats.GroupJoins += n
		case model.EventChallengeSet:
			stats.ChallengesSet += n
		}
	}

	if d := until.Sub(since); d > 0 {
		stats.Days = int((d + 24*time.Hour - 1) / (24 * time.Hour))
		stats.CompletionsPerDay = float64(stats.Completions) / float64(stats.Days)
	}
	return stats
}

// Summarize loads event counts since the given time and computes stats up to
// now.
func (s *Service) Summarize(ctx context.Context, since, now time.Time) (Stats, error) {
	counts, err := s.repo.CountEventsByType(ctx, since)
	if err != nil {
		return Stats{}, err
	}
	stats := CalculateStats(counts, since, now)
	if stats.StoredCompletions, err = s.repo.CountCompletionsSince(ctx, since); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
