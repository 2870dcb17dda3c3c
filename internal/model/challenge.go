package model

import (
	"time"

	"wellnest/internal/progress"
)

type ChallengeID string

// Challenge asks every member of a group to log habits of a category on
// TargetDays distinct days between StartDay and EndDay.
type Challenge struct {
	ID         ChallengeID  `json:"id"`
	GroupID    GroupID      `json:"groupId"`
	Title      string       `json:"title"`
	Category   string       `json:"category,omitempty"`
	TargetDays int          `json:"targetDays"`
	StartDay   progress.Day `json:"startDay"`
	EndDay     progress.Day `json:"endDay"`
	RewardXP   int          `json:"rewardXp"`
	CreatedBy  UserID       `json:"createdBy"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Matches reports whether a habit's completions count toward the challenge.
func (c Challenge) Matches(h Habit) bool {
	return c.Category == "" || c.Category == h.Category
}

type ChallengeStatus string

const (
	ChallengeUpcoming ChallengeStatus = "upcoming"
	ChallengeActive   ChallengeStatus = "active"
	ChallengeEnded    ChallengeStatus = "ended"
)

func (c Challenge) StatusOn(today progress.Day) ChallengeStatus {
	switch {
	case today.Before(c.StartDay):
		return ChallengeUpcoming
	case today.After(c.EndDay):
		return ChallengeEnded
	default:
		return ChallengeActive
	}
}

// Length is the number of days from StartDay through EndDay.
func (c Challenge) Length() int {
	return c.EndDay.Sub(c.StartDay) + 1
}
