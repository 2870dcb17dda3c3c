package model

import (
	"strings"
	"time"

	"wellnest/internal/progress"
	"wellnest/internal/visibility"
)

type HabitID string

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(s))) {
	case DifficultyEasy, "":
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// Categories group habits for challenges and reporting.
var Categories = []string{"sleep", "movement", "mindfulness", "nutrition", "screen_time", "social", "learning", "other"}

func ValidCategory(c string) bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

type Habit struct {
	ID         HabitID         `json:"id"`
	OwnerID    UserID          `json:"ownerId"`
	Title      string          `json:"title"`
	Category   string          `json:"category"`
	Difficulty Difficulty      `json:"difficulty"`
	Visibility visibility.Tier `json:"visibility"`
	CreatedAt  time.Time       `json:"createdAt"`
	ArchivedAt *time.Time      `json:"archivedAt,omitempty"`
}

func (h Habit) VisibilityTier() visibility.Tier { return h.Visibility }

func (h Habit) Archived() bool { return h.ArchivedAt != nil }

type CompletionID string

// Completion records that a habit was done on one calendar day.
// There is at most one per habit per day.
type Completion struct {
	ID       CompletionID `json:"id"`
	HabitID  HabitID      `json:"habitId"`
	UserID   UserID       `json:"userId"`
	Day      progress.Day `json:"day"`
	LoggedAt time.Time    `json:"loggedAt"`
}
