package model

import "time"

type EventType string

const (
	EventHabitCreated    EventType = "habit_created"
	EventHabitLogged     EventType = "habit_logged"
	EventStreakMilestone EventType = "streak_milestone"
	EventLevelUp         EventType = "level_up"
	EventGroupJoined     EventType = "group_joined"
	EventChallengeSet    EventType = "challenge_set"
)

type ActivityEvent struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	UserID   UserID         `json:"userId"`
	GroupID  GroupID        `json:"groupId,omitempty"`
	HabitID  HabitID        `json:"habitId,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}
