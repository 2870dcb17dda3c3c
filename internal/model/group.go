package model

import "time"

type GroupID string

type Group struct {
	ID         GroupID    `json:"id"`
	Name       string     `json:"name"`
	TeacherID  UserID     `json:"teacherId"`
	JoinCode   string     `json:"joinCode,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

func (g Group) Archived() bool { return g.ArchivedAt != nil }

type Membership struct {
	GroupID  GroupID   `json:"groupId"`
	UserID   UserID    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Member is a membership joined with its user.
type Member struct {
	User     User      `json:"user"`
	JoinedAt time.Time `json:"joinedAt"`
}
