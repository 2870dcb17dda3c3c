package model

import (
	"strings"
	"time"
)

type UserID string

type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

func ParseRole(s string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleTeacher:
		return RoleTeacher, true
	case RoleStudent, "":
		return RoleStudent, true
	default:
		return "", false
	}
}

type User struct {
	ID          UserID    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (u User) IsTeacher() bool { return u.Role == RoleTeacher }

// Name falls back to the local part of the email when no display name is set.
func (u User) Name() string {
	if n := strings.TrimSpace(u.DisplayName); n != "" {
		return n
	}
	if at := strings.IndexByte(u.Email, '@'); at > 0 {
		return u.Email[:at]
	}
	return string(u.ID)
}

type OTPChallenge struct {
	Email       string    `json:"email"`
	CodeHash    string    `json:"codeHash"`
	ExpiresAt   time.Time `json:"expiresAt"`
	RequestedAt time.Time `json:"requestedAt"`
	Attempts    int       `json:"attempts"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    UserID    `json:"userId"`
	TokenHash string    `json:"tokenHash"`
	CreatedAt time.Time `json:"createdAt"`
	LastSeen  time.Time `json:"lastSeen"`
	ExpiresAt time.Time `json:"expiresAt"`
}
