package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wellnest/internal/model"
)

func (s *Store) RecordEvent(ctx context.Context, ev model.ActivityEvent) error {
	if ev.ID == "" {
		ev.ID = newID("evt")
	}
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode event metadata: %w", err)
		}
		meta = b
	}
	_, err := s.exec(ctx,
		`INSERT INTO activity_events (id, type, user_id, group_id, habit_id, metadata, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), string(ev.UserID), string(ev.GroupID), string(ev.HabitID), string(meta), fmtTime(ev.At),
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// EventFilter narrows ListEvents. Zero values do not constrain the result.
type EventFilter struct {
	// GroupID selects events tagged with the group plus the group-less
	// events of its members.
	GroupID model.GroupID
	UserIDs []model.UserID
	Types   []model.EventType
	Since   time.Time
	Limit   int
}

// ListEvents returns matching events, newest first.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]model.ActivityEvent, error) {
	q := `SELECT id, type, user_id, group_id, habit_id, metadata, at FROM activity_events WHERE 1 = 1`
	var args []any
	if f.GroupID != "" {
		q += ` AND (group_id = ? OR (group_id = '' AND user_id IN (SELECT user_id FROM memberships WHERE group_id = ?)))`
		args = append(args, string(f.GroupID), string(f.GroupID))
	}
	if len(f.UserIDs) > 0 {
		q += ` AND user_id IN (` + placeholders(len(f.UserIDs)) + `)`
		args = append(args, stringArgs(f.UserIDs)...)
	}
	if len(f.Types) > 0 {
		q += ` AND type IN (` + placeholders(len(f.Types)) + `)`
		args = append(args, stringArgs(f.Types)...)
	}
	if !f.Since.IsZero() {
		q += ` AND at >= ?`
		args = append(args, fmtTime(f.Since))
	}
	q += ` ORDER BY at DESC, id`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []model.ActivityEvent{}
	for rows.Next() {
		var (
			ev                                model.ActivityEvent
			typ, user, group, habit, meta, at string
		)
		if err := rows.Scan(&ev.ID, &typ, &user, &group, &habit, &meta, &at); err != nil {
			return nil, err
		}
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode event metadata: %w", err)
			}
		}
		ev.Type = model.EventType(typ)
		ev.UserID = model.UserID(user)
		ev.GroupID = model.GroupID(group)
		ev.HabitID = model.HabitID(habit)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountEventsByType tallies events at or after since.
func (s *Store) CountEventsByType(ctx context.Context, since time.Time) (map[model.EventType]int, error) {
	rows, err := s.query(ctx,
		`SELECT type, COUNT(*) FROM activity_events WHERE at >= ? GROUP BY type`, fmtTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()
	out := map[model.EventType]int{}
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[model.EventType(typ)] = n
	}
	return out, rows.Err()
}
