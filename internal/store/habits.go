package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellnest/internal/model"
	"wellnest/internal/progress"
	"wellnest/internal/visibility"
)

const habitColumns = `id, owner_id, title, category, difficulty, visibility, created_at, archived_at`

func scanHabit(sc scanner) (model.Habit, error) {
	var (
		h                            model.Habit
		id, owner, diff, vis, create string
		archived                     sql.NullString
	)
	if err := sc.Scan(&id, &owner, &h.Title, &h.Category, &diff, &vis, &create, &archived); err != nil {
		return model.Habit{}, err
	}
	var err error
	if h.CreatedAt, err = parseTime(create); err != nil {
		return model.Habit{}, err
	}
	if h.ArchivedAt, err = parseNullTime(archived); err != nil {
		return model.Habit{}, err
	}
	h.ID = model.HabitID(id)
	h.OwnerID = model.UserID(owner)
	h.Difficulty = model.Difficulty(diff)
	h.Visibility = visibility.Tier(vis)
	return h, nil
}

func (s *Store) NewHabitID() model.HabitID { return model.HabitID(newID("hab")) }

func (s *Store) NewCompletionID() model.CompletionID { return model.CompletionID(newID("cmp")) }

func (s *Store) CreateHabit(ctx context.Context, h model.Habit) error {
	_, err := s.exec(ctx,
		`INSERT INTO habits (id, owner_id, title, category, difficulty, visibility, created_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(h.ID), string(h.OwnerID), h.Title, h.Category, string(h.Difficulty), string(h.Visibility),
		fmtTime(h.CreatedAt), fmtNullTime(h.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("create habit: %w", err)
	}
	return nil
}

func (s *Store) GetHabit(ctx context.Context, id model.HabitID) (model.Habit, bool, error) {
	h, err := scanHabit(s.queryRow(ctx, `SELECT `+habitColumns+` FROM habits WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Habit{}, false, nil
	}
	if err != nil {
		return model.Habit{}, false, fmt.Errorf("get habit %s: %w", id, err)
	}
	return h, true, nil
}

// ListHabits returns the habits owned by any of ownerIDs, oldest first.
func (s *Store) ListHabits(ctx context.Context, ownerIDs []model.UserID, includeArchived bool) ([]model.Habit, error) {
	out := []model.Habit{}
	if len(ownerIDs) == 0 {
		return out, nil
	}
	q := `SELECT ` + habitColumns + ` FROM habits WHERE owner_id IN (` + placeholders(len(ownerIDs)) + `)`
	if !includeArchived {
		q += ` AND archived_at IS NULL`
	}
	q += ` ORDER BY created_at, id`

	rows, err := s.query(ctx, q, stringArgs(ownerIDs)...)
	if err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// UpdateHabit overwrites the mutable fields of a habit.
func (s *Store) UpdateHabit(ctx context.Context, h model.Habit) error {
	_, err := s.exec(ctx,
		`UPDATE habits SET title = ?, category = ?, difficulty = ?, visibility = ?, archived_at = ? WHERE id = ?`,
		h.Title, h.Category, string(h.Difficulty), string(h.Visibility), fmtNullTime(h.ArchivedAt), string(h.ID),
	)
	if err != nil {
		return fmt.Errorf("update habit: %w", err)
	}
	return nil
}

// InsertCompletion stores c unless the habit already has a completion on
// c.Day. It reports whether a row was written.
func (s *Store) InsertCompletion(ctx context.Context, c model.Completion) (bool, error) {
	if c.ID == "" {
		c.ID = s.NewCompletionID()
	}
	res, err := s.exec(ctx,
		`INSERT INTO completions (id, habit_id, user_id, day, logged_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (habit_id, day) DO NOTHING`,
		string(c.ID), string(c.HabitID), string(c.UserID), c.Day.String(), fmtTime(c.LoggedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert completion: %w", err)
	}
	return affected(res)
}

func (s *Store) DeleteCompletion(ctx context.Context, habitID model.HabitID, day progress.Day) (bool, error) {
	res, err := s.exec(ctx,
		`DELETE FROM completions WHERE habit_id = ? AND day = ?`, string(habitID), day.String(),
	)
	if err != nil {
		return false, fmt.Errorf("delete completion: %w", err)
	}
	return affected(res)
}

// CompletionFilter narrows ListCompletions. Empty slices and zero days do not
// constrain the result.
type CompletionFilter struct {
	HabitIDs []model.HabitID
	UserIDs  []model.UserID
	Since    progress.Day
	Until    progress.Day
}

// ListCompletions returns matching completions ordered by day.
func (s *Store) ListCompletions(ctx context.Context, f CompletionFilter) ([]model.Completion, error) {
	var (
		where []string
		args  []any
	)
	if len(f.HabitIDs) > 0 {
		where = append(where, `habit_id IN (`+placeholders(len(f.HabitIDs))+`)`)
		args = append(args, stringArgs(f.HabitIDs)...)
	}
	if len(f.UserIDs) > 0 {
		where = append(where, `user_id IN (`+placeholders(len(f.UserIDs))+`)`)
		args = append(args, stringArgs(f.UserIDs)...)
	}
	if !f.Since.IsZero() {
		where = append(where, `day >= ?`)
		args = append(args, f.Since.String())
	}
	if !f.Until.IsZero() {
		where = append(where, `day <= ?`)
		args = append(args, f.Until.String())
	}
	q := `SELECT id, habit_id, user_id, day, logged_at FROM completions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY day, habit_id`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	defer rows.Close()

	out := []model.Completion{}
	for rows.Next() {
		var (
			c                            model.Completion
			id, habit, user, day, logged string
		)
		if err := rows.Scan(&id, &habit, &user, &day, &logged); err != nil {
			return nil, err
		}
		if c.Day, err = parseDay(day); err != nil {
			return nil, err
		}
		if c.LoggedAt, err = parseTime(logged); err != nil {
			return nil, err
		}
		c.ID = model.CompletionID(id)
		c.HabitID = model.HabitID(habit)
		c.UserID = model.UserID(user)
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountCompletionsSince counts all completions logged at or after since.
func (s *Store) CountCompletionsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM completions WHERE logged_at >= ?`, fmtTime(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return n, nil
}
