package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wellnest/internal/model"
)

const challengeColumns = `id, group_id, title, category, target_days, start_day, end_day, reward_xp, created_by, created_at`

func scanChallenge(sc scanner) (model.Challenge, error) {
	var (
		c                                  model.Challenge
		id, group, start, end, by, created string
	)
	if err := sc.Scan(&id, &group, &c.Title, &c.Category, &c.TargetDays, &start, &end, &c.RewardXP, &by, &created); err != nil {
		return model.Challenge{}, err
	}
	var err error
	if c.StartDay, err = parseDay(start); err != nil {
		return model.Challenge{}, err
	}
	if c.EndDay, err = parseDay(end); err != nil {
		return model.Challenge{}, err
	}
	if c.CreatedAt, err = parseTime(created); err != nil {
		return model.Challenge{}, err
	}
	c.ID = model.ChallengeID(id)
	c.GroupID = model.GroupID(group)
	c.CreatedBy = model.UserID(by)
	return c, nil
}

func (s *Store) NewChallengeID() model.ChallengeID { return model.ChallengeID(newID("chl")) }

func (s *Store) CreateChallenge(ctx context.Context, c model.Challenge) error {
	_, err := s.exec(ctx,
		`INSERT INTO challenges (`+challengeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.ID), string(c.GroupID), c.Title, c.Category, c.TargetDays,
		c.StartDay.String(), c.EndDay.String(), c.RewardXP, string(c.CreatedBy), fmtTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

func (s *Store) GetChallenge(ctx context.Context, id model.ChallengeID) (model.Challenge, bool, error) {
	c, err := scanChallenge(s.queryRow(ctx, `SELECT `+challengeColumns+` FROM challenges WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Challenge{}, false, nil
	}
	if err != nil {
		return model.Challenge{}, false, fmt.Errorf("get challenge %s: %w", id, err)
	}
	return c, true, nil
}

// ListChallenges returns the challenges of the given groups ordered by start
// day, newest first.
func (s *Store) ListChallenges(ctx context.Context, groupIDs []model.GroupID) ([]model.Challenge, error) {
	out := []model.Challenge{}
	if len(groupIDs) == 0 {
		return out, nil
	}
	rows, err := s.query(ctx,
		`SELECT `+challengeColumns+` FROM challenges
		 WHERE group_id IN (`+placeholders(len(groupIDs))+`)
		 ORDER BY start_day DESC, id`,
		stringArgs(groupIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
