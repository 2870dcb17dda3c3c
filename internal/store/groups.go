package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wellnest/internal/model"
)

const groupColumns = `id, name, teacher_id, join_code, created_at, archived_at`

func scanGroup(sc scanner) (model.Group, error) {
	var (
		g                   model.Group
		id, teacher, create string
		archived            sql.NullString
	)
	if err := sc.Scan(&id, &g.Name, &teacher, &g.JoinCode, &create, &archived); err != nil {
		return model.Group{}, err
	}
	var err error
	if g.CreatedAt, err = parseTime(create); err != nil {
		return model.Group{}, err
	}
	if g.ArchivedAt, err = parseNullTime(archived); err != nil {
		return model.Group{}, err
	}
	g.ID = model.GroupID(id)
	g.TeacherID = model.UserID(teacher)
	return g, nil
}

func (s *Store) NewGroupID() model.GroupID { return model.GroupID(newID("grp")) }

func (s *Store) CreateGroup(ctx context.Context, g model.Group) error {
	_, err := s.exec(ctx,
		`INSERT INTO class_groups (id, name, teacher_id, join_code, created_at, archived_at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(g.ID), g.Name, string(g.TeacherID), g.JoinCode, fmtTime(g.CreatedAt), fmtNullTime(g.ArchivedAt),
	)
	if err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

func (s *Store) getGroupWhere(ctx context.Context, where string, arg any) (model.Group, bool, error) {
	g, err := scanGroup(s.queryRow(ctx, `SELECT `+groupColumns+` FROM class_groups WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Group{}, false, nil
	}
	if err != nil {
		return model.Group{}, false, fmt.Errorf("get group: %w", err)
	}
	return g, true, nil
}

func (s *Store) GetGroup(ctx context.Context, id model.GroupID) (model.Group, bool, error) {
	return s.getGroupWhere(ctx, `id = ?`, string(id))
}

func (s *Store) GetGroupByJoinCode(ctx context.Context, code string) (model.Group, bool, error) {
	return s.getGroupWhere(ctx, `join_code = ?`, code)
}

func (s *Store) listGroups(ctx context.Context, query string, args ...any) ([]model.Group, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	out := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ListGroupsTaughtBy(ctx context.Context, teacherID model.UserID) ([]model.Group, error) {
	return s.listGroups(ctx,
		`SELECT `+groupColumns+` FROM class_groups WHERE teacher_id = ? ORDER BY created_at, id`,
		string(teacherID),
	)
}

func (s *Store) ListGroupsForMember(ctx context.Context, userID model.UserID) ([]model.Group, error) {
	return s.listGroups(ctx,
		`SELECT `+groupColumns+` FROM class_groups
		 WHERE id IN (SELECT group_id FROM memberships WHERE user_id = ?)
		 ORDER BY created_at, id`,
		string(userID),
	)
}

func (s *Store) SetJoinCode(ctx context.Context, id model.GroupID, code string) error {
	if _, err := s.exec(ctx, `UPDATE class_groups SET join_code = ? WHERE id = ?`, code, string(id)); err != nil {
		return fmt.Errorf("set join code: %w", err)
	}
	return nil
}

func (s *Store) ArchiveGroup(ctx context.Context, id model.GroupID, at time.Time) error {
	if _, err := s.exec(ctx,
		`UPDATE class_groups SET archived_at = ? WHERE id = ? AND archived_at IS NULL`, fmtTime(at), string(id),
	); err != nil {
		return fmt.Errorf("archive group: %w", err)
	}
	return nil
}

// AddMember inserts the membership. It reports false when the user was
// already a member.
func (s *Store) AddMember(ctx context.Context, m model.Membership) (bool, error) {
	res, err := s.exec(ctx,
		`INSERT INTO memberships (group_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT (group_id, user_id) DO NOTHING`,
		string(m.GroupID), string(m.UserID), fmtTime(m.JoinedAt),
	)
	if err != nil {
		return false, fmt.Errorf("add member: %w", err)
	}
	return affected(res)
}

func (s *Store) RemoveMember(ctx context.Context, groupID model.GroupID, userID model.UserID) (bool, error) {
	res, err := s.exec(ctx,
		`DELETE FROM memberships WHERE group_id = ? AND user_id = ?`, string(groupID), string(userID),
	)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return affected(res)
}

func (s *Store) IsMember(ctx context.Context, groupID model.GroupID, userID model.UserID) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM memberships WHERE group_id = ? AND user_id = ?`, string(groupID), string(userID),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

// ListMembers returns the group's members ordered by join time.
func (s *Store) ListMembers(ctx context.Context, groupID model.GroupID) ([]model.Member, error) {
	rows, err := s.query(ctx,
		`SELECT u.id, u.email, u.display_name, u.role, u.created_at, m.joined_at
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = ?
		 ORDER BY m.joined_at, u.id`,
		string(groupID),
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	out := []model.Member{}
	for rows.Next() {
		var (
			id, role, created, joined string
			m                         model.Member
		)
		if err := rows.Scan(&id, &m.User.Email, &m.User.DisplayName, &role, &created, &joined); err != nil {
			return nil, err
		}
		if m.User.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.JoinedAt, err = parseTime(joined); err != nil {
			return nil, err
		}
		m.User.ID = model.UserID(id)
		m.User.Role = model.Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) listGroupIDs(ctx context.Context, query string, arg any) ([]model.GroupID, error) {
	rows, err := s.query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list group ids: %w", err)
	}
	defer rows.Close()
	var out []model.GroupID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, model.GroupID(id))
	}
	return out, rows.Err()
}

func (s *Store) GroupIDsForMember(ctx context.Context, userID model.UserID) ([]model.GroupID, error) {
	return s.listGroupIDs(ctx, `SELECT group_id FROM memberships WHERE user_id = ? ORDER BY group_id`, string(userID))
}

func (s *Store) GroupIDsTaughtBy(ctx context.Context, teacherID model.UserID) ([]model.GroupID, error) {
	return s.listGroupIDs(ctx, `SELECT id FROM class_groups WHERE teacher_id = ? ORDER BY id`, string(teacherID))
}
