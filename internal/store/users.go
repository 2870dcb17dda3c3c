package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wellnest/internal/model"
)

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

const userColumns = `id, email, display_name, role, created_at`

func scanUser(sc scanner) (model.User, error) {
	var (
		u       model.User
		id      string
		role    string
		created string
	)
	if err := sc.Scan(&id, &u.Email, &u.DisplayName, &role, &created); err != nil {
		return model.User{}, err
	}
	t, err := parseTime(created)
	if err != nil {
		return model.User{}, err
	}
	u.ID = model.UserID(id)
	u.Role = model.Role(role)
	u.CreatedAt = t
	return u, nil
}

// GetOrCreateUser returns the user registered under email, creating it with
// role and displayName when absent. The bool reports creation.
func (s *Store) GetOrCreateUser(ctx context.Context, email string, role model.Role, displayName string, now time.Time) (model.User, bool, error) {
	u, ok, err := s.GetUserByEmail(ctx, email)
	if err != nil || ok {
		return u, false, err
	}

	u = model.User{
		ID:          model.UserID(newID("usr")),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   now,
	}
	_, err = s.exec(ctx,
		`INSERT INTO users (id, email, display_name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(u.ID), u.Email, u.DisplayName, string(u.Role), fmtTime(u.CreatedAt),
	)
	if err != nil {
		// Lost a race with a concurrent login for the same email.
		if existing, ok, getErr := s.GetUserByEmail(ctx, email); getErr == nil && ok {
			return existing, false, nil
		}
		return model.User{}, false, fmt.Errorf("insert user: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, bool, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("get user by email: %w", err)
	}
	return u, true, nil
}

func (s *Store) GetUserByID(ctx context.Context, id model.UserID) (model.User, bool, error) {
	u, err := scanUser(s.queryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, string(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, false, nil
	}
	if err != nil {
		return model.User{}, false, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, true, nil
}

// GetUsers loads the users with the given ids, keyed by id. Unknown ids are
// absent from the result.
func (s *Store) GetUsers(ctx context.Context, ids []model.UserID) (map[model.UserID]model.User, error) {
	out := make(map[model.UserID]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.query(ctx,
		`SELECT `+userColumns+` FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("get users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out[u.ID] = u
	}
	return out, rows.Err()
}

func (s *Store) UpdateDisplayName(ctx context.Context, id model.UserID, name string) (bool, error) {
	res, err := s.exec(ctx, `UPDATE users SET display_name = ? WHERE id = ?`, name, string(id))
	if err != nil {
		return false, fmt.Errorf("update display name: %w", err)
	}
	return affected(res)
}

func (s *Store) PutOTP(ctx context.Context, ch model.OTPChallenge) error {
	_, err := s.exec(ctx,
		`INSERT INTO otp_challenges (email, code_hash, expires_at, requested_at, attempts)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
		   code_hash = excluded.code_hash,
		   expires_at = excluded.expires_at,
		   requested_at = excluded.requested_at,
		   attempts = excluded.attempts`,
		ch.Email, ch.CodeHash, fmtTime(ch.ExpiresAt), fmtTime(ch.RequestedAt), ch.Attempts,
	)
	if err != nil {
		return fmt.Errorf("put otp challenge: %w", err)
	}
	return nil
}

func (s *Store) GetOTP(ctx context.Context, email string) (model.OTPChallenge, bool, error) {
	var (
		ch                 model.OTPChallenge
		expires, requested string
	)
	err := s.queryRow(ctx,
		`SELECT email, code_hash, expires_at, requested_at, attempts FROM otp_challenges WHERE email = ?`, email,
	).Scan(&ch.Email, &ch.CodeHash, &expires, &requested, &ch.Attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return model.OTPChallenge{}, false, nil
	}
	if err != nil {
		return model.OTPChallenge{}, false, fmt.Errorf("get otp challenge: %w", err)
	}
	if ch.ExpiresAt, err = parseTime(expires); err != nil {
		return model.OTPChallenge{}, false, err
	}
	if ch.RequestedAt, err = parseTime(requested); err != nil {
		return model.OTPChallenge{}, false, err
	}
	return ch, true, nil
}

func (s *Store) DeleteOTP(ctx context.Context, email string) error {
	if _, err := s.exec(ctx, `DELETE FROM otp_challenges WHERE email = ?`, email); err != nil {
		return fmt.Errorf("delete otp challenge: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, created_at, last_seen, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.UserID), sess.TokenHash, fmtTime(sess.CreatedAt), fmtTime(sess.LastSeen), fmtTime(sess.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, tokenHash string) (model.Session, bool, error) {
	var (
		sess                     model.Session
		userID                   string
		created, seen, expiresAt string
	)
	err := s.queryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, last_seen, expires_at FROM sessions WHERE token_hash = ?`, tokenHash,
	).Scan(&sess.ID, &userID, &sess.TokenHash, &created, &seen, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, false, nil
	}
	if err != nil {
		return model.Session{}, false, fmt.Errorf("get session: %w", err)
	}
	sess.UserID = model.UserID(userID)
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&sess.CreatedAt, created}, {&sess.LastSeen, seen}, {&sess.ExpiresAt, expiresAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return model.Session{}, false, err
		}
	}
	return sess, true, nil
}

func (s *Store) DeleteSessionByID(ctx context.Context, sessionID string) error {
	if _, err := s.exec(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	if _, err := s.exec(ctx, `DELETE FROM sessions WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, lastSeen time.Time) error {
	if _, err := s.exec(ctx, `UPDATE sessions SET last_seen = ? WHERE id = ?`, fmtTime(lastSeen), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM sessions WHERE expires_at < ?`, fmtTime(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
