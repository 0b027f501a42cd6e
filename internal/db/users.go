package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

// User is an account that can sign in.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts u, assigning an id when empty. Usernames are unique.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = NewID()
	}
	u.CreatedAt = fromMillis(s.millis())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Username, u.PasswordHash, toMillis(u.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return User{}, errs.New(errs.FailedPrecondition, "username already taken")
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// UserByName looks a user up by username.
func (s *Store) UserByName(ctx context.Context, username string) (User, error) {
	return s.scanUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE username = ?`, username)
}

// UserByID looks a user up by id.
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	return s.scanUser(ctx, `SELECT id, username, password_hash, created_at FROM users WHERE id = ?`, id)
}

func (s *Store) scanUser(ctx context.Context, query string, arg string) (User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if err != nil {
		return User{}, notFound(err, "user")
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// CreateSession stores a session for token. Only the token's hash is kept.
func (s *Store) CreateSession(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, expires_at, created_at)
		 VALUES (hex(sha3(?, 256)), ?, ?, ?)`,
		token, userID, toMillis(expiresAt), s.millis())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// SessionUser returns the user behind a live session token. Expired or
// unknown tokens are not_found.
func (s *Store) SessionUser(ctx context.Context, token string, now time.Time) (User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.created_at
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = hex(sha3(?, 256)) AND s.expires_at > ?`,
		token, toMillis(now)).Scan(&u.ID, &u.Username, &u.PasswordHash, &created)
	if err != nil {
		return User{}, notFound(err, "session")
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

// DeleteSession removes the session for token. Missing sessions are fine.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = hex(sha3(?, 256))`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired at or before now.
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
