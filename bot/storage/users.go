package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/karwa/bannerbot/core/logger"
	"log/slog"
)

// IsUserAllowed reports whether the user is on the allow-list.
func (s *Store) IsUserAllowed(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM users_allowed WHERE user_id = $1)`, userID)
	if err != nil {
		return false, fmt.Errorf("check allowed: %w", err)
	}
	return exists, nil
}

// AddUser puts a user on the allow-list. Duplicates yield ErrDuplicateUser.
func (s *Store) AddUser(ctx context.Context, userID int64, displayName string, addedBy int64) error {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = fmt.Sprintf("user %d", userID)
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO users_allowed(user_id, display_name, is_owner, added_by, added_at)
VALUES ($1, $2, FALSE, $3, NOW())
ON CONFLICT (user_id) DO NOTHING`,
		userID, displayName, addedBy)
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateUser
	}

	logger.SVCUsers.Info("user allowed",
		slog.String("event", "users.added"),
		slog.Int64("target_user_id", userID),
		slog.Int64("user_id", addedBy),
	)
	return nil
}

// RemoveUser deletes a user from the allow-list. The owner record is
// categorically protected regardless of how the identifier was obtained.
func (s *Store) RemoveUser(ctx context.Context, userID int64) error {
	if userID == s.ownerID {
		return ErrProtectedOwner
	}

	var isOwner bool
	err := s.db.GetContext(ctx, &isOwner,
		`SELECT is_owner FROM users_allowed WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	if isOwner {
		return ErrProtectedOwner
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM users_allowed WHERE user_id = $1 AND is_owner = FALSE`, userID); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}

	logger.SVCUsers.Info("user removed",
		slog.String("event", "users.removed"),
		slog.Int64("target_user_id", userID),
	)
	return nil
}

// ListUsers returns one page of non-owner users plus the total count of them.
// Pages are zero-based.
func (s *Store) ListUsers(ctx context.Context, page, pageSize int) ([]User, int, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	if page < 0 {
		page = 0
	}

	var total int
	if err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM users_allowed WHERE is_owner = FALSE`); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	var users []User
	err := s.db.SelectContext(ctx, &users, `
SELECT user_id, display_name, is_owner, added_by, added_at
FROM users_allowed
WHERE is_owner = FALSE
ORDER BY added_at, user_id
LIMIT $1 OFFSET $2`,
		pageSize, page*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// GetUser returns a single allow-list row.
func (s *Store) GetUser(ctx context.Context, userID int64) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, `
SELECT user_id, display_name, is_owner, added_by, added_at
FROM users_allowed WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrUnknownUser
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}
