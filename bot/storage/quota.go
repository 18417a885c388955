package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/karwa/bannerbot/core/logger"
	"log/slog"
)

type usageRow struct {
	LastDate string `db:"last_generation_date"`
	Count    int    `db:"generations_count"`
}

// RolledOverCount applies lazy rollover to a stored counter: the count only
// stands while its date matches today, otherwise it reads as zero.
func RolledOverCount(lastDate string, count int, today string) int {
	if lastDate != today {
		return 0
	}
	return count
}

// CanUserGenerate checks the per-day allowance. The owner is always allowed.
// The stored counter rolls over lazily: a row from a previous date counts as
// zero without being rewritten.
func (s *Store) CanUserGenerate(ctx context.Context, userID int64) (Quota, error) {
	if userID == s.ownerID {
		return Quota{Allowed: true, IsOwner: true, Limit: s.dailyLimit}, nil
	}

	var row usageRow
	err := s.db.GetContext(ctx, &row, `
SELECT to_char(last_generation_date, 'YYYY-MM-DD') AS last_generation_date, generations_count
FROM daily_usage WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return Quota{Allowed: true, Limit: s.dailyLimit}, nil
	}
	if err != nil {
		return Quota{}, fmt.Errorf("read usage: %w", err)
	}

	used := RolledOverCount(row.LastDate, row.Count, s.today())
	return Quota{
		Allowed: used < s.dailyLimit,
		Used:    used,
		Limit:   s.dailyLimit,
	}, nil
}

// RecordGeneration appends an audit entry and bumps today's counter for
// non-owner users, creating or rolling over the usage row as needed.
func (s *Store) RecordGeneration(ctx context.Context, userID int64, workflow, outputType, prompt string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record generation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO generation_logs(user_id, workflow, output_type, prompt, created_at)
VALUES ($1, $2, $3, $4, NOW())`,
		userID, workflow, outputType, prompt); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	if userID != s.ownerID {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO daily_usage(user_id, last_generation_date, generations_count)
VALUES ($1, $2::date, 1)
ON CONFLICT (user_id) DO UPDATE SET
  generations_count = CASE
    WHEN daily_usage.last_generation_date = EXCLUDED.last_generation_date
    THEN daily_usage.generations_count + 1
    ELSE 1
  END,
  last_generation_date = EXCLUDED.last_generation_date`,
			userID, s.today()); err != nil {
			return fmt.Errorf("bump usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record generation: %w", err)
	}

	logger.SVCQuota.Info("generation recorded",
		slog.String("event", "quota.recorded"),
		slog.Int64("user_id", userID),
		slog.String("workflow", workflow),
	)
	return nil
}
