package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Stats aggregates generation activity for the owner's overview.
type Stats struct {
	TotalUsers     int
	TotalAllTime   int
	TotalToday     int
	MostActiveID   int64
	MostActiveName string
	MostActiveRuns int
}

// UsageStats computes today/all-time totals and the most active user.
func (s *Store) UsageStats(ctx context.Context) (Stats, error) {
	var st Stats

	if err := s.db.GetContext(ctx, &st.TotalUsers,
		`SELECT COUNT(*) FROM users_allowed`); err != nil {
		return Stats{}, fmt.Errorf("stats users: %w", err)
	}
	if err := s.db.GetContext(ctx, &st.TotalAllTime,
		`SELECT COUNT(*) FROM generation_logs`); err != nil {
		return Stats{}, fmt.Errorf("stats all-time: %w", err)
	}
	// Bucket by UTC day explicitly so "today" matches the quota day even
	// when the Postgres server runs in another timezone.
	if err := s.db.GetContext(ctx, &st.TotalToday, `
SELECT COUNT(*) FROM generation_logs
WHERE (created_at AT TIME ZONE 'UTC')::date = $1::date`, s.today()); err != nil {
		return Stats{}, fmt.Errorf("stats today: %w", err)
	}

	var top struct {
		UserID int64  `db:"user_id"`
		Runs   int    `db:"runs"`
		Name   string `db:"display_name"`
	}
	err := s.db.GetContext(ctx, &top, `
SELECT g.user_id, COUNT(*) AS runs,
       COALESCE(u.display_name, 'user ' || g.user_id::text) AS display_name
FROM generation_logs g
LEFT JOIN users_allowed u ON u.user_id = g.user_id
GROUP BY g.user_id, u.display_name
ORDER BY runs DESC, g.user_id
LIMIT 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Stats{}, fmt.Errorf("stats top user: %w", err)
	}
	if err == nil {
		st.MostActiveID = top.UserID
		st.MostActiveName = top.Name
		st.MostActiveRuns = top.Runs
	}

	return st, nil
}
