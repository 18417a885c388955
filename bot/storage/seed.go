package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/karwa/bannerbot/core/bootstrap"
	"github.com/karwa/bannerbot/core/logger"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// OwnerSeeder ensures the owner record exists on startup. The owner row is
// the only one with is_owner set and is never removable at runtime.
func OwnerSeeder(ownerID int64, ownerUsername string) bootstrap.Seeder {
	return bootstrap.SeederFunc(func(ctx context.Context, db *sqlx.DB) error {
		if ownerID == 0 {
			return fmt.Errorf("seed owner: owner id is not configured")
		}
		name := strings.TrimSpace(ownerUsername)
		if name == "" {
			name = fmt.Sprintf("owner %d", ownerID)
		}

		res, err := db.ExecContext(ctx, `
INSERT INTO users_allowed(user_id, display_name, is_owner, added_by, added_at)
VALUES ($1, $2, TRUE, $1, NOW())
ON CONFLICT (user_id) DO UPDATE SET is_owner = TRUE`,
			ownerID, name)
		if err != nil {
			return fmt.Errorf("seed owner: %w", err)
		}

		if affected, err := res.RowsAffected(); err == nil && affected > 0 {
			logger.SEED.Info("owner seeded",
				slog.String("event", "seed.owner"),
				slog.Int64("user_id", ownerID),
			)
		}
		return nil
	})
}
