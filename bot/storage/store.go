package storage

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

var (
	// ErrDuplicateUser is returned when adding an already-allowed user.
	ErrDuplicateUser = errors.New("storage: user already allowed")
	// ErrUnknownUser is returned when removing a user that is not allowed.
	ErrUnknownUser = errors.New("storage: user not found")
	// ErrProtectedOwner is returned on attempts to remove the owner record.
	ErrProtectedOwner = errors.New("storage: owner cannot be removed")
)

// User is one row of the allow-list.
type User struct {
	ID          int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	IsOwner     bool      `db:"is_owner"`
	AddedBy     int64     `db:"added_by"`
	AddedAt     time.Time `db:"added_at"`
}

// Quota describes the outcome of a generation allowance check.
type Quota struct {
	Allowed bool
	IsOwner bool
	Used    int
	Limit   int
}

// Store implements the authorization and quota contract over Postgres.
type Store struct {
	db         *sqlx.DB
	ownerID    int64
	dailyLimit int
	now        func() time.Time
}

// New builds a Store. The daily limit applies to non-owner users only.
func New(db *sqlx.DB, ownerID int64, dailyLimit int) *Store {
	if dailyLimit <= 0 {
		dailyLimit = 1
	}
	return &Store{
		db:         db,
		ownerID:    ownerID,
		dailyLimit: dailyLimit,
		now:        time.Now,
	}
}

func (s *Store) today() string {
	return s.now().UTC().Format("2006-01-02")
}
