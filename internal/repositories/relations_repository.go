package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// RelationsRepository exposes the block relationships the core consults
// before delivering messages. The friend graph itself is maintained by an
// external service; this is a read-only view of its blocked_users table.
type RelationsRepository interface {
	AnyBlockBetween(ctx context.Context, userID int, otherIDs []int) (bool, error)
}

// RelationsRepo is a sqlx implementation of RelationsRepository.
type RelationsRepo struct {
	db *sqlx.DB
}

// NewRelationsRepo constructs a RelationsRepo.
func NewRelationsRepo(db *sqlx.DB) *RelationsRepo {
	return &RelationsRepo{db: db}
}

// AnyBlockBetween reports whether a block exists in either direction
// between the user and any of the listed users.
func (r *RelationsRepo) AnyBlockBetween(ctx context.Context, userID int, otherIDs []int) (bool, error) {
	if len(otherIDs) == 0 {
		return false, nil
	}
	var blocked bool
	err := r.db.GetContext(ctx, &blocked,
		`SELECT EXISTS(
            SELECT 1 FROM blocked_users
            WHERE (blocker_id=$1 AND blocked_id = ANY($2))
            OR (blocked_id=$1 AND blocker_id = ANY($2)))`,
		userID, pq.Array(otherIDs))
	return blocked, err
}
