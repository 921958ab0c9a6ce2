package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-voucher-engine/internal/domain/learner"
)

var _ learner.Directory = (*LearnerRepository)(nil)

// LearnerRepository implements learner.Directory backed by PostgreSQL.
type LearnerRepository struct {
	pool *pgxpool.Pool
}

// NewLearnerRepository returns a LearnerRepository that uses the given pool.
func NewLearnerRepository(pool *pgxpool.Pool) *LearnerRepository {
	return &LearnerRepository{pool: pool}
}

// ByEmail looks up a learner by email, or returns learner.ErrNotFound.
func (r *LearnerRepository) ByEmail(ctx context.Context, email string) (*learner.Learner, error) {
	var l learner.Learner
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, enterprise_id FROM learners WHERE email = $1`,
		email,
	).Scan(&l.ID, &l.Email, &l.EnterpriseID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, learner.ErrNotFound
		}
		return nil, fmt.Errorf("finding learner by email: %w", err)
	}
	return &l, nil
}
