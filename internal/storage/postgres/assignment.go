package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
)

var _ assignment.Repository = (*AssignmentRepository)(nil)

// AssignmentRepository implements assignment.Repository backed by PostgreSQL.
type AssignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository returns an AssignmentRepository that uses the
// given pool.
func NewAssignmentRepository(pool *pgxpool.Pool) *AssignmentRepository {
	return &AssignmentRepository{pool: pool}
}

// Get returns the assignment, or assignment.ErrNotFound.
func (r *AssignmentRepository) Get(ctx context.Context, id string) (*assignment.Assignment, error) {
	var a assignment.Assignment
	err := r.pool.QueryRow(ctx,
		`SELECT id, voucher_code, email, status, created_at, updated_at
		 FROM offer_assignments WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.VoucherCode, &a.Email, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, assignment.ErrNotFound
		}
		return nil, fmt.Errorf("finding assignment %q: %w", id, err)
	}
	return &a, nil
}

// CreateBatch inserts all assignments or none. The voucher row is locked for
// the duration of the transaction so concurrent batches serialize on the
// slot count.
func (r *AssignmentRepository) CreateBatch(ctx context.Context, code string, batch []assignment.Assignment, limit *int) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning assignment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM vouchers WHERE code = $1 FOR UPDATE`, code); err != nil {
		return fmt.Errorf("locking voucher %q: %w", code, err)
	}

	if limit != nil {
		var used int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM offer_assignments WHERE voucher_code = $1 AND status <> $2`,
			code, assignment.StatusCancelled,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("counting assignments for %q: %w", code, err)
		}
		if used+len(batch) > *limit {
			return &assignment.InsufficientSlotsError{
				Available: *limit - used,
				Requested: len(batch),
			}
		}
	}

	for _, a := range batch {
		_, err := tx.Exec(ctx,
			`INSERT INTO offer_assignments (id, voucher_code, email, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			a.ID, a.VoucherCode, a.Email, a.Status, a.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting assignment for %q: %w", a.Email, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing assignment tx: %w", err)
	}
	return nil
}

// UpdateStatus applies a legal transition, compare-and-swap on the current
// status so stale updates cannot clobber a concurrent change.
func (r *AssignmentRepository) UpdateStatus(ctx context.Context, id string, from, to assignment.Status) error {
	if !assignment.CanTransition(from, to) {
		return errors.Errorf("illegal assignment transition %s -> %s", from, to)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE offer_assignments SET status = $3, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to,
	)
	if err != nil {
		return fmt.Errorf("updating assignment %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return errors.Errorf("assignment %s not in status %s", id, from)
	}
	return nil
}
