package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-voucher-engine/internal/domain/basket"
)

var _ basket.Repository = (*BasketRepository)(nil)

// BasketRepository implements basket.Repository backed by PostgreSQL. Basket
// lines live in a JSONB column; the voucher engine reads them but only ever
// mutates the voucher attachment and checkout totals.
type BasketRepository struct {
	pool *pgxpool.Pool
}

// NewBasketRepository returns a BasketRepository that uses the given pool.
func NewBasketRepository(pool *pgxpool.Pool) *BasketRepository {
	return &BasketRepository{pool: pool}
}

// Get returns the basket, or basket.ErrNotFound.
func (r *BasketRepository) Get(ctx context.Context, id string) (*basket.Basket, error) {
	var (
		b     basket.Basket
		lines []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, lines, voucher_code, status FROM baskets WHERE id = $1`,
		id,
	).Scan(&b.ID, &b.UserID, &lines, &b.VoucherCode, &b.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, basket.ErrNotFound
		}
		return nil, fmt.Errorf("finding basket %q: %w", id, err)
	}
	if err := json.Unmarshal(lines, &b.Lines); err != nil {
		return nil, fmt.Errorf("decoding basket lines for %q: %w", id, err)
	}
	return &b, nil
}

// AttachVoucher sets the basket's voucher code, replacing any previous one.
func (r *BasketRepository) AttachVoucher(ctx context.Context, basketID, code string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE baskets SET voucher_code = $2, updated_at = now() WHERE id = $1`,
		basketID, code,
	)
	if err != nil {
		return fmt.Errorf("attaching voucher to basket %q: %w", basketID, err)
	}
	if tag.RowsAffected() == 0 {
		return basket.ErrNotFound
	}
	return nil
}
