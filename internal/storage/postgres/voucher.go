package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
	"github.com/xenking/course-voucher-engine/internal/domain/voucher"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
)

var _ voucher.Repository = (*VoucherRepository)(nil)

// VoucherRepository implements voucher.Repository backed by PostgreSQL. Its
// Redeem method is the engine's single write path for the usage ledger.
type VoucherRepository struct {
	pool *pgxpool.Pool
}

// NewVoucherRepository returns a VoucherRepository that uses the given pool.
func NewVoucherRepository(pool *pgxpool.Pool) *VoucherRepository {
	return &VoucherRepository{pool: pool}
}

const findVoucherQuery = `
SELECT v.code, v.usage_type, v.start_datetime, v.end_datetime,
       v.max_global_uses, v.email_domains, v.enterprise_id,
       o.id, o.condition_type, o.condition_value,
       o.benefit_type, o.benefit_value,
       o.max_user_discount, o.max_user_applications, o.max_global_applications,
       r.id, r.catalog_query, r.catalog_id,
       COALESCE(
           (SELECT array_agg(rp.product_id) FROM range_products rp WHERE rp.range_id = r.id),
           '{}'
       )
FROM vouchers v
JOIN offers o ON o.id = v.offer_id
JOIN ranges r ON r.id = o.range_id
WHERE v.code = $1`

// FindByCode looks up a voucher with its offer, condition, benefit, and
// range by exact, case-sensitive code match.
// Returns voucher.ErrCodeNotFound when no such code exists.
func (r *VoucherRepository) FindByCode(ctx context.Context, code string) (*voucher.Voucher, *voucher.Offer, error) {
	return r.findByCode(ctx, r.pool, code, "")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *VoucherRepository) findByCode(ctx context.Context, q querier, code, lock string) (*voucher.Voucher, *voucher.Offer, error) {
	var (
		v        voucher.Voucher
		o        voucher.Offer
		rng      vrange.Range
		products []string
	)
	err := q.QueryRow(ctx, findVoucherQuery+lock, code).Scan(
		&v.Code, &v.UsageType, &v.StartDatetime, &v.EndDatetime,
		&v.MaxGlobalUses, &v.EmailDomains, &v.EnterpriseID,
		&o.ID, &o.Condition.Type, &o.Condition.Value,
		&o.Benefit.Type, &o.Benefit.Value,
		&o.MaxUserDiscount, &o.MaxUserApplications, &o.MaxGlobalApplications,
		&rng.ID, &rng.CatalogQuery, &rng.CatalogID, &products,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, voucher.ErrCodeNotFound
		}
		return nil, nil, fmt.Errorf("finding voucher by code %q: %w", code, err)
	}
	v.OfferID = o.ID
	if len(products) > 0 {
		rng.Products = make(map[string]struct{}, len(products))
		for _, id := range products {
			rng.Products[id] = struct{}{}
		}
	}
	o.Condition.Range = &rng
	return &v, &o, nil
}

const usageQuery = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE user_id = $2),
       COALESCE(SUM(discount) FILTER (WHERE user_id = $2), 0)
FROM voucher_applications
WHERE voucher_code = $1`

// Usage summarizes the ledger for the voucher from the given user's view.
func (r *VoucherRepository) Usage(ctx context.Context, code, userID string) (voucher.Usage, error) {
	return r.usage(ctx, r.pool, code, userID)
}

func (r *VoucherRepository) usage(ctx context.Context, q querier, code, userID string) (voucher.Usage, error) {
	var u voucher.Usage
	err := q.QueryRow(ctx, usageQuery, code, userID).Scan(&u.Total, &u.ByUser, &u.UserDiscountTotal)
	if err != nil {
		return voucher.Usage{}, fmt.Errorf("reading usage for %q: %w", code, err)
	}
	return u, nil
}

// Redeem records one redemption atomically. Inside a single transaction it
// locks the voucher row, detects basket replays, recounts the ledger, and
// re-checks capacity before inserting the application and finalizing the
// basket. Two concurrent attempts on the last remaining use serialize on the
// row lock; the loser sees the winner's ledger entry and fails with
// voucher.ErrCodeExhausted.
func (r *VoucherRepository) Redeem(ctx context.Context, req voucher.RedeemRequest) (*voucher.Application, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning redeem tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	v, o, err := r.findByCode(ctx, tx, req.Voucher.Code, " FOR UPDATE OF v")
	if err != nil {
		return nil, err
	}

	var replayed bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM voucher_applications WHERE voucher_code = $1 AND order_id = $2)`,
		v.Code, req.BasketID,
	).Scan(&replayed)
	if err != nil {
		return nil, fmt.Errorf("checking basket replay: %w", err)
	}
	if replayed {
		return nil, voucher.ErrAlreadyRedeemedForBasket
	}

	usage, err := r.usage(ctx, tx, v.Code, req.UserID)
	if err != nil {
		return nil, err
	}
	if err := voucher.CheckCapacity(v, o, usage); err != nil {
		return nil, err
	}

	app := voucher.Application{
		VoucherCode: v.Code,
		UserID:      req.UserID,
		OrderID:     req.BasketID,
		Discount:    req.Discount,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO voucher_applications (voucher_code, user_id, order_id, discount)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		app.VoucherCode, app.UserID, app.OrderID, app.Discount,
	).Scan(&app.ID, &app.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "voucher_applications_order_unique" {
			return nil, voucher.ErrAlreadyRedeemedForBasket
		}
		return nil, fmt.Errorf("inserting application: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE baskets
		 SET voucher_code = $2, discount = $3, total = $4, status = 'submitted', updated_at = now()
		 WHERE id = $1`,
		req.BasketID, v.Code, req.Discount, req.Total,
	)
	if err != nil {
		return nil, fmt.Errorf("finalizing basket %q: %w", req.BasketID, err)
	}

	// Mark the recipient's assignment as consumed, if one exists.
	_, err = tx.Exec(ctx,
		`UPDATE offer_assignments
		 SET status = $3, updated_at = now()
		 WHERE voucher_code = $1 AND email = $2 AND status IN ($4, $5)`,
		v.Code, req.Email,
		assignment.StatusRedeemed, assignment.StatusAssigned, assignment.StatusEmailPending,
	)
	if err != nil {
		return nil, fmt.Errorf("marking assignment redeemed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing redeem tx: %w", err)
	}
	return &app, nil
}
