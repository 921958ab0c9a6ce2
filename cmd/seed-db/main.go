// seed-db loads a demo catalogue of offers, vouchers, learners, baskets, and
// API keys. It exists for local development and the integration test
// environment.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-voucher-engine/internal/domain/auth"
	"github.com/xenking/course-voucher-engine/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		enterprise   string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "storefront API key to seed (or VOUCHER_SEED_API_KEY env)")
	flag.StringVar(&enterprise, "enterprise-api-key", "", "enterprise API key to seed")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VOUCHER_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("VOUCHER_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or VOUCHER_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("VOUCHER_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, enterprise, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, enterpriseKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedVouchers(ctx, pool); err != nil {
		return errors.Wrap(err, "seed vouchers")
	}
	if err := seedLearners(ctx, pool); err != nil {
		return errors.Wrap(err, "seed learners")
	}
	if err := seedAPIKeys(ctx, pool, apiKey, enterpriseKey, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

func seedVouchers(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo offers and vouchers")

	var rangeID int64
	err := pool.QueryRow(ctx, `INSERT INTO ranges DEFAULT VALUES RETURNING id`).Scan(&rangeID)
	if err != nil {
		return errors.Wrap(err, "insert range")
	}

	for _, productID := range []string{"course-v1:DemoX+CS101+2026", "course-v1:DemoX+CS102+2026"} {
		_, err := pool.Exec(ctx,
			`INSERT INTO range_products (range_id, product_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			rangeID, productID,
		)
		if err != nil {
			return errors.Wrapf(err, "insert range product %s", productID)
		}
	}

	var offerID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO offers (condition_type, condition_value, range_id, benefit_type, benefit_value)
		 VALUES ('Count', 1, $1, 'percentage', 25)
		 RETURNING id`,
		rangeID,
	).Scan(&offerID)
	if err != nil {
		return errors.Wrap(err, "insert offer")
	}

	// Assignable pool: same range, capped at 50 assignments.
	var corpOfferID int64
	err = pool.QueryRow(ctx,
		`INSERT INTO offers (condition_type, condition_value, range_id, benefit_type, benefit_value, max_global_applications)
		 VALUES ('Count', 1, $1, 'percentage', 25, 50)
		 RETURNING id`,
		rangeID,
	).Scan(&corpOfferID)
	if err != nil {
		return errors.Wrap(err, "insert corp offer")
	}

	now := time.Now().UTC()
	vouchers := []struct {
		code      string
		usageType string
		offerID   int64
	}{
		{"DEMO25", "MULTI_USE", offerID},
		{"WELCOME25", "ONCE_PER_CUSTOMER", offerID},
		{"GOLDEN25", "SINGLE_USE", offerID},
		{"CORP25", "MULTI_USE_PER_CUSTOMER", corpOfferID},
	}
	for _, v := range vouchers {
		_, err := pool.Exec(ctx,
			`INSERT INTO vouchers (code, usage_type, start_datetime, end_datetime, offer_id)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (code) DO NOTHING`,
			v.code, v.usageType, now.AddDate(0, 0, -1), now.AddDate(1, 0, 0), v.offerID,
		)
		if err != nil {
			return errors.Wrapf(err, "insert voucher %s", v.code)
		}
		slog.Info("seeded voucher", slog.String("code", v.code), slog.String("usage_type", v.usageType))
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO baskets (id, user_id, lines)
		 VALUES ('demo-basket', 'learner-1',
		         '[{"product_id":"course-v1:DemoX+CS101+2026","kind":"seat","price":"100.00","quantity":1}]')
		 ON CONFLICT (id) DO NOTHING`,
	)
	if err != nil {
		return errors.Wrap(err, "insert demo basket")
	}

	return nil
}

func seedLearners(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info("seeding demo learners")

	learners := [][2]string{
		{"learner-1", "demo@example.com"},
		{"learner-2", "second@example.com"},
	}
	for _, l := range learners {
		_, err := pool.Exec(ctx,
			`INSERT INTO learners (id, email) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
			l[0], l[1],
		)
		if err != nil {
			return errors.Wrapf(err, "insert learner %s", l[0])
		}
	}

	return nil
}

func seedAPIKeys(ctx context.Context, pool *pgxpool.Pool, apiKey, enterpriseKey, pepper string) error {
	slog.Info("seeding API keys")

	upsert := func(key, name string, scopes []string) error {
		_, err := pool.Exec(ctx,
			`INSERT INTO api_keys (key_hash, name, scopes, active)
			 VALUES ($1, $2, $3, true)
			 ON CONFLICT (key_hash) DO UPDATE SET name = $2, scopes = $3, active = true`,
			auth.HashKey(pepper, key), name, scopes,
		)
		return err
	}

	if err := upsert(apiKey, "Storefront test key", []string{auth.ScopeRedeem}); err != nil {
		return errors.Wrap(err, "upsert storefront key")
	}
	if enterpriseKey != "" {
		if err := upsert(enterpriseKey, "Enterprise test key", []string{auth.ScopeRedeem, auth.ScopeEnterprise}); err != nil {
			return errors.Wrap(err, "upsert enterprise key")
		}
	}

	return nil
}
