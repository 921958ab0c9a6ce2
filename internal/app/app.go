// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable voucher engine.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/course-voucher-engine/internal/cache"
	"github.com/xenking/course-voucher-engine/internal/catalog"
	"github.com/xenking/course-voucher-engine/internal/domain/assignment"
	"github.com/xenking/course-voucher-engine/internal/domain/auth"
	"github.com/xenking/course-voucher-engine/internal/domain/condition"
	"github.com/xenking/course-voucher-engine/internal/domain/redemption"
	"github.com/xenking/course-voucher-engine/internal/domain/vrange"
	"github.com/xenking/course-voucher-engine/internal/handler"
	"github.com/xenking/course-voucher-engine/internal/notify"
	"github.com/xenking/course-voucher-engine/internal/storage/postgres"
	"github.com/xenking/course-voucher-engine/pkg/health"
	"github.com/xenking/course-voucher-engine/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Redis: range cache + assignment mail queue.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		_ = rdb.Close()
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "redis ping")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	voucherRepo := postgres.NewVoucherRepository(pool)
	basketRepo := postgres.NewBasketRepository(pool)
	assignmentRepo := postgres.NewAssignmentRepository(pool)
	learnerRepo := postgres.NewLearnerRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Catalog resolution.
	discovery, err := catalog.NewClient(catalog.Config{
		BaseURL: cfg.Catalog.BaseURL,
		Timeout: cfg.Catalog.Timeout,
	})
	if err != nil {
		return errors.Wrap(err, "create catalog client")
	}
	resolver := vrange.NewResolver(discovery, cache.NewRangeCache(rdb), vrange.ResolverConfig{
		TTL:          cfg.Catalog.CacheTTL,
		PageSize:     cfg.Catalog.PageSize,
		RetryBackoff: cfg.Catalog.RetryBackoff,
	})

	// Domain services.
	evaluator := condition.NewEvaluator(resolver, cfg.Catalog.Partner)
	redeemer := redemption.NewService(voucherRepo, basketRepo, evaluator)
	mailQueue := notify.NewQueue(rdb)
	assignments := assignment.NewService(assignmentRepo, voucherRepo, mailQueue)

	// HTTP surface.
	h := handler.NewHandler(redeemer, assignments, voucherRepo, learnerRepo)
	sec := handler.NewSecurityHandler(apikeyRepo, cfg.APIKeyPepper)

	redeemLimit := httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: httpmiddleware.VoucherCodeKeyFunc(1 << 16),
	})

	mux := chi.NewRouter()
	mux.Get("/livez", healthSvc.LiveEndpoint)
	mux.Get("/readyz", healthSvc.ReadyEndpoint)
	mux.Route("/api", func(r chi.Router) {
		r.With(sec.Middleware(auth.ScopeRedeem), redeemLimit).Route("/vouchers", h.VoucherRoutes)
		r.With(sec.Middleware(auth.ScopeEnterprise)).Route("/assignments", h.AssignmentRoutes)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(mux, "voucher-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
