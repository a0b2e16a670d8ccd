// Package app wires configuration, storage, domain services, and the HTTP
// server into a runnable unit.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/promoforge/coupon-engine/internal/domain/coupon"
	"github.com/promoforge/coupon-engine/internal/handler"
	"github.com/promoforge/coupon-engine/internal/storage/bloomcache"
	"github.com/promoforge/coupon-engine/internal/storage/postgres"
	"github.com/promoforge/coupon-engine/pkg/health"
	"github.com/promoforge/coupon-engine/pkg/httpmiddleware"
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

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	// Repositories. The bloom cache sits in front of the coupon repository
	// to short-circuit lookups of codes that were never issued.
	pgCoupons := postgres.NewCouponRepository(pool)
	var couponRepo coupon.Repository = pgCoupons
	if cfg.BloomCache.Enabled {
		cache := bloomcache.New(couponRepo, cfg.BloomCache.ExpectedCodes, cfg.BloomCache.FalsePositive)
		if err := cache.Warm(ctx); err != nil {
			return errors.Wrap(err, "warm bloom cache")
		}
		// Codes ingested by other processes only exist in storage, so the
		// filter is rebuilt on an interval to pick them up.
		if cfg.BloomCache.RewarmEvery > 0 {
			cache.KeepWarm(ctx, cfg.BloomCache.RewarmEvery)
		}
		couponRepo = cache
	}
	historyRepo := postgres.NewCustomerHistoryRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain service.
	engine := coupon.NewService(couponRepo, pgCoupons, historyRepo)

	// HTTP handlers.
	h := handler.New(engine, couponRepo)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Instrument runs inside otelhttp so the trace context it reports from
	// is the one otelhttp started.
	api := otelhttp.NewHandler(
		httpmiddleware.Wrap(h.Routes(securityHandler.RequireAPIKey),
			httpmiddleware.Instrument("coupon-api", m.MeterProvider()),
		),
		"coupon-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "X-API-Key"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.SetReady(true)

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
