package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"charstudio/internal/auth"
	"charstudio/internal/config"
	"charstudio/internal/credits"
	"charstudio/internal/metrics"
	"charstudio/internal/middleware"
	"charstudio/internal/ratelimit"
	"charstudio/internal/storage"
	"charstudio/internal/utils"
)

// Dependencies aggregates the services the HTTP layer needs and owns their
// shutdown.
type Dependencies struct {
	DB      *storage.DB
	Redis   *redis.Client
	Credits credits.Service
	Gate    *middleware.CreditGate
	Metrics *metrics.Metrics
	Logger  *utils.Logger
}

// Close releases everything the router opened.
func (d *Dependencies) Close() error {
	var firstErr error
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewRouter creates an HTTP router with all dependencies wired up
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("charstudio")

	db, err := storage.NewDB(storage.DBConfig{
		DSN:                 cfg.Database.URL,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Database.ConnMaxIdleTime,
		CostConfigCacheSize: cfg.Cache.CostConfigCacheSize,
		CostConfigCacheTTL:  cfg.Cache.CostConfigCacheTTL,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	resetLoc, err := time.LoadLocation(cfg.Credits.ResetTimezone)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("invalid reset timezone %q: %w", cfg.Credits.ResetTimezone, err)
	}

	creditService := credits.NewLedgerService(db, credits.LedgerOptions{
		DailyAllowance:      cfg.Credits.DailyAllowance,
		ResetLocation:       resetLoc,
		HistoryDefaultLimit: cfg.Credits.HistoryDefaultLimit,
		HistoryMaxLimit:     cfg.Credits.HistoryMaxLimit,
	}, utils.NewLogger("credits"))

	// Redis is optional; without it billable routes are not rate limited.
	var redisClient *redis.Client
	var limiter ratelimit.Limiter = ratelimit.NewNoopLimiter()
	if cfg.Redis.Address != "" {
		redisClient, err = storage.NewRedisClient(storage.RedisConfig{
			Address:      cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		limiter = ratelimit.NewRateLimiter(redisClient, cfg.RateLimit.RequestsPerMinute, time.Minute)
	}

	m := metrics.New()
	gate := middleware.NewCreditGate(creditService, limiter, m, utils.NewLogger("creditgate"))

	deps := &Dependencies{
		DB:      db,
		Redis:   redisClient,
		Credits: creditService,
		Gate:    gate,
		Metrics: m,
		Logger:  logger,
	}

	creditsHandler := NewCreditsHandler(creditService)
	adminHandler := NewAdminCreditsHandler(creditService, m)

	adminJWT := middleware.AdminJWT(cfg.AdminJWTSecret, auth.RoleAdmin)
	viewerJWT := middleware.AdminJWT(cfg.AdminJWTSecret, auth.RoleViewer)

	mux := http.NewServeMux()

	// User-facing credit endpoints. Identity comes from the upstream auth
	// layer via the X-User-ID header.
	mux.Handle("/api/credits", middleware.RequireUser(http.HandlerFunc(creditsHandler.GetBalance)))
	mux.Handle("/api/credits/history", middleware.RequireUser(http.HandlerFunc(creditsHandler.GetHistory)))

	// Credit administration.
	mux.Handle("/admin/credits/grant", adminJWT(http.HandlerFunc(adminHandler.Grant)))
	mux.Handle("/admin/credits/refund", adminJWT(http.HandlerFunc(adminHandler.Refund)))
	mux.Handle("/admin/credits/configs", viewerJWT(http.HandlerFunc(adminHandler.Configs)))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Health(r.Context()); err != nil {
			utils.RespondWithError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("/metrics", m.Handler())

	return mux, deps, nil
}
