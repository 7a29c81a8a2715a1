package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SinaHo/learning-platform-referrals/internal/cache"
	"github.com/SinaHo/learning-platform-referrals/internal/config"
	"github.com/SinaHo/learning-platform-referrals/internal/handler"
	"github.com/SinaHo/learning-platform-referrals/internal/metrics"
	"github.com/SinaHo/learning-platform-referrals/internal/referral"
	"github.com/SinaHo/learning-platform-referrals/internal/repository"
	"github.com/SinaHo/learning-platform-referrals/internal/service"

	_ "github.com/lib/pq"
)

type AppServer struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	rdb    *redis.Client
	HTTP   *http.Server
}

func NewAppServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AppServer, error) {
	sugar := logger.Sugar()
	app := &AppServer{cfg: cfg, logger: logger}

	var userRepo repository.UserRepository
	switch cfg.Database.Driver {
	case config.DriverMemory:
		sugar.Warn("using in-memory account store; data is lost on restart")
		userRepo = repository.NewMemoryRepository()
	default:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN())
		if err != nil {
			sugar.Errorf("failed to connect to postgres: %v", err)
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		app.db = db
		userRepo = repository.NewUserRepository(db)
	}

	// Referral link visits read through Redis when it is configured.
	var lookup referral.ReferrerLookup = userRepo
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			sugar.Errorf("failed to ping redis: %v", err)
			app.closeResources()
			rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.rdb = rdb
		lookup = cache.NewReferralCache(rdb, userRepo, cfg.Redis.CacheTTL, sugar)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Repository → Service → Handler
	tokens := referral.NewTokenCodec([]byte(cfg.Referral.TokenSecret))
	codes := referral.NewCodeGenerator(userRepo, cfg.Referral.MaxCodeAttempts, referral.WithGeneratorMetrics(m))
	attributor := referral.NewAttributor(codes, userRepo, tokens, m, sugar)
	resolver := referral.NewResolver(lookup, tokens, m, sugar)

	authSvc := service.NewAuthService(userRepo, attributor, cfg.Referral.MaxCodeAttempts,
		[]byte(cfg.JWT.SigningKey), cfg.JWT.TokenExpiry, sugar)
	referralSvc := service.NewReferralService(userRepo, resolver, cfg.Referral.BaseURL)

	cookies := handler.NewAttributionCookies(cfg.Server.Production)
	if cfg.Server.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(sugar, Routes{
		Auth:      handler.NewAuthHandler(authSvc, cookies, sugar),
		Referrals: handler.NewReferralHandler(referralSvc, cookies, cfg.Referral.SignupURL, cfg.Referral.HomeURL, sugar),
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret: cfg.JWT.SigningKey,
	})

	app.HTTP = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	sugar.Infof("AppServer initialized successfully")
	return app, nil
}

func (a *AppServer) Run() error {
	sugar := a.logger.Sugar()
	sugar.Infof("HTTP server listening on %s", a.HTTP.Addr)
	if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Errorf("listen error on %s: %v", a.HTTP.Addr, err)
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// GracefulStop drains in-flight requests until ctx expires, then closes the
// store connections.
func (a *AppServer) GracefulStop(ctx context.Context) error {
	sugar := a.logger.Sugar()
	sugar.Info("Shutting down HTTP server gracefully")
	err := a.HTTP.Shutdown(ctx)
	a.closeResources()
	sugar.Info("Resources closed, server stopped")
	return err
}

func (a *AppServer) closeResources() {
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
