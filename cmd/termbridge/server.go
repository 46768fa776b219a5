package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/swasthyasetu/termbridge/internal/config"
	"github.com/swasthyasetu/termbridge/internal/domain/curation"
	"github.com/swasthyasetu/termbridge/internal/domain/encounter"
	"github.com/swasthyasetu/termbridge/internal/domain/matcher"
	"github.com/swasthyasetu/termbridge/internal/domain/terminology"
	"github.com/swasthyasetu/termbridge/internal/platform/auth"
	"github.com/swasthyasetu/termbridge/internal/platform/cache"
	"github.com/swasthyasetu/termbridge/internal/platform/db"
	"github.com/swasthyasetu/termbridge/internal/platform/events"
	"github.com/swasthyasetu/termbridge/internal/platform/logging"
	"github.com/swasthyasetu/termbridge/internal/platform/middleware"
)

const version = "0.1.0"

// storage bundles the backends a process talks to.
type storage struct {
	log           zerolog.Logger
	pool          *pgxpool.Pool
	codes         terminology.Store
	contributions curation.ContributionStore
	encounters    encounter.Repository
	cache         cache.SearchCache
	publisher     events.Publisher
	closers       []func(context.Context) error
}

func openStorage(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storage, error) {
	st := &storage{log: logger, cache: cache.Noop{}}

	switch cfg.Storage {
	case config.StoragePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		st.closers = append(st.closers, func(context.Context) error { pool.Close(); return nil })
		logger.Info().Msg("connected to database")

		count, err := db.NewMigrator(pool, db.Migrations(), logger).Up(ctx)
		if err != nil {
			st.close(ctx)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		if count > 0 {
			logger.Info().Int("applied", count).Msg("database migrations applied")
		}

		st.pool = pool
		st.codes = terminology.NewPGStore(pool)
		st.contributions = curation.NewPGContributions(pool)
		st.encounters = encounter.NewRepo(pool)
	default:
		st.codes = terminology.NewMemoryStore()
		st.contributions = curation.NewMemoryContributions()
		st.encounters = encounter.NewMemoryRepo()
		logger.Warn().Msg("using in-memory storage; data is lost on exit")
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			st.close(ctx)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		st.closers = append(st.closers, func(context.Context) error { return client.Close() })
		st.cache = cache.NewRedis(client, "termbridge:search", cfg.SearchCacheTTL)
		logger.Info().Dur("ttl", cfg.SearchCacheTTL).Msg("search cache enabled")
	}

	if cfg.AMQPURL != "" {
		pub := events.NewAMQPPublisher(events.DialURL(cfg.AMQPURL), events.DefaultAMQPConfig(cfg.EventsExchange), logger)
		st.closers = append(st.closers, pub.Close)
		st.publisher = pub
		logger.Info().Str("exchange", cfg.EventsExchange).Msg("publishing events to AMQP")
	} else {
		st.publisher = events.NewLogPublisher(logger)
	}

	return st, nil
}

// close releases backends in reverse order of opening.
func (st *storage) close(ctx context.Context) {
	for i := len(st.closers) - 1; i >= 0; i-- {
		if err := st.closers[i](ctx); err != nil {
			st.log.Error().Err(err).Msg("shutdown")
		}
	}
	st.closers = nil
}

// newServer wires the services and routes onto a fresh echo instance.
func newServer(cfg *config.Config, st *storage, logger zerolog.Logger) (*echo.Echo, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	termSvc := terminology.NewService(st.codes, st.cache, st.publisher, logger)
	match := matcher.New(st.codes, cfg.MappingVersion)
	curSvc := curation.NewService(st.codes, st.contributions, match, st.publisher, logger, curation.Config{
		Version:    cfg.MappingVersion,
		MaxRetries: cfg.CurationMaxRetries,
	})
	encSvc := encounter.NewService(st.codes, st.encounters, st.publisher, logger, loc, cfg.MappingVersion)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-User-ID"},
	}))

	// Health checks stay outside auth.
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if st.pool != nil {
		e.GET("/health/db", db.HealthHandler(st.pool))
	}

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// API groups
	apiV1 := e.Group("/api/v1", authMW, middleware.RateLimit(rateLimitCfg))
	fhirGroup := e.Group("/fhir", authMW, middleware.RateLimit(rateLimitCfg))

	terminology.NewHandler(termSvc).RegisterRoutes(apiV1, fhirGroup)
	matcher.NewHandler(match, curSvc).RegisterRoutes(apiV1)
	curation.NewHandler(curSvc).RegisterRoutes(apiV1)
	encounter.NewHandler(encSvc).RegisterRoutes(apiV1)

	return e, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Env, cfg.LogFormat)

	ctx := context.Background()
	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open storage")
		return err
	}
	defer st.close(context.Background())

	if cfg.SeedDemoCatalog {
		seeded, n, err := seedDemo(ctx, st)
		if err != nil {
			return err
		}
		logger.Info().Bool("catalog", seeded).Int("contributions", n).Msg("demo data checked")
	}

	e, err := newServer(cfg, st, logger)
	if err != nil {
		return err
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("storage", cfg.Storage).Msg("starting termbridge")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	st.close(shutdownCtx)
	return nil
}
