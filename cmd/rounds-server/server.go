package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/rounds/internal/config"
	"github.com/ehr/rounds/internal/domain/rounds"
	"github.com/ehr/rounds/internal/platform/auth"
	"github.com/ehr/rounds/internal/platform/db"
	"github.com/ehr/rounds/internal/platform/events"
	"github.com/ehr/rounds/internal/platform/llm"
	"github.com/ehr/rounds/internal/platform/middleware"
)

// store bundles the selected patient repository with its health probe.
type store struct {
	driver string
	repo   rounds.PatientRepository
	pinger db.Pinger
	stats  func() *db.PoolStats
	close  func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &store{
			driver: config.DriverSQLite,
			repo:   rounds.NewPatientRepoSQLite(conn),
			pinger: db.PingFunc(conn.PingContext),
			close:  func() { conn.Close() },
		}, nil
	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &store{
			driver: config.DriverPostgres,
			repo:   rounds.NewPatientRepoPG(pool),
			pinger: pool,
			stats:  func() *db.PoolStats { return db.GetPoolStats(pool) },
			close:  pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

type eventPublisher interface {
	rounds.EventPublisher
	Close() error
}

func newEventPublisher(cfg *config.Config) eventPublisher {
	if !cfg.EventsEnabled() {
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newAuthMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.IsDev() {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: every request is authenticated as an admin")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Store
	st, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()
	logger.Info().Str("driver", st.driver).Msg("connected to store")

	// Events
	publisher := newEventPublisher(cfg)
	defer publisher.Close()
	if cfg.EventsEnabled() {
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing ward entries")
	}

	// Domain
	sessions := rounds.NewSessionManager(
		rounds.WithHistoryLimit(cfg.SessionHistoryLimit),
		rounds.WithSessionTTL(cfg.SessionTTL),
	)
	completer := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLMBaseURL,
		Model:       cfg.LLMModel,
		APIKey:      cfg.LLMAPIKey,
		Temperature: cfg.LLMTemperature,
		Timeout:     cfg.LLMTimeout,
	})
	svc := rounds.NewService(st.repo, sessions,
		rounds.WithCompleter(completer),
		rounds.WithPublisher(rounds.NewEntryPublisher(publisher)),
		rounds.WithLogger(logger.With().Str("component", "rounds").Logger()),
		rounds.WithDefaultWard(cfg.DefaultWard),
	)
	if cfg.SessionTTL > 0 {
		svc.StartSweeper(ctx, time.Minute)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(st.driver, st.pinger, st.stats))

	// API
	apiV1 := e.Group("/api/v1", newAuthMiddleware(cfg))
	rounds.NewHandler(svc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
