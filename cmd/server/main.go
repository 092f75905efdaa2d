package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/batepapo/internal/api"
	"github.com/eldtechnologies/batepapo/internal/api/middleware"
	"github.com/eldtechnologies/batepapo/internal/chat"
	"github.com/eldtechnologies/batepapo/internal/clock"
	"github.com/eldtechnologies/batepapo/internal/config"
	"github.com/eldtechnologies/batepapo/internal/handlers"
	"github.com/eldtechnologies/batepapo/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ds.Close()

	var redisClient *redis.Client
	var limiter *middleware.RateLimiter
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		limiter = middleware.NewRateLimiter(redisClient, logger, middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		})
		logger.Info().Msg("connected to Redis, rate limiting enabled")
	} else {
		logger.Warn().Msg("REDIS_URL not set, rate limiting disabled")
	}

	clk := clock.System()
	registry := chat.NewRegistry(ds, clk, logger)
	messages := chat.NewMessages(ds, clk, logger)
	sweeper := chat.NewSweeper(registry, clk, logger, chat.SweeperConfig{
		Interval:   cfg.SweepInterval,
		StaleAfter: cfg.StaleAfter,
	})

	h := handlers.NewHandler(registry, messages, ds, redisClient)
	router := api.NewRouter(logger, h, api.Options{
		MaxBodyBytes: cfg.MaxBodyBytes,
		Limiter:      limiter,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.StoreDriver).
			Msg("starting batepapo server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store.DataStore, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		logger.Info().Msg("running database migrations...")
		if err := pg.RunMigrations(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("migration failed: %w", err)
		}
		logger.Info().Msg("connected to PostgreSQL")
		return pg, nil

	case config.DriverSQLite:
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite open failed: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite database")
		return s, nil

	case config.DriverBadger:
		s, err := store.NewBadgerStore(cfg.BadgerPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", cfg.BadgerPath).Msg("opened Badger database")
		return s, nil

	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), nil
	}
}
