package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/catalog"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/difficulty"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/platform/cache"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/platform/config"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/platform/database"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/quest"
	"github.com/FA25SE050-RogueLearn/RogueLearn.User-sub002/internal/reward"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	svc, cleanup, err := buildServices(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to start services", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newMux(svc),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// backend is the persistence surface the engine needs from one store.
type backend interface {
	quest.Catalog
	quest.AttemptStore
	quest.ProfileSource
	quest.GradeSource
	quest.AnalysisSource
}

// buildServices connects the configured backends and wires the engine.
// The returned cleanup closes every opened connection.
func buildServices(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*services, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	var seed *quest.Seed
	if cfg.Store.CatalogPath != "" {
		loader, err := catalog.NewLoader(cfg.Store.CatalogPath)
		if err != nil {
			return fail(err)
		}
		seed = loader.Seed()
	}

	checks := map[string]func(context.Context) error{}

	var locker quest.Locker = quest.NewMemoryLocker()
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cache.Options{URL: cfg.Cache.URL, LockTTL: cfg.Cache.LockTTL})
		if err != nil {
			return fail(fmt.Errorf("connecting cache: %w", err))
		}
		closers = append(closers, func() { _ = c.Close() })
		locker = c.Locker()
		checks["cache"] = c.HealthCheck
	}

	var (
		store      backend
		dispatcher reward.Dispatcher
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		mem := quest.NewMemoryStore()
		mem.ApplySeed(seed)
		store = mem
		dispatcher = reward.NopDispatcher{}
		slog.Warn("using in-memory store; state is lost on restart")

	default:
		db, err := database.New(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("connecting database: %w", err))
		}
		closers = append(closers, db.Close)
		checks["database"] = db.HealthCheck

		pg, err := quest.NewPostgresStore(db.Pool)
		if err != nil {
			return fail(err)
		}
		if cfg.Database.AutoMigrate {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fail(err)
			}
		}
		if seed != nil {
			if err := pg.ApplySeed(ctx, seed); err != nil {
				return fail(err)
			}
		}
		store = pg
		dispatcher = reward.NewPostgresDispatcher(db.Pool)
	}

	thresholds := difficulty.Thresholds{
		HighGrade:      cfg.Difficulty.HighGrade,
		MidGrade:       cfg.Difficulty.MidGrade,
		LowProficiency: cfg.Difficulty.LowProficiency,
	}
	svc, err := newServices(store, locker, dispatcher, thresholds, cfg.Engine.GenerateConcurrency, logger)
	if err != nil {
		return fail(err)
	}
	svc.checks = checks
	return svc, cleanup, nil
}
