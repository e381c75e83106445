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

	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/events"
	apphttp "github.com/bhoerrsag/gubagoo-segment-mapper/internal/http"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/http/router"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/leads"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/mapping"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/scheduler"
	"github.com/bhoerrsag/gubagoo-segment-mapper/internal/segment"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/config"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/db"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/logger"
	"github.com/bhoerrsag/gubagoo-segment-mapper/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, "migrations")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// Segment forwarder; degrades to a no-op when no write key is configured
	forwarder := segment.NewForwarder(cfg)
	if !cfg.IsSegmentEnabled() {
		log.Warn("SEGMENT_WRITE_KEY not configured; events will not be forwarded")
	}

	retryScheduler, closeScheduler := initForwardScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	mappingModule := mapping.NewModule(pool, eventBus, val, log)
	leadsModule := leads.NewModule(pool, mappingModule.Service(), forwarder, retryScheduler, eventBus, val, log)
	leadsModule.RegisterHandlers(eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Env:    cfg.Env,
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			mappingModule,
			leadsModule,
		},
	}

	engine := router.New(app)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Retry worker shares the process; it drains forwarding retries enqueued
	// by the write path.
	if cfg.GetRedisURL() != "" {
		worker, err := scheduler.NewWorker(cfg, leadsModule.Service(), log)
		if err != nil {
			log.Error("failed to initialize retry worker", "error", err)
			panic("failed to initialize retry worker: " + err.Error())
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		panic("server error: " + err.Error())
	}
	log.Info("shutdown complete")
}

func initForwardScheduler(cfg config.SchedulerConfig, log *logger.Logger) (leads.ForwardScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; forwarding retries disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize retry scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
