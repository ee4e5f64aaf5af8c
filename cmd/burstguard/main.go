package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaytext/burstguard/internal/app/migrate"
	httpx "github.com/relaytext/burstguard/internal/http"
	"github.com/relaytext/burstguard/internal/repository/postgres"
	"github.com/relaytext/burstguard/internal/service/gate"
	"github.com/relaytext/burstguard/internal/service/incident"
	"github.com/relaytext/burstguard/internal/service/scanner"
	"github.com/relaytext/burstguard/internal/service/tracker"
	"github.com/relaytext/burstguard/internal/ws"
	"github.com/relaytext/burstguard/pkg/config"
	"github.com/relaytext/burstguard/pkg/logger"
)

func main() {
	cfg := config.LoadDetectorConfig()
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := logger.New("burstguard", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub(cfg.WSEventBuffer)

	resolver := gate.NewResolver(repo, log)
	incidentSvc := incident.New(repo, hub, log)

	historyTracker := tracker.NewHistoryTracker(repo, cfg.HistoryFetchLimit)
	var cacheTracker tracker.RecentSends
	if addr := strings.TrimSpace(cfg.TrackerRedisAddr); addr != "" {
		redisTracker, err := tracker.NewRedisTracker(addr, cfg.TrackerRedisPass, cfg.TrackerRedisDB, cfg.TrackerTimeout, log)
		if err != nil {
			log.Warn("redis tracker unavailable, running on durable history only", "error", err)
		} else {
			defer redisTracker.Close()
			cacheTracker = redisTracker
		}
	}
	selector := tracker.NewSelector(cacheTracker, historyTracker, log)

	gateSvc := gate.New(resolver, selector, incidentSvc, log)

	scanSvc := scanner.New(repo, repo, repo, incidentSvc, resolver, log,
		cfg.ScanInterval, cfg.ScanWindow, cfg.IncidentStaleAfter, cfg.HistoryFetchLimit)
	if scanSvc != nil {
		go scanSvc.Run(ctx)
	}

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, falling back to in-memory", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	router := httpx.NewRouter(log, gateSvc, incidentSvc, resolver, scanSvc, hub, limiter, cfg.ServiceToken, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("burst detector starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("burst detector stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
