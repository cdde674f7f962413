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

	"github.com/carlosmpereira/bookpulse/internal/config"
	"github.com/carlosmpereira/bookpulse/internal/eventlog"
	httpx "github.com/carlosmpereira/bookpulse/internal/http"
	"github.com/carlosmpereira/bookpulse/internal/metrics"
	"github.com/carlosmpereira/bookpulse/internal/monitor"
	"github.com/carlosmpereira/bookpulse/internal/ws"
	"github.com/carlosmpereira/bookpulse/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("bookpulse", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		log.Error("failed to open event log", "error", err, "path", cfg.EventLogPath)
		os.Exit(1)
	}
	defer store.Close()

	sampler := &metrics.HostSampler{DiskPath: cfg.DiskSamplePath}
	registry := metrics.NewRegistry(sampler, log)

	hub := ws.NewHub()
	recorder := monitor.NewRecorder(store, registry, hub, log, cfg.SlowRequestLimit, cfg.SlowQueryLimit)
	aggregator := monitor.NewAggregator(store, sampler, log)

	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}
	if limiter == nil {
		limiter = httpx.NewMemoryRateLimiter()
	}

	intercept := httpx.NewInterceptor(recorder, registry, log, cfg.JWTSecret)
	router := httpx.NewRouter(log, recorder, aggregator, registry, hub, limiter, intercept, store.Ping, httpx.Options{
		ProducerToken:     cfg.ProducerToken,
		QueryRateLimit:    cfg.QueryRateLimit,
		MetricsEnabled:    cfg.MetricsEnabled,
		DefaultHours:      cfg.DefaultHistoryHours,
		SSEHeartbeatEvery: cfg.SSEHeartbeatEvery,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("monitoring api starting", "addr", cfg.Addr, "event_log", cfg.EventLogPath, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("monitoring api stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
