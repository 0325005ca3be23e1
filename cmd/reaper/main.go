package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/farm-market/config"
	"github.com/ErlanBelekov/farm-market/internal/health"
	"github.com/ErlanBelekov/farm-market/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/farm-market/internal/log"
	"github.com/ErlanBelekov/farm-market/internal/metrics"
	"github.com/ErlanBelekov/farm-market/internal/reaper"
	"github.com/ErlanBelekov/farm-market/internal/security"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadCommon()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := reaper.ValidateSchedule(cfg.PurgeCron); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer).Add("postgres", pool)

	r := reaper.New(logger).
		Add("pending_registrations", postgres.NewPendingRegistrationRepository(pool).DeleteExpired).
		Add("otps", postgres.NewOTPRepository(pool).DeleteStale)

	// One pass at startup so a long-stopped reaper catches up immediately.
	r.RunOnce(ctx)
	go func() {
		if err := r.Start(ctx, cfg.PurgeCron); err != nil {
			logger.Error("reaper", "error", err)
			stop()
		}
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker, security.NewAPIKeys(cfg.MetricsAPIKeys))
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("reaper process shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
