package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgsupercars/storefront/internal/app"
	"github.com/sgsupercars/storefront/internal/checkout"
	"github.com/sgsupercars/storefront/internal/config"
	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Ops.LogFormat, cfg.Ops.LogLevel).With().Str("component", "worker").Logger()
	obs.MustRegisterDomainMetrics(cfg.Ops.MetricsNamespace, nil)

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	if addr := cfg.Ops.WorkerMetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server")
			}
		}()
		defer func() { _ = metricsSrv.Close() }()
	}

	srv := queue.NewServer(app.RedisConnOpt(deps.Redis), queue.ServerConfig{
		Concurrency: cfg.WorkerConcurrency,
		RetryBase:   cfg.ReconcileDelay,
		RetryJitter: cfg.RetryJitterPercent,
		Logger:      logger,
	})
	mux := queue.NewServeMux(queue.ReconcileHandler{
		Reconciler: deps.Checkout,
		IsPending:  func(err error) bool { return errors.Is(err, checkout.ErrPaymentPending) },
		Logger:     logger,
	})

	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
