package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sgsupercars/storefront/internal/app"
	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/checkout"
	"github.com/sgsupercars/storefront/internal/common"
	"github.com/sgsupercars/storefront/internal/config"
	"github.com/sgsupercars/storefront/internal/contact"
	"github.com/sgsupercars/storefront/internal/health"
	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/ratelimit"
	"github.com/sgsupercars/storefront/internal/remoteconfig"
	"github.com/sgsupercars/storefront/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ops := cfg.Ops
	logger := obs.NewLogger(ops.LogFormat, ops.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	metricsEnabled := ops.MetricsEnabled
	obs.MustRegisterDomainMetrics(ops.MetricsNamespace, nil)

	tracingEnabled := ops.TracingEnabled
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "storefront-api",
			Endpoint:      ops.TracingEndpoint,
			Exporter:      ops.TracingExporter,
			SamplingRatio: ops.TracingSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx, cfg, logger, app.Options{RedisMetrics: metricsEnabled})
	if err != nil {
		logger.Fatal().Err(err).Msg("build dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()
	if deps.Redis == nil {
		logger.Warn().Msg("REDIS_URL not set; using in-memory sessions, locks and limits")
	}

	go keepConfigLoaded(ctx, deps.RemoteConfig, cfg.ConfigLoadTimeout, ops.ConfigRetryInterval, logger)

	catalogHandler := catalog.NewHandler(catalog.HandlerConfig{Service: deps.Catalog})
	configHandler := remoteconfig.NewHandler(deps.RemoteConfig)
	contactHandler := contact.Handler{Number: cfg.WhatsAppNumber}

	startGuards := []func(http.Handler) http.Handler{
		ratelimit.Handler{
			Limiter: deps.DepositLimiter(),
			Rule:    ratelimit.Rule{Window: time.Minute, Max: cfg.DepositRatePerMin},
			Key:     ratelimit.ByClientIP("deposit:"),
			OnError: limiterErrorLogger(logger, "deposit"),
		}.Middleware,
	}
	if deps.Redis != nil {
		startGuards = append(startGuards, common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}.Middleware)
	}
	checkoutHandler := checkout.NewHandler(checkout.HandlerConfig{
		Service:        deps.Checkout,
		PublishableKey: cfg.StripePublishableKey,
		StartGuards:    startGuards,
	})

	apiLimiter := ratelimit.Handler{
		Limiter: ratelimit.NewFixedWindow(deps.LimiterStore),
		Rule:    ratelimit.Rule{Window: time.Minute, Max: cfg.APIRatePerMin},
		Key:     ratelimit.ByClientIP("api:"),
		OnError: limiterErrorLogger(logger, "api"),
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		httpMetrics = obs.NewHTTPMetrics(ops.MetricsNamespace, obs.ParseBucketsCSV(ops.MetricsBuckets), nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.Tracing)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers(security.HeaderOptions{
		Disabled:   !ops.HeadersEnabled,
		HSTSMaxAge: ops.HSTSMaxAge,
	}))
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.BodyLimit(cfg.BodyLimitBytes))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if ops.PprofEnabled {
		r.Mount("/debug", profiler(ops.PprofUser, ops.PprofPass))
	}

	checks := health.Deps{
		Upstream: deps.Upstream,
		Config:   func() string { return deps.RemoteConfig.State().String() },
	}
	if deps.Redis != nil {
		checks.Redis = deps.Redis
	}
	healthHandler := health.Handler{
		Checker:         checks,
		UpstreamTimeout: ops.ReadyUpstreamTimeout,
		RedisTimeout:    ops.ReadyRedisTimeout,
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(apiLimiter.Middleware)
		configHandler.Routes(v)
		catalogHandler.Routes(v)
		checkoutHandler.Routes(v)
		contactHandler.Routes(v)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ops.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

// keepConfigLoaded loads the storefront configuration and retries on an
// interval until it succeeds or ctx ends.
func keepConfigLoaded(ctx context.Context, store *remoteconfig.Store, timeout, interval time.Duration, logger zerolog.Logger) {
	load := func() bool {
		loadCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := store.Load(loadCtx); err != nil {
			logger.Error().Err(err).Msg("load storefront config")
			return false
		}
		return true
	}
	if load() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if load() {
				return
			}
		}
	}
}

func limiterErrorLogger(logger zerolog.Logger, scope string) func(error) {
	return func(err error) {
		logger.Warn().Err(err).Str("limiter", scope).Msg("rate limiter unavailable")
	}
}

// profiler serves net/http/pprof under /debug, behind basic auth when a
// user is configured.
func profiler(user, pass string) http.Handler {
	r := chi.NewRouter()
	if user != "" {
		r.Use(middleware.BasicAuth("pprof", map[string]string{user: pass}))
	}
	r.Mount("/", middleware.Profiler())
	return r
}
