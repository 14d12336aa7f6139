package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/checkout"
	"github.com/sgsupercars/storefront/internal/config"
	"github.com/sgsupercars/storefront/internal/events"
	"github.com/sgsupercars/storefront/internal/lock"
	"github.com/sgsupercars/storefront/internal/notify"
	"github.com/sgsupercars/storefront/internal/payment"
	"github.com/sgsupercars/storefront/internal/queue"
	"github.com/sgsupercars/storefront/internal/ratelimit"
	"github.com/sgsupercars/storefront/internal/remoteconfig"
	"github.com/sgsupercars/storefront/internal/resilience"
	"github.com/sgsupercars/storefront/internal/upstream"
)

// Dependencies enumerates the services shared by the API and the worker.
// Redis, TaskClient and the Kafka publisher are optional; without Redis the
// process runs on in-memory stores and confirms are not reconciled later.
type Dependencies struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Redis        *redis.Client
	Validator    *validator.Validate
	LimiterStore limiter.Store
	TaskClient   *asynq.Client
	Upstream     *upstream.Client
	RemoteConfig *remoteconfig.Store
	CatalogCache *catalog.Cache
	Catalog      *catalog.Service
	Events       *events.Bus
	Checkout     *checkout.Service

	closers []func() error
}

// Options tweaks how Build wires optional pieces.
type Options struct {
	// RedisMetrics enables redisotel metrics on the Redis client.
	RedisMetrics bool
	// Meter defaults to the global meter provider.
	Meter metric.MeterProvider
}

// Build connects to Redis (when configured) and assembles every service.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	d := &Dependencies{Config: cfg, Logger: logger, Validator: checkout.NewValidator()}

	if cfg.RedisURL != "" {
		rdb, err := NewRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
		if err != nil {
			return nil, err
		}
		d.Redis = rdb
		d.closers = append(d.closers, rdb.Close)
	}

	store, err := NewLimiterStore(d.Redis, "storefront:limiter")
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.LimiterStore = store

	meterProvider := opts.Meter
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}
	breaker := newBreaker(cfg, "brokerage", logger)
	d.Upstream, err = upstream.New(upstream.Config{
		BaseURL:     cfg.APIBaseURL,
		Timeout:     cfg.UpstreamTimeout,
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseBackoff: cfg.RetryBase,
		Jitter:      cfg.RetryJitterPercent,
		Breaker:     breaker,
		Logger:      logger,
		Meter:       meterProvider.Meter("github.com/sgsupercars/storefront/internal/upstream"),
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	d.RemoteConfig = remoteconfig.NewStore(d.Upstream, logger)
	d.CatalogCache = catalog.NewCache(d.Redis, cfg.CatalogCacheTTL)
	d.Catalog, err = catalog.NewService(catalog.ServiceConfig{
		Source:          d.Upstream,
		Charges:         d.RemoteConfig,
		Cache:           d.CatalogCache,
		Logger:          logger,
		DisplayProvince: cfg.DisplayProvince,
		MaxLimit:        cfg.CatalogMaxLimit,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	d.Events = &events.Bus{Publisher: events.LogPublisher{Logger: logger}}
	if len(cfg.KafkaBrokers) > 0 {
		publisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopicDeposits))
		d.Events.Publisher = publisher
		d.closers = append(d.closers, publisher.Close)
	}
	if cfg.StaffWebhookURL != "" {
		hook, err := d.staffWebhook()
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		d.Events.Notifiers = append(d.Events.Notifiers, hook)
	}

	var reconciler checkout.Reconciler
	if d.Redis != nil {
		d.TaskClient = asynq.NewClient(RedisConnOpt(d.Redis))
		d.closers = append(d.closers, d.TaskClient.Close)
		reconciler = queue.Enqueuer{Client: d.TaskClient}
	}

	d.Checkout, err = checkout.NewService(d.checkoutConfig(reconciler))
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Dependencies) checkoutConfig(reconciler checkout.Reconciler) checkout.ServiceConfig {
	cfg := d.Config
	var sessions checkout.SessionStore = checkout.NewMemoryStore(cfg.CheckoutSessionTTL)
	var locker lock.Locker = &lock.LocalLocker{}
	if d.Redis != nil {
		sessions = checkout.NewRedisStore(d.Redis, cfg.CheckoutSessionTTL)
		locker = lock.RedisLocker{R: d.Redis, RetryBackoff: 50 * time.Millisecond}
	}
	logger := d.Logger
	stripe := payment.Stripe{
		PublishableKey: cfg.StripePublishableKey,
		BaseURL:        cfg.StripeAPIBaseURL,
		HTTP: resilience.HTTPClient{
			Client:      upstream.NewHTTPClient(cfg.UpstreamTimeout),
			Breaker:     newBreaker(cfg, "stripe", logger),
			MaxAttempts: 1,
			Timeout:     cfg.UpstreamTimeout,
			Target:      "stripe",
			Logger:      &logger,
		},
	}
	cache := d.CatalogCache
	return checkout.ServiceConfig{
		Vehicles:       d.Catalog,
		Intents:        d.Upstream,
		Processor:      stripe,
		Store:          sessions,
		Locker:         locker,
		Events:         d.Events,
		Reconciler:     reconciler,
		Validate:       checkout.ContactValidator(d.Validator),
		Logger:         d.Logger,
		AmountMinor:    cfg.DepositAmountMinor(),
		Currency:       cfg.DepositCurrency,
		ReturnURL:      cfg.DepositReturnURL(),
		ReconcileDelay: cfg.ReconcileDelay,
		OnSucceeded: func(ctx context.Context, carID string) {
			if err := cache.Invalidate(ctx); err != nil {
				logger.Warn().Err(err).Str("car_id", carID).Msg("invalidate catalog cache")
			}
		},
	}
}

func (d *Dependencies) staffWebhook() (*notify.Webhook, error) {
	cfg := d.Config
	logger := d.Logger
	hook, err := notify.NewWebhook(cfg.StaffWebhookURL, cfg.StaffWebhookSecret, resilience.HTTPClient{
		Client:      upstream.NewHTTPClient(cfg.UpstreamTimeout),
		Breaker:     newBreaker(cfg, "staff-webhook", logger),
		BaseBackoff: cfg.RetryBase,
		MaxAttempts: cfg.RetryMaxAttempts,
		Jitter:      cfg.RetryJitterPercent,
		Timeout:     cfg.UpstreamTimeout,
		Target:      "staff-webhook",
		Logger:      &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("staff webhook: %w", err)
	}
	hook.Topics = []string{events.TopicDepositSucceeded, events.TopicDepositFailed}
	if d.Redis != nil {
		hook.Dedupe = notify.RedisDeliveryGuard{Client: d.Redis}
		hook.DedupeTTL = cfg.WebhookReplayTTL
	}
	return hook, nil
}

func newBreaker(cfg *config.Config, target string, logger zerolog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Target:       target,
		MinRequests:  cfg.CircuitMinRequests,
		FailureRatio: cfg.CircuitFailureRatio,
		OpenFor:      cfg.CircuitOpenFor,
		Logger:       &logger,
	})
}

// Close releases connections in reverse order of acquisition.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewRedis parses url, instruments the client and pings it.
func NewRedis(ctx context.Context, url string, withMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(rdb); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(rdb); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// RedisConnOpt mirrors the client's connection settings for asynq.
func RedisConnOpt(rdb *redis.Client) asynq.RedisClientOpt {
	o := rdb.Options()
	return asynq.RedisClientOpt{
		Network:   o.Network,
		Addr:      o.Addr,
		Username:  o.Username,
		Password:  o.Password,
		DB:        o.DB,
		TLSConfig: o.TLSConfig,
	}
}

// NewLimiterStore returns a Redis limiter store, or an in-memory one when
// rdb is nil.
func NewLimiterStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if rdb == nil {
		return ratelimit.NewMemoryStore(prefix), nil
	}
	return ratelimit.NewRedisStore(rdb, prefix)
}

// DepositLimiter picks the sliding window limiter when Redis is available.
func (d *Dependencies) DepositLimiter() ratelimit.Limiter {
	if d.Redis != nil {
		return ratelimit.SlidingWindow{Client: d.Redis, Prefix: "storefront:rl:"}
	}
	return ratelimit.NewFixedWindow(d.LimiterStore)
}
