package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	APIBaseURL         string
	PublicBaseURL      string
	RedisURL           string
	CORSAllowedOrigins []string

	StripePublishableKey string
	StripeAPIBaseURL     string

	DisplayProvince    string
	DepositAmountCAD   int64
	DepositCurrency    string
	CheckoutSessionTTL time.Duration
	IdempotencyTTL     time.Duration
	DepositRatePerMin  int

	CatalogCacheTTL time.Duration
	CatalogMaxLimit int
	SearchDebounce  time.Duration

	UpstreamTimeout     time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	RetryJitterPercent  float64
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration
	ConfigLoadTimeout   time.Duration

	KafkaBrokers       []string
	KafkaTopicDeposits string

	StaffWebhookURL    string
	StaffWebhookSecret string
	WebhookReplayTTL   time.Duration

	WorkerConcurrency int
	ReconcileDelay    time.Duration

	WhatsAppNumber string
	BodyLimitBytes int64
	APIRatePerMin  int

	Ops Ops
}

// Ops groups the process-level switches shared by the api and worker
// binaries: logging, metrics, tracing, hardening and shutdown.
type Ops struct {
	LogFormat         string
	LogLevel          string
	MetricsNamespace  string
	MetricsEnabled    bool
	MetricsBuckets    string
	WorkerMetricsAddr string

	TracingEnabled  bool
	TracingExporter string
	TracingEndpoint string
	TracingSampling float64

	HeadersEnabled bool
	HSTSMaxAge     int // 0 disables HSTS
	PprofEnabled   bool
	PprofUser      string
	PprofPass      string

	ConfigRetryInterval  time.Duration
	ReadyUpstreamTimeout time.Duration
	ReadyRedisTimeout    time.Duration
	ShutdownTimeout      time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	k, err := loadEnv()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		APIBaseURL:         strings.TrimRight(strings.TrimSpace(k.String("API_BASE_URL")), "/"),
		PublicBaseURL:      strings.TrimRight(valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:5173"), "/"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		StripePublishableKey: strings.TrimSpace(k.String("STRIPE_PUBLISHABLE_KEY")),
		StripeAPIBaseURL:     strings.TrimRight(valueOrDefault(k.String("STRIPE_API_BASE_URL"), "https://api.stripe.com"), "/"),

		DisplayProvince:    strings.ToUpper(valueOrDefault(k.String("DISPLAY_PROVINCE"), "BC")),
		DepositAmountCAD:   parseInt64(k.String("DEPOSIT_AMOUNT_CAD"), 1000),
		DepositCurrency:    strings.ToLower(valueOrDefault(k.String("DEPOSIT_CURRENCY"), "cad")),
		CheckoutSessionTTL: parseDuration(k.String("CHECKOUT_SESSION_TTL"), "2h"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		DepositRatePerMin:  parseInt(k.String("RATE_LIMIT_DEPOSIT_PER_MINUTE"), 10),

		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "30s"),
		CatalogMaxLimit: parseInt(k.String("CATALOG_MAX_LIMIT"), 100),
		SearchDebounce:  parseDuration(k.String("SEARCH_DEBOUNCE"), "300ms"),

		UpstreamTimeout:     parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		RetryJitterPercent:  parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
		ConfigLoadTimeout:   parseDuration(k.String("CONFIG_LOAD_TIMEOUT"), "10s"),

		KafkaBrokers:       splitAndTrim(k.String("KAFKA_BROKERS")),
		KafkaTopicDeposits: valueOrDefault(k.String("KAFKA_TOPIC_DEPOSITS"), "storefront.deposits"),

		StaffWebhookURL:    strings.TrimSpace(k.String("STAFF_WEBHOOK_URL")),
		StaffWebhookSecret: strings.TrimSpace(k.String("STAFF_WEBHOOK_SECRET")),
		WebhookReplayTTL:   parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		WorkerConcurrency: parseInt(k.String("WORKER_CONCURRENCY"), 5),
		ReconcileDelay:    parseDuration(k.String("RECONCILE_DELAY"), "1m"),

		WhatsAppNumber: valueOrDefault(k.String("WHATSAPP_NUMBER"), "+14374638189"),
		BodyLimitBytes: parseInt64(k.String("BODY_LIMIT_BYTES"), 64<<10),
		APIRatePerMin:  parseInt(k.String("RATE_LIMIT_API_PER_MINUTE"), 300),
	}
	cfg.Ops = loadOps(k, cfg.AppEnv == "production")

	if cfg.APIBaseURL == "" {
		return nil, errors.New("API_BASE_URL is required")
	}
	if cfg.DepositAmountCAD <= 0 {
		return nil, errors.New("DEPOSIT_AMOUNT_CAD must be positive")
	}

	return cfg, nil
}

// Client is the slice of configuration catalogctl needs to reach the
// brokerage API.
type Client struct {
	APIBaseURL  string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
	Jitter      float64
}

// LoadClient reads the brokerage settings from the same sources as Load but
// skips the server-only checks. APIBaseURL may be empty.
func LoadClient() (Client, error) {
	k, err := loadEnv()
	if err != nil {
		return Client{}, err
	}
	return Client{
		APIBaseURL:  strings.TrimRight(strings.TrimSpace(k.String("API_BASE_URL")), "/"),
		Timeout:     parseDuration(k.String("UPSTREAM_TIMEOUT"), "5s"),
		MaxAttempts: parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:   parseDuration(k.String("RETRY_BASE"), "200ms"),
		Jitter:      parseFloat(k.String("RETRY_JITTER_PERCENT"), 0.2),
	}, nil
}

func loadOps(k *koanf.Koanf, production bool) Ops {
	ops := Ops{
		LogFormat:         valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:          valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:  valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "storefront"),
		MetricsEnabled:    parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsBuckets:    strings.TrimSpace(k.String("OBS_METRICS_BUCKETS_MS")),
		WorkerMetricsAddr: strings.TrimSpace(k.String("WORKER_METRICS_ADDR")),

		TracingEnabled:  parseBool(k.String("OBS_ENABLE_TRACING"), true),
		TracingExporter: valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		TracingEndpoint: strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSampling: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),

		HeadersEnabled: parseBool(k.String("SECURE_HEADERS_ENABLE"), true),
		PprofEnabled:   parseBool(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:      strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:      strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),

		ConfigRetryInterval:  parseMillis(k.String("CONFIG_RETRY_INTERVAL_MS"), 30000),
		ReadyUpstreamTimeout: parseMillis(k.String("HEALTH_READY_UPSTREAM_TIMEOUT_MS"), 1500),
		ReadyRedisTimeout:    parseMillis(k.String("HEALTH_READY_REDIS_TIMEOUT_MS"), 300),
		ShutdownTimeout:      parseMillis(k.String("SHUTDOWN_TIMEOUT_MS"), 15000),
	}
	if parseBool(k.String("SECURE_HSTS_ENABLE"), production) {
		ops.HSTSMaxAge = parseInt(k.String("SECURE_HSTS_MAX_AGE"), 31536000)
	}
	return ops
}

func loadEnv() (*koanf.Koanf, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}
	return k, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// DepositAmountMinor returns the deposit in minor currency units (cents).
func (c *Config) DepositAmountMinor() int64 {
	return c.DepositAmountCAD * 100
}

// DepositReturnURL is the fixed page the payment processor redirects to.
func (c *Config) DepositReturnURL() string {
	return c.PublicBaseURL + "/deposit-success"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}

func parseInt64(value string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	}
	return fallback
}

func parseMillis(value string, fallback int) time.Duration {
	return time.Duration(parseInt(value, fallback)) * time.Millisecond
}

func parseFloat(value string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]*string, len(env))
	for key := range env {
		if prev, ok := os.LookupEnv(key); ok {
			original[key] = &prev
		} else {
			original[key] = nil
		}
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]*string) error {
	var errs []string
	for key, value := range values {
		var err error
		if value == nil {
			err = os.Unsetenv(key)
		} else {
			err = os.Setenv(key, *value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
