package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sgsupercars/storefront/internal/catalog"
	"github.com/sgsupercars/storefront/internal/obs"
	"github.com/sgsupercars/storefront/internal/payment"
	"github.com/sgsupercars/storefront/internal/remoteconfig"
	"github.com/sgsupercars/storefront/internal/resilience"
)

const maxErrorBody = 4 << 10

// StatusError reports a non-2xx response from the brokerage API.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s: status %d", e.Endpoint, e.StatusCode)
}

// Config configures the brokerage API client.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	Jitter      float64
	Breaker     *resilience.Breaker
	Logger      zerolog.Logger
	Meter       metric.Meter
}

// Client calls the brokerage API for configuration, vehicles, and payment
// intents.
type Client struct {
	baseURL  string
	reads    resilience.HTTPClient
	writes   resilience.HTTPClient
	logger   zerolog.Logger
	requests metric.Int64Counter
}

// NewHTTPClient returns an http.Client with tracing on the transport.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("upstream: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("upstream: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(cfg.Timeout)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = otel.Meter("github.com/sgsupercars/storefront/internal/upstream")
	}
	requests, err := meter.Int64Counter("storefront.upstream.requests",
		metric.WithDescription("Brokerage API requests by endpoint and result."))
	if err != nil {
		return nil, fmt.Errorf("upstream: counter: %w", err)
	}
	logger := cfg.Logger
	reads := resilience.HTTPClient{
		Client:      httpClient,
		Breaker:     cfg.Breaker,
		BaseBackoff: cfg.BaseBackoff,
		MaxAttempts: cfg.MaxAttempts,
		Jitter:      cfg.Jitter,
		Timeout:     cfg.Timeout,
		Target:      "brokerage",
		Logger:      &logger,
	}
	writes := reads
	writes.MaxAttempts = 1
	return &Client{
		baseURL:  base,
		reads:    reads,
		writes:   writes,
		logger:   logger,
		requests: requests,
	}, nil
}

// FetchConfig loads the storefront configuration document.
func (c *Client) FetchConfig(ctx context.Context) (remoteconfig.Snapshot, error) {
	var snap remoteconfig.Snapshot
	if err := c.getJSON(ctx, "config", "/config", &snap); err != nil {
		return remoteconfig.Snapshot{}, err
	}
	return snap, nil
}

// ListCars loads the full inventory.
func (c *Client) ListCars(ctx context.Context) ([]catalog.Vehicle, error) {
	var cars []catalog.Vehicle
	if err := c.getJSON(ctx, "cars", "/cars", &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// RecommendedCars loads the homepage promotion list.
func (c *Client) RecommendedCars(ctx context.Context) ([]catalog.Vehicle, error) {
	var cars []catalog.Vehicle
	if err := c.getJSON(ctx, "recommended", "/cars/fetchRecommendedCars", &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// GetCar loads one vehicle. A 404 wraps catalog.ErrVehicleNotFound.
func (c *Client) GetCar(ctx context.Context, carID string) (catalog.Vehicle, error) {
	var car catalog.Vehicle
	err := c.getJSON(ctx, "car", "/cars/"+url.PathEscape(carID), &car)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return catalog.Vehicle{}, fmt.Errorf("car %s: %w", carID, catalog.ErrVehicleNotFound)
		}
		return catalog.Vehicle{}, err
	}
	return car, nil
}

// CreatePaymentIntent opens a payment intent. It is never retried so that a
// slow success cannot produce a second intent.
func (c *Client) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return payment.Intent{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/stripe/create-payment-intent", bytes.NewReader(body))
	if err != nil {
		return payment.Intent{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	var intent payment.Intent
	if err := c.do(ctx, c.writes, "payment_intent", httpReq, &intent); err != nil {
		return payment.Intent{}, err
	}
	if intent.ClientSecret == "" {
		return payment.Intent{}, errors.New("upstream: no client secret returned")
	}
	return intent, nil
}

// Ping checks that the brokerage API answers.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config", nil)
	if err != nil {
		return err
	}
	return c.do(ctx, c.writes, "ping", req, nil)
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(ctx, c.reads, endpoint, req, dst)
}

func (c *Client) do(ctx context.Context, cl resilience.HTTPClient, endpoint string, req *http.Request, dst any) (err error) {
	start := time.Now()
	defer func() {
		c.record(ctx, endpoint, start, err)
	}()

	resp, err := cl.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("upstream %s: decode: %w", endpoint, err)
	}
	return nil
}

func (c *Client) record(ctx context.Context, endpoint string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < 500 {
			result = "client_error"
		}
		c.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("upstream_request_failed")
	}
	if obs.UpstreamRequestDuration != nil {
		obs.UpstreamRequestDuration.WithLabelValues(endpoint, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	c.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("result", result),
	))
}
