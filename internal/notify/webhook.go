package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sgsupercars/storefront/internal/events"
	"github.com/sgsupercars/storefront/internal/resilience"
)

// Webhook posts deposit events to the dealership's staff endpoint so a person
// can follow up with the buyer. Each delivery carries an HMAC of
// "<unix ts>.<event id>.<body>" keyed by Secret.
type Webhook struct {
	URL    string
	Secret string
	// Topics limits deliveries; empty means every topic.
	Topics []string
	HTTP   resilience.HTTPClient
	// Dedupe, when set with a positive DedupeTTL, stops the same event from
	// being delivered twice. A failed delivery gives its claim back.
	Dedupe    DeliveryGuard
	DedupeTTL time.Duration
	Now       func() time.Time
}

type delivery struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	SessionID  string          `json:"sessionId"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// NewWebhook checks the endpoint and secret. Plain http is accepted only for
// loopback hosts.
func NewWebhook(rawURL, secret string, client resilience.HTTPClient) (*Webhook, error) {
	u, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return nil, fmt.Errorf("invalid endpoint url: %w", err)
	case u.Host == "":
		return nil, errors.New("webhook url must include host")
	case u.Scheme == "https":
	case u.Scheme == "http" && (u.Hostname() == "localhost" || u.Hostname() == "127.0.0.1"):
	case u.Scheme == "http":
		return nil, errors.New("http webhook only allowed for localhost")
	default:
		return nil, errors.New("webhook url must be http or https")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("notify: webhook secret is required")
	}
	return &Webhook{URL: rawURL, Secret: secret, HTTP: client}, nil
}

// Notify implements events.Notifier.
func (w *Webhook) Notify(ctx context.Context, ev events.Event) error {
	if w == nil || w.URL == "" {
		return nil
	}
	if len(w.Topics) > 0 && !slices.Contains(w.Topics, ev.Topic) {
		return nil
	}
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.Notify")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.topic", ev.Topic), attribute.String("webhook.event_id", ev.ID))

	dedupe := w.Dedupe != nil && w.DedupeTTL > 0
	if dedupe {
		fresh, err := w.Dedupe.Claim(ctx, ev.ID, w.DedupeTTL)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if !fresh {
			span.AddEvent("duplicate delivery skipped")
			return nil
		}
	}

	err := w.deliver(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if dedupe {
			_ = w.Dedupe.Forget(ctx, ev.ID)
		}
	}
	return err
}

func (w *Webhook) deliver(ctx context.Context, ev events.Event) error {
	body, err := json.Marshal(delivery{
		EventID:    ev.ID,
		Topic:      ev.Topic,
		SessionID:  ev.AggregateID,
		Data:       ev.Payload,
		OccurredAt: ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	clock := w.Now
	if clock == nil {
		clock = time.Now
	}
	ts := clock().Unix()
	h := req.Header
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", "storefront-webhooks/1.0")
	h.Set("X-Event-ID", ev.ID)
	h.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	h.Set("X-Signature", Sign(w.Secret, ts, ev.ID, body))

	resp, err := w.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("notify: webhook responded %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 the receiver recomputes to authenticate a
// delivery.
func Sign(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s.", ts, eventID)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
