package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/events"
	"github.com/sgsupercars/storefront/internal/resilience"
)

func sampleEvent() events.Event {
	return events.Event{
		ID:          "evt-1",
		Topic:       events.TopicDepositSucceeded,
		AggregateID: "sess-1",
		Payload:     json.RawMessage(`{"carId":"42","amount":100000}`),
		OccurredAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSignatureAndHeaders(t *testing.T) {
	var seen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Add(1)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		ts, err := strconv.ParseInt(r.Header.Get("X-Timestamp"), 10, 64)
		require.NoError(t, err)
		require.Equal(t, "evt-1", r.Header.Get("X-Event-ID"))
		require.Equal(t, Sign("s3cret", ts, "evt-1", body), r.Header.Get("X-Signature"))

		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		require.Equal(t, "sess-1", payload["sessionId"])
		require.Equal(t, "42", payload["data"].(map[string]any)["carId"])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	hook := &Webhook{URL: srv.URL, Secret: "s3cret", HTTP: resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.Equal(t, int32(1), seen.Load())
}

func TestTopicFilter(t *testing.T) {
	var seen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		seen.Add(1)
	}))
	defer srv.Close()

	hook := &Webhook{
		URL:    srv.URL,
		Secret: "s",
		Topics: []string{events.TopicDepositFailed},
		HTTP:   resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
	}
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.Zero(t, seen.Load())
}

func TestDuplicateSuppressedUntilDelivered(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	var status atomic.Int32
	status.Store(http.StatusBadGateway)
	var seen atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		seen.Add(1)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	hook := &Webhook{
		URL:       srv.URL,
		Secret:    "s",
		HTTP:      resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		Dedupe:    RedisDeliveryGuard{Client: rdb},
		DedupeTTL: time.Hour,
	}
	require.Error(t, hook.Notify(context.Background(), sampleEvent()))

	status.Store(http.StatusOK)
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.NoError(t, hook.Notify(context.Background(), sampleEvent()))
	require.Equal(t, int32(2), seen.Load())
}

func TestNewWebhookValidates(t *testing.T) {
	_, err := NewWebhook("ftp://example.com", "s", resilience.HTTPClient{})
	require.Error(t, err)
	_, err = NewWebhook("http://example.com/hook", "s", resilience.HTTPClient{})
	require.Error(t, err)
	_, err = NewWebhook("https://example.com/hook", "", resilience.HTTPClient{})
	require.Error(t, err)
	hook, err := NewWebhook("https://example.com/hook", "s", resilience.HTTPClient{})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/hook", hook.URL)
}
