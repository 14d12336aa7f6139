package events_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/sgsupercars/storefront/internal/events"
)

type capturePublisher struct {
	events []events.Event
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, event events.Event) error {
	c.events = append(c.events, event)
	return c.err
}

type captureWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.closed = true
	return nil
}

func TestEmitPublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	var notified []events.Event
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	bus := events.Bus{
		Publisher: pub,
		Notifiers: []events.Notifier{events.NotifierFunc(func(_ context.Context, ev events.Event) error {
			notified = append(notified, ev)
			return nil
		})},
		Now: func() time.Time { return fixed },
	}

	event, err := bus.Emit(context.Background(), events.TopicDepositIntentCreated, "dep-1", map[string]any{"carId": "123"})
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	require.Len(t, notified, 1)
	require.Equal(t, event.ID, pub.events[0].ID)
	require.Equal(t, fixed, event.OccurredAt)
	require.JSONEq(t, `{"carId":"123"}`, string(event.Payload))
}

func TestEmitValidatesInput(t *testing.T) {
	bus := events.Bus{Publisher: &capturePublisher{}}
	_, err := bus.Emit(context.Background(), " ", "dep-1", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicDepositFailed, "", nil)
	require.Error(t, err)
	_, err = bus.Emit(context.Background(), events.TopicDepositFailed, "dep-1", []byte("{not json"))
	require.Error(t, err)

	var nilBus *events.Bus
	_, err = nilBus.Emit(context.Background(), events.TopicDepositFailed, "dep-1", nil)
	require.Error(t, err)
}

func TestEmitReturnsEventWhenPublishFails(t *testing.T) {
	bus := events.Bus{Publisher: &capturePublisher{err: errors.New("broker down")}}
	event, err := bus.Emit(context.Background(), events.TopicDepositSucceeded, "dep-2", nil)
	require.ErrorContains(t, err, "broker down")
	require.Equal(t, "dep-2", event.AggregateID)
	require.JSONEq(t, `{}`, string(event.Payload))
}

func TestKafkaPublisherKeysByAggregate(t *testing.T) {
	w := &captureWriter{}
	pub := events.NewKafkaPublisher(w)
	bus := events.Bus{Publisher: pub}
	_, err := bus.Emit(context.Background(), events.TopicDepositSucceeded, "dep-9", map[string]string{"carId": "77"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "dep-9", string(w.msgs[0].Key))

	var decoded events.Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, events.TopicDepositSucceeded, decoded.Topic)
	require.JSONEq(t, `{"carId":"77"}`, string(decoded.Payload))
	require.Equal(t, "topic", w.msgs[0].Headers[0].Key)

	require.NoError(t, pub.Close())
	require.True(t, w.closed)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	pub := events.LogPublisher{Logger: zerolog.New(&buf)}
	bus := events.Bus{Publisher: pub}
	_, err := bus.Emit(context.Background(), events.TopicDepositFailed, "dep-3", map[string]string{"reason": "declined"})
	require.NoError(t, err)
	require.Contains(t, buf.String(), `"message":"event_published"`)
	require.Contains(t, buf.String(), `"payload":{"reason":"declined"}`)
}

func TestNewKafkaWriter(t *testing.T) {
	w := events.NewKafkaWriter([]string{"localhost:9092"}, "storefront.deposits")
	require.Equal(t, "storefront.deposits", w.Topic)
	require.Equal(t, "localhost:9092", w.Addr.String())
}
