package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a deposit lifecycle fact published for downstream consumers.
type Event struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Publisher delivers events to a transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Notifier reacts to emitted events (e.g. metrics, cache invalidation).
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

// Bus stamps events and fans them out to the publisher and notifiers.
type Bus struct {
	Publisher Publisher
	Notifiers []Notifier
	Now       func() time.Time
}

// Emit stamps an event and hands it to the publisher, then to every
// notifier. Handler failures are joined; the event is returned regardless.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	if b == nil || b.Publisher == nil {
		return Event{}, errors.New("events: publisher not configured")
	}
	topic, aggregateID = strings.TrimSpace(topic), strings.TrimSpace(aggregateID)
	switch {
	case topic == "":
		return Event{}, errors.New("events: topic is required")
	case aggregateID == "":
		return Event{}, errors.New("events: aggregate id is required")
	}
	body, err := marshalPayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	clock := b.Now
	if clock == nil {
		clock = time.Now
	}
	ev := Event{ID: uuid.NewString(), Topic: topic, AggregateID: aggregateID, Payload: body, OccurredAt: clock().UTC()}

	var errs []error
	if err := b.Publisher.Publish(ctx, ev); err != nil {
		errs = append(errs, fmt.Errorf("events: publish: %w", err))
	}
	for _, n := range b.Notifiers {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("events: notifier: %w", err))
		}
	}
	return ev, errors.Join(errs...)
}

// marshalPayload passes pre-encoded JSON through (copied) and marshals
// anything else. Empty payloads become {}.
func marshalPayload(payload any) (json.RawMessage, error) {
	var raw []byte
	switch v := payload.(type) {
	case nil:
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		return json.Marshal(v)
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, errors.New("payload is not valid json")
	}
	return append(json.RawMessage(nil), raw...), nil
}
