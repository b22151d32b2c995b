// Package registry knows which outbox event types exist, where each is
// published, and how to decode its payload.
package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

// ErrPermanent marks a row that will never publish; the publisher moves it
// to the dead-letter table instead of retrying.
var ErrPermanent = errors.New("permanent outbox failure")

// Permanent tags err with ErrPermanent.
func Permanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	newPayload    func() any
}

// ResolvedEvent is a validated outbox row with its payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.SettlementTopic)
	if topic == "" {
		return nil, errors.New("settlement topic is required")
	}
	reg := &EventRegistry{routes: map[enums.OutboxEventType]EventDescriptor{}}
	route[payloads.SettlementCompletedEvent](reg, enums.EventSettlementCompleted, enums.AggregateSettlement, topic)
	return reg, nil
}

func route[P any](reg *EventRegistry, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) {
	reg.routes[eventType] = EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		newPayload:    func() any { return new(P) },
	}
}

// Resolve checks the row against its route and decodes the payload. Every
// failure here is permanent: retrying the same bytes cannot succeed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, Permanent(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, Permanent(fmt.Errorf("event %s belongs to %s, row says %s", event.EventType, desc.AggregateType, event.AggregateType))
	case strings.TrimSpace(event.AggregateRef) == "":
		return nil, Permanent(errors.New("missing aggregate_ref"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, Permanent(fmt.Errorf("envelope for %s: %w", event.EventType, err))
	}
	payload := desc.newPayload()
	if err := envelope.DecodeData(payload); err != nil {
		return nil, Permanent(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
