package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/smartpay-pos/smartpay-backend/pkg/config"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	payloadBytes := mustMarshal(t, payloads.SettlementCompletedEvent{
		Reference:   "TXN-abc",
		UserID:      7,
		TotalAmount: "120.00",
		ItemCount:   3,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventSettlementCompleted,
		AggregateType: enums.AggregateSettlement,
		AggregateRef:  "TXN-abc",
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "settlement-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.SettlementCompletedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.Reference != "TXN-abc" || payload.UserID != 7 || payload.ItemCount != 3 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryResolveRejectsBadRows(t *testing.T) {
	reg := newTestEventRegistry(t)

	tests := []struct {
		name  string
		event models.OutboxEvent
	}{
		{
			name: "unknown event",
			event: models.OutboxEvent{
				EventType:     "wallet_topped_up",
				AggregateType: enums.AggregateWallet,
				AggregateRef:  "1",
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "aggregate mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventSettlementCompleted,
				AggregateType: enums.AggregateWallet,
				AggregateRef:  "TXN-1",
				Payload:       mustEnvelope(t, []byte(`{"reference":"TXN-1"}`)),
			},
		},
		{
			name: "missing aggregate ref",
			event: models.OutboxEvent{
				EventType:     enums.EventSettlementCompleted,
				AggregateType: enums.AggregateSettlement,
				Payload:       mustEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "null payload",
			event: models.OutboxEvent{
				EventType:     enums.EventSettlementCompleted,
				AggregateType: enums.AggregateSettlement,
				AggregateRef:  "TXN-2",
				Payload:       mustEnvelope(t, []byte("null")),
			},
		},
		{
			name: "broken envelope",
			event: models.OutboxEvent{
				EventType:     enums.EventSettlementCompleted,
				AggregateType: enums.AggregateSettlement,
				AggregateRef:  "TXN-3",
				Payload:       json.RawMessage(`{"version":`),
			},
		},
	}

	for _, tt := range tests {
		_, err := reg.Resolve(tt.event)
		if err == nil {
			t.Fatalf("%s: expected error", tt.name)
		}
		if !IsPermanent(err) {
			t.Fatalf("%s: expected non-retryable error, got %T", tt.name, err)
		}
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected error for missing topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{SettlementTopic: "settlement-topic"})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestPermanentWrapsCause(t *testing.T) {
	cause := errors.New("topic deleted")
	err := Permanent(cause)
	if !IsPermanent(err) || !errors.Is(err, cause) {
		t.Fatalf("expected permanent error wrapping cause, got %v", err)
	}
	if IsPermanent(cause) {
		t.Fatalf("plain errors are retryable")
	}
}
