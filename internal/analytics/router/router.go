// Package router turns settlement events into BigQuery fact rows.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

var (
	// ErrUnsupportedEventType is returned for events analytics ignores.
	ErrUnsupportedEventType = errors.New("unsupported analytics event type")
	// ErrMalformedPayload means the event data can never be decoded;
	// redelivery will not help.
	ErrMalformedPayload = errors.New("malformed analytics payload")
)

type Writer interface {
	InsertSettlement(ctx context.Context, fact types.SettlementFactRow, lines []types.SettlementLineFactRow) error
}

// Handler receives the envelope with its payload already decoded into the
// type registered for the event.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type route struct {
	decode  func(json.RawMessage) (any, error)
	handler Handler
}

type Router struct {
	routes map[enums.OutboxEventType]route
}

// NewRouter registers the built-in handlers. overrides swap the handler of
// an already registered event and cannot add new ones.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil || logg == nil {
		return nil, errors.New("writer and logger are required")
	}
	r := &Router{routes: map[enums.OutboxEventType]route{}}
	on[payloads.SettlementCompletedEvent](r, enums.EventSettlementCompleted, newSettlementCompletedHandler(writer, logg, nil))

	for eventType, handler := range overrides {
		rt, ok := r.routes[eventType]
		if !ok {
			return nil, fmt.Errorf("override for unrouted event %s", eventType)
		}
		if handler != nil {
			rt.handler = handler
			r.routes[eventType] = rt
		}
	}
	return r, nil
}

func on[P any](r *Router, eventType enums.OutboxEventType, handler Handler) {
	r.routes[eventType] = route{
		decode: func(raw json.RawMessage) (any, error) {
			payload := new(P)
			if err := json.Unmarshal(raw, payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
		handler: handler,
	}
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	rt, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("%w: empty %s payload", ErrMalformedPayload, envelope.EventType)
	}
	payload, err := rt.decode(envelope.Payload)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, envelope.EventType, err)
	}
	return rt.handler.Handle(ctx, envelope, payload)
}
