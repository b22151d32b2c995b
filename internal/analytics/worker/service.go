package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/router"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/metrics"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
)

const (
	ConsumerName = "analytics"
	jobName      = "analytics_ingest"

	resultIngested  = "ingested"
	resultDuplicate = "duplicate"
	resultSkipped   = "skipped"
	resultRetried   = "retried"
)

// Handler processes decoded analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

type eventClaims interface {
	Claim(ctx context.Context, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID) error
}

// Service consumes settlement events from Pub/Sub, deduplicated through Redis.
type Service struct {
	subscription receiver
	handler      Handler
	claims       eventClaims
	logg         *logger.Logger
	metrics      *metrics.JobMetrics
}

// NewService creates the analytics worker service.
func NewService(subscription receiver, handler Handler, claims eventClaims, logg *logger.Logger, jobMetrics *metrics.JobMetrics) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if claims == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		handler:      handler,
		claims:       claims,
		logg:         logg,
		metrics:      jobMetrics,
	}, nil
}

type processResult struct {
	nack   bool
	result string
}

// Run consumes messages until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		start := time.Now()
		res := s.process(innerCtx, msg)
		s.metrics.ObserveDuration(jobName, time.Since(start))
		s.metrics.AddItems(jobName, res.result, 1)
		if res.nack {
			s.metrics.IncFailure(jobName)
			msg.Nack()
			return
		}
		s.metrics.IncSuccess(jobName)
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}
	logCtx := s.logg.WithFields(ctx, fields)

	envelope, err := buildEnvelope(msg)
	if err != nil {
		// redelivery cannot fix a malformed message
		s.logg.Error(logCtx, "invalid analytics envelope", err)
		return processResult{result: resultSkipped}
	}
	fields["event_id"] = envelope.EventID
	fields["event_type"] = envelope.EventType
	fields["aggregate_ref"] = envelope.AggregateRef
	logCtx = s.logg.WithFields(ctx, fields)

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return processResult{result: resultSkipped}
	}

	first, err := s.claims.Claim(logCtx, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true, result: resultRetried}
	}
	if !first {
		s.logg.Info(logCtx, "event already processed")
		return processResult{result: resultDuplicate}
	}

	if err := s.handler.Handle(logCtx, *envelope); err != nil {
		switch {
		case errors.Is(err, router.ErrUnsupportedEventType):
			s.logg.Info(logCtx, "event not handled by analytics")
			return processResult{result: resultSkipped}
		case errors.Is(err, router.ErrMalformedPayload):
			s.logg.Error(logCtx, "undecodable analytics payload", err)
			return processResult{result: resultSkipped}
		}
		s.logg.Error(logCtx, "analytics handler failed", err)
		if delErr := s.claims.Release(logCtx, eventID); delErr != nil {
			s.logg.Error(logCtx, "failed to release idempotency claim", delErr)
		}
		return processResult{nack: true, result: resultRetried}
	}

	s.logg.Info(logCtx, "analytics event handled")
	return processResult{result: resultIngested}
}

func buildEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	stored, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		return nil, err
	}

	eventType, err := enums.ParseOutboxEventType(attribute(msg, "event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attribute(msg, "aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateRef := attribute(msg, "aggregate_ref")
	if aggregateRef == "" {
		return nil, errors.New("aggregate_ref missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if created := attribute(msg, "created_at"); created != "" {
			if parsed, err := time.Parse(time.RFC3339Nano, created); err == nil {
				occurredAt = parsed
			}
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attribute(msg, "event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateRef:  aggregateRef,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}

func attribute(msg *gcppubsub.Message, key string) string {
	return strings.TrimSpace(msg.Attributes[key])
}
