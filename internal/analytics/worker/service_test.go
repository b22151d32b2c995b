package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/router"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox"
)

func TestBuildEnvelope(t *testing.T) {
	eventID := uuid.NewString()
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    eventID,
		OccurredAt: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"reference":"TXN-1"}`),
	}
	msg := buildMessage(payload, settlementAttributes("TXN-1"))

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	require.Equal(t, enums.EventSettlementCompleted, env.EventType)
	require.Equal(t, enums.AggregateSettlement, env.AggregateType)
	require.Equal(t, "TXN-1", env.AggregateRef)
	require.Equal(t, eventID, env.EventID)
	require.True(t, payload.OccurredAt.Equal(env.OccurredAt))
	require.JSONEq(t, `{"reference":"TXN-1"}`, string(env.Payload))
}

func TestBuildEnvelopeFallsBackToAttributes(t *testing.T) {
	eventID := uuid.NewString()
	attrs := settlementAttributes("TXN-2")
	attrs["event_id"] = eventID
	attrs["created_at"] = "2026-09-02T08:00:00Z"
	msg := buildMessage(outbox.PayloadEnvelope{Data: json.RawMessage(`{}`)}, attrs)

	env, err := buildEnvelope(msg)
	require.NoError(t, err)
	require.Equal(t, eventID, env.EventID)
	require.Equal(t, 2026, env.OccurredAt.Year())
	require.Equal(t, 8, env.OccurredAt.Hour())
}

func TestBuildEnvelopeRejectsBadAttributes(t *testing.T) {
	payload := outbox.PayloadEnvelope{EventID: uuid.NewString(), Data: json.RawMessage(`{}`)}

	attrs := settlementAttributes("TXN-3")
	attrs["event_type"] = "order_created"
	_, err := buildEnvelope(buildMessage(payload, attrs))
	require.Error(t, err)

	attrs = settlementAttributes("")
	_, err = buildEnvelope(buildMessage(payload, attrs))
	require.Error(t, err)
}

func TestProcessHandlesEvent(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.False(t, res.nack)
	require.Equal(t, resultIngested, res.result)
	require.True(t, handler.called)
	require.Equal(t, "TXN-42", handler.envelope.AggregateRef)
	require.Len(t, claims.checked, 1)
}

func TestProcessAlreadyProcessed(t *testing.T) {
	claims := &stubClaims{duplicate: true}
	handler := &stubHandler{}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.False(t, res.nack)
	require.Equal(t, resultDuplicate, res.result)
	require.False(t, handler.called)
}

func TestProcessHandlerErrorReleasesClaim(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.True(t, res.nack)
	require.Equal(t, resultRetried, res.result)
	require.Len(t, claims.deleted, 1)
}

func TestProcessIdempotencyErrorNacks(t *testing.T) {
	claims := &stubClaims{checkErr: errors.New("redis down")}
	handler := &stubHandler{}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.True(t, res.nack)
	require.False(t, handler.called)
}

func TestProcessInvalidEnvelopeAcks(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), &gcppubsub.Message{ID: "m", Data: []byte("invalid json")})
	require.False(t, res.nack)
	require.Equal(t, resultSkipped, res.result)
	require.False(t, handler.called)
	require.Empty(t, claims.checked)
}

func TestProcessUnsupportedEventAcks(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{err: router.ErrUnsupportedEventType}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.False(t, res.nack)
	require.Empty(t, claims.deleted)
}

func TestProcessMalformedPayloadKeepsClaim(t *testing.T) {
	claims := &stubClaims{}
	handler := &stubHandler{err: fmt.Errorf("%w: decode settlement_completed", router.ErrMalformedPayload)}
	svc := newTestService(t, handler, claims)

	res := svc.process(context.Background(), buildSettlementMessage(t))
	require.False(t, res.nack)
	require.Equal(t, resultSkipped, res.result)
	require.Empty(t, claims.deleted)
}

func TestRunReturnsReceiveError(t *testing.T) {
	svc := newTestService(t, &stubHandler{}, &stubClaims{})
	svc.subscription = &stubReceiver{err: context.Canceled}
	require.ErrorIs(t, svc.Run(context.Background()), context.Canceled)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, &stubHandler{}, &stubClaims{}, logger.Nop(), nil)
	require.Error(t, err)
	_, err = NewService(&stubReceiver{}, nil, &stubClaims{}, logger.Nop(), nil)
	require.Error(t, err)
	_, err = NewService(&stubReceiver{}, &stubHandler{}, nil, logger.Nop(), nil)
	require.Error(t, err)
	_, err = NewService(&stubReceiver{}, &stubHandler{}, &stubClaims{}, nil, nil)
	require.Error(t, err)
}

func settlementAttributes(ref string) map[string]string {
	return map[string]string{
		"event_type":     string(enums.EventSettlementCompleted),
		"aggregate_type": string(enums.AggregateSettlement),
		"aggregate_ref":  ref,
	}
}

func buildSettlementMessage(t *testing.T) *gcppubsub.Message {
	t.Helper()
	return buildMessage(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"reference":"TXN-42"}`),
	}, settlementAttributes("TXN-42"))
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: attrs}
}

func newTestService(t *testing.T, handler Handler, claims *stubClaims) *Service {
	t.Helper()
	svc, err := NewService(&stubReceiver{}, handler, claims, logger.Nop(), nil)
	require.NoError(t, err)
	return svc
}

type stubReceiver struct {
	err error
}

func (r *stubReceiver) Receive(context.Context, func(context.Context, *gcppubsub.Message)) error {
	return r.err
}

type stubHandler struct {
	called   bool
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(_ context.Context, envelope types.Envelope) error {
	h.called = true
	h.envelope = envelope
	return h.err
}

type stubClaims struct {
	duplicate bool
	checkErr    error
	checked     []uuid.UUID
	deleted     []uuid.UUID
}

func (s *stubClaims) Claim(_ context.Context, eventID uuid.UUID) (bool, error) {
	s.checked = append(s.checked, eventID)
	return !s.duplicate, s.checkErr
}

func (s *stubClaims) Release(_ context.Context, eventID uuid.UUID) error {
	s.deleted = append(s.deleted, eventID)
	return nil
}
