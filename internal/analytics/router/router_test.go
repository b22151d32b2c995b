package router

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{}, nil)
	err := r.Handle(context.Background(), types.Envelope{
		EventType: enums.OutboxEventType("wallet_topped_up"),
		Payload:   []byte(`{}`),
	})
	require.ErrorIs(t, err, ErrUnsupportedEventType)
}

func TestRouterRejectsEmptyAndMalformedPayload(t *testing.T) {
	r := newTestRouter(t, &fakeWriter{}, nil)
	err := r.Handle(context.Background(), types.Envelope{EventType: enums.EventSettlementCompleted})
	require.ErrorIs(t, err, ErrMalformedPayload)

	err = r.Handle(context.Background(), types.Envelope{EventType: enums.EventSettlementCompleted, Payload: []byte(`{"reference":`)})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestRouterRejectsOverrideForUnroutedEvent(t *testing.T) {
	_, err := NewRouter(&fakeWriter{}, logger.Nop(), map[enums.OutboxEventType]Handler{
		enums.OutboxEventType("wallet_topped_up"): &stubHandler{},
	})
	require.Error(t, err)
}

func TestRouterUsesOverride(t *testing.T) {
	handler := &stubHandler{}
	r := newTestRouter(t, &fakeWriter{}, map[enums.OutboxEventType]Handler{
		enums.EventSettlementCompleted: handler,
	})
	err := r.Handle(context.Background(), types.Envelope{
		EventType: enums.EventSettlementCompleted,
		Payload:   []byte(`{"reference":"TXN-1"}`),
	})
	require.NoError(t, err)
	require.True(t, handler.called)
	event, ok := handler.payload.(*payloads.SettlementCompletedEvent)
	require.True(t, ok)
	require.Equal(t, "TXN-1", event.Reference)
}

func TestSettlementCompletedWritesFactAndLines(t *testing.T) {
	w := &fakeWriter{}
	r := newTestRouter(t, w, nil)

	settledAt := time.Date(2026, 9, 14, 10, 30, 0, 0, time.UTC)
	event := payloads.SettlementCompletedEvent{
		Reference:    "TXN-0192",
		UserID:       7,
		CartID:       11,
		TotalAmount:  "60.00",
		BalanceAfter: "40.00",
		Currency:     "INR",
		ItemCount:    2,
		Lines: []payloads.SettlementLineItem{
			{ProductID: 3, Name: "Oat Milk", Quantity: 2, UnitPrice: "30.00", Subtotal: "60.00"},
		},
		SettledAt: settledAt,
	}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	err = r.Handle(context.Background(), types.Envelope{
		EventID:       "evt-1",
		EventType:     enums.EventSettlementCompleted,
		AggregateType: enums.AggregateSettlement,
		AggregateRef:  "TXN-0192",
		Payload:       data,
	})
	require.NoError(t, err)
	require.Len(t, w.facts, 1)

	fact := w.facts[0]
	require.Equal(t, "evt-1", fact.EventID)
	require.Equal(t, "TXN-0192", fact.Reference)
	require.Equal(t, int64(7), fact.UserID)
	require.Equal(t, 0, fact.TotalAmount.Cmp(big.NewRat(60, 1)))
	require.Equal(t, 0, fact.BalanceAfter.Cmp(big.NewRat(40, 1)))
	require.True(t, settledAt.Equal(fact.SettledAt))
	require.True(t, fact.Payload.Valid)

	require.Len(t, w.lines, 1)
	line := w.lines[0]
	require.Equal(t, int64(1), line.LineNo)
	require.Equal(t, int64(3), line.ProductID)
	require.Equal(t, int64(2), line.Quantity)
	require.Equal(t, 0, line.UnitPrice.Cmp(big.NewRat(30, 1)))
	require.Equal(t, "TXN-0192", line.Reference)
}

func TestSettlementCompletedRejectsBadAmount(t *testing.T) {
	w := &fakeWriter{}
	r := newTestRouter(t, w, nil)
	err := r.Handle(context.Background(), types.Envelope{
		EventType: enums.EventSettlementCompleted,
		Payload:   []byte(`{"reference":"TXN-1","total_amount":"sixty","balance_after":"1.00"}`),
	})
	require.Error(t, err)
	require.Empty(t, w.facts)
}

func TestSettlementCompletedWriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("bigquery down")}
	r := newTestRouter(t, w, nil)
	err := r.Handle(context.Background(), types.Envelope{
		EventType:    enums.EventSettlementCompleted,
		AggregateRef: "TXN-9",
		Payload:      []byte(`{"total_amount":"1.00","balance_after":"0.00"}`),
	})
	require.EqualError(t, err, "bigquery down")
}

func newTestRouter(t *testing.T, w Writer, overrides map[enums.OutboxEventType]Handler) *Router {
	t.Helper()
	r, err := NewRouter(w, logger.Nop(), overrides)
	require.NoError(t, err)
	return r
}

type fakeWriter struct {
	facts []types.SettlementFactRow
	lines []types.SettlementLineFactRow
	err   error
}

func (f *fakeWriter) InsertSettlement(_ context.Context, fact types.SettlementFactRow, lines []types.SettlementLineFactRow) error {
	if f.err != nil {
		return f.err
	}
	f.facts = append(f.facts, fact)
	f.lines = append(f.lines, lines...)
	return nil
}

type stubHandler struct {
	called  bool
	payload any
}

func (h *stubHandler) Handle(_ context.Context, _ types.Envelope, payload any) error {
	h.called = true
	h.payload = payload
	return nil
}
