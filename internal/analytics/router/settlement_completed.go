package router

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartpay-pos/smartpay-backend/internal/analytics/types"
	"github.com/smartpay-pos/smartpay-backend/internal/analytics/writer"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/outbox/payloads"
)

type settlementCompletedHandler struct {
	writer Writer
	logg   *logger.Logger
	now    func() time.Time
}

func newSettlementCompletedHandler(w Writer, logg *logger.Logger, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}
	return &settlementCompletedHandler{writer: w, logg: logg, now: now}
}

func (h *settlementCompletedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.SettlementCompletedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"reference":  event.Reference,
		"user_id":    event.UserID,
		"line_count": len(event.Lines),
	})

	fact, lines, err := buildSettlementRows(envelope, event, h.now().UTC())
	if err != nil {
		h.logg.Error(logCtx, "failed to build settlement rows", err)
		return err
	}
	if err := h.writer.InsertSettlement(logCtx, fact, lines); err != nil {
		h.logg.Error(logCtx, "failed to insert settlement rows", err)
		return err
	}

	h.logg.Info(logCtx, "settlement facts inserted")
	return nil
}

func buildSettlementRows(envelope types.Envelope, event *payloads.SettlementCompletedEvent, ingestedAt time.Time) (types.SettlementFactRow, []types.SettlementLineFactRow, error) {
	reference := strings.TrimSpace(event.Reference)
	if reference == "" {
		reference = envelope.AggregateRef
	}
	if reference == "" {
		return types.SettlementFactRow{}, nil, fmt.Errorf("settlement reference missing")
	}

	total, err := parseAmount("total_amount", event.TotalAmount)
	if err != nil {
		return types.SettlementFactRow{}, nil, err
	}
	balanceAfter, err := parseAmount("balance_after", event.BalanceAfter)
	if err != nil {
		return types.SettlementFactRow{}, nil, err
	}

	settledAt := event.SettledAt.UTC()
	if event.SettledAt.IsZero() {
		settledAt = envelope.OccurredAt.UTC()
	}

	payloadJSON, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.SettlementFactRow{}, nil, err
	}

	fact := types.SettlementFactRow{
		EventID:      envelope.EventID,
		Reference:    reference,
		UserID:       event.UserID,
		CartID:       event.CartID,
		TotalAmount:  total,
		BalanceAfter: balanceAfter,
		Currency:     event.Currency,
		ItemCount:    int64(event.ItemCount),
		SettledAt:    settledAt,
		IngestedAt:   ingestedAt,
		Payload:      payloadJSON,
	}

	lines := make([]types.SettlementLineFactRow, 0, len(event.Lines))
	for i, line := range event.Lines {
		unitPrice, err := parseAmount("unit_price", line.UnitPrice)
		if err != nil {
			return types.SettlementFactRow{}, nil, err
		}
		subtotal, err := parseAmount("subtotal", line.Subtotal)
		if err != nil {
			return types.SettlementFactRow{}, nil, err
		}
		lines = append(lines, types.SettlementLineFactRow{
			EventID:     envelope.EventID,
			Reference:   reference,
			LineNo:      int64(i + 1),
			ProductID:   line.ProductID,
			ProductName: line.Name,
			Quantity:    int64(line.Quantity),
			UnitPrice:   unitPrice,
			Subtotal:    subtotal,
			SettledAt:   settledAt,
		})
	}
	return fact, lines, nil
}

func parseAmount(field, raw string) (*big.Rat, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s %q: %w", field, raw, err)
	}
	return d.Rat(), nil
}
