package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/smartpay-pos/smartpay-backend/api/responses"
	"github.com/smartpay-pos/smartpay-backend/api/validators"
	"github.com/smartpay-pos/smartpay-backend/internal/ledger"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
	"github.com/smartpay-pos/smartpay-backend/pkg/pagination"
)

const maxReferenceLen = 64

// UserSettlements lists a user's settlements, newest first.
func UserSettlements(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		userID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListForUser(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		items := make([]settlementResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, newSettlementResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, settlementPageResponse{Items: items, NextCursor: page.NextCursor})
	}
}

// SettlementByReference returns one settlement with its lines.
func SettlementByReference(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}
		reference, err := validators.PathParam(r, "reference", maxReferenceLen)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Get(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSettlementResponse(record))
	}
}

type settlementPageResponse struct {
	Items      []settlementResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type settlementResponse struct {
	Reference     string                   `json:"reference"`
	UserID        int64                    `json:"user_id"`
	CartID        int64                    `json:"cart_id"`
	TotalAmount   string                   `json:"total_amount"`
	BalanceBefore string                   `json:"balance_before"`
	BalanceAfter  string                   `json:"balance_after"`
	ItemCount     int                      `json:"item_count"`
	PaymentMethod string                   `json:"payment_method"`
	Status        string                   `json:"status"`
	CreatedAt     time.Time                `json:"created_at"`
	Lines         []settlementLineResponse `json:"lines"`
}

type settlementLineResponse struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

func newSettlementResponse(s *models.Settlement) settlementResponse {
	lines := make([]settlementLineResponse, 0, len(s.Lines))
	for _, line := range s.Lines {
		lines = append(lines, settlementLineResponse{
			ProductID: line.ProductID,
			Name:      line.ProductName,
			Brand:     line.ProductBrand,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice.StringFixed(2),
			Subtotal:  line.Subtotal.StringFixed(2),
		})
	}
	return settlementResponse{
		Reference:     s.Reference,
		UserID:        s.UserID,
		CartID:        s.CartID,
		TotalAmount:   s.TotalAmount.StringFixed(2),
		BalanceBefore: s.BalanceBefore.StringFixed(2),
		BalanceAfter:  s.BalanceAfter.StringFixed(2),
		ItemCount:     s.ItemCount,
		PaymentMethod: string(s.PaymentMethod),
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
		Lines:         lines,
	}
}
