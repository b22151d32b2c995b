package controllers

import (
	"net/http"

	"github.com/smartpay-pos/smartpay-backend/api/responses"
	"github.com/smartpay-pos/smartpay-backend/api/validators"
	"github.com/smartpay-pos/smartpay-backend/internal/cart"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

// CartGet returns the user's active cart lines.
func CartGet(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := svc.GetCart(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartResponse(snap))
	}
}

// CartTotals returns subtotal, tax and total for the active cart.
func CartTotals(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		totals, err := svc.Totals(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartTotalsResponse{
			Subtotal:  totals.Subtotal.StringFixed(2),
			Discount:  totals.Discount.StringFixed(2),
			Tax:       totals.Tax.StringFixed(2),
			Total:     totals.Total.StringFixed(2),
			LineCount: totals.LineCount,
			ItemCount: totals.ItemCount,
		})
	}
}

// CartUpdateLine sets the quantity of one cart line.
func CartUpdateLine(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, lineID, err := cartLinePath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload updateLineRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		line, err := svc.UpdateQuantity(r.Context(), userID, lineID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newCartLineResponse(*line))
	}
}

// CartRemoveLine deletes one cart line.
func CartRemoveLine(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, lineID, err := cartLinePath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.RemoveLine(r.Context(), userID, lineID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// CartClear abandons the user's active basket.
func CartClear(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
			return
		}
		userID, err := validators.ParsePathID(r, "userId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cleared, err := svc.ClearCart(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, cartClearResponse{
			UserID:       userID,
			CartID:       cleared.CartID,
			RemovedLines: cleared.RemovedLines,
		})
	}
}

func cartLinePath(r *http.Request) (int64, int64, error) {
	userID, err := validators.ParsePathID(r, "userId")
	if err != nil {
		return 0, 0, err
	}
	lineID, err := validators.ParsePathID(r, "lineId")
	if err != nil {
		return 0, 0, err
	}
	return userID, lineID, nil
}

type updateLineRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=999"`
}

type cartResponse struct {
	CartID    int64              `json:"cart_id,omitempty"`
	UserID    int64              `json:"user_id"`
	Lines     []cartLineResponse `json:"lines"`
	Total     string             `json:"total"`
	ItemCount int                `json:"item_count"`
}

type cartLineResponse struct {
	LineID    int64  `json:"line_id"`
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Brand     string `json:"brand"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	Subtotal  string `json:"subtotal"`
}

type cartClearResponse struct {
	UserID       int64 `json:"user_id"`
	CartID       int64 `json:"cart_id,omitempty"`
	RemovedLines int64 `json:"removed_lines"`
}

type cartTotalsResponse struct {
	Subtotal  string `json:"subtotal"`
	Discount  string `json:"discount"`
	Tax       string `json:"tax"`
	Total     string `json:"total"`
	LineCount int    `json:"line_count"`
	ItemCount int    `json:"item_count"`
}

func newCartResponse(snap *cart.Snapshot) cartResponse {
	lines := make([]cartLineResponse, 0, len(snap.Lines))
	for _, line := range snap.Lines {
		lines = append(lines, newCartLineResponse(line))
	}
	return cartResponse{
		CartID:    snap.CartID,
		UserID:    snap.UserID,
		Lines:     lines,
		Total:     snap.Total().StringFixed(2),
		ItemCount: snap.ItemCount(),
	}
}

func newCartLineResponse(line cart.SnapshotLine) cartLineResponse {
	return cartLineResponse{
		LineID:    line.LineID,
		ProductID: line.ProductID,
		Name:      line.Name,
		Brand:     line.Brand,
		Quantity:  line.Quantity,
		UnitPrice: line.UnitPrice.StringFixed(2),
		Subtotal:  line.Subtotal.StringFixed(2),
	}
}
