package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/smartpay-pos/smartpay-backend/api/responses"
	"github.com/smartpay-pos/smartpay-backend/api/validators"
	"github.com/smartpay-pos/smartpay-backend/internal/settlement"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/logger"
)

type settler interface {
	Settle(ctx context.Context, userID int64) (*settlement.Result, error)
}

// Checkout settles the user's active cart against their wallet. The
// settlement runs under its own deadline so a slow store cannot hold row
// locks past timeout.
func Checkout(svc settler, timeout time.Duration, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement engine unavailable"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		result, err := svc.Settle(ctx, payload.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, checkoutResponse{
			Reference:  result.Reference,
			Status:     result.Status,
			Amount:     result.Amount.StringFixed(2),
			NewBalance: result.NewBalance.StringFixed(2),
			Currency:   result.Currency,
			ItemCount:  result.ItemCount,
			Timestamp:  result.Timestamp,
		})
	}
}

type checkoutRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type checkoutResponse struct {
	Reference  string    `json:"reference"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	NewBalance string    `json:"new_balance"`
	Currency   string    `json:"currency"`
	ItemCount  int       `json:"item_count"`
	Timestamp  time.Time `json:"timestamp"`
}
