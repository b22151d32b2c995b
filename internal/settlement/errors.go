package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/smartpay-pos/smartpay-backend/pkg/db"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
)

var (
	// ErrEmptyCart means there is no active cart or it has no lines. A cart
	// that was already settled reports this too.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientFunds means the wallet balance does not cover the total.
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
)

// InsufficientStockError names the product whose stock cannot cover the
// requested quantity at settlement time.
type InsufficientStockError struct {
	ProductID   int64
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ProductName, e.Requested, e.Available)
}

func emptyCartError() error {
	return pkgerrors.Wrap(pkgerrors.CodeEmptyCart, ErrEmptyCart, "cart is empty")
}

func insufficientFundsError(required decimal.Decimal) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, ErrInsufficientFunds, "insufficient wallet balance").
		WithDetails(map[string]any{"required": required.StringFixed(2)})
}

func insufficientStockError(e *InsufficientStockError) error {
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, e, "insufficient stock for "+e.ProductName).
		WithDetails(map[string]any{
			"product_id":   e.ProductID,
			"product_name": e.ProductName,
			"requested":    e.Requested,
			"available":    e.Available,
		})
}

// integrityError reports data that should never exist, such as a user without
// a wallet. The cause is kept for logs; callers only see an internal error.
func integrityError(cause error) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "settlement integrity violation")
}

// classify maps anything that is not already typed onto the infrastructure
// codes. Transient store failures and timeouts are retryable by the caller.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || db.IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settlement store unavailable")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settlement failed")
}
