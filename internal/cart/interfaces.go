package cart

import (
	"context"

	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

// CartRepository defines the persistence surface required by the cart service
// and the settlement engine.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindActiveByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	LockActiveByUserID(ctx context.Context, userID int64) (*models.Cart, error)
	GetOrCreateActive(ctx context.Context, userID int64) (*models.Cart, error)
	FindLine(ctx context.Context, cartID, lineID int64) (*models.CartLine, error)
	FindLineByProduct(ctx context.Context, cartID, productID int64) (*models.CartLine, error)
	SaveLine(ctx context.Context, line *models.CartLine) error
	DeleteLine(ctx context.Context, cartID, lineID int64) (bool, error)
	DeleteLines(ctx context.Context, cartID int64) (int64, error)
	Deactivate(ctx context.Context, cartID int64) (bool, error)
}
