package cart

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/smartpay-pos/smartpay-backend/internal/repo"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

var (
	// ErrNoActiveCart is returned when the user has no active cart.
	ErrNoActiveCart = errors.New("no active cart")
	// ErrLineNotFound is returned when a line does not belong to the cart.
	ErrLineNotFound = errors.New("cart line not found")
)

// Repository exposes persistence operations for carts and their lines.
type Repository struct {
	repo.Base
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(conn)}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{Base: r.Base.WithTx(tx)}
}

// FindActiveByUserID loads the active cart with its lines and products.
func (r *Repository) FindActiveByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.DB(ctx).
		Preload("Lines", func(q *gorm.DB) *gorm.DB { return q.Order("cart_lines.id ASC") }).
		Preload("Lines.Product").
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCart
		}
		return nil, err
	}
	return &cart, nil
}

// LockActiveByUserID row-locks the user's active cart without loading lines.
// Settlement and cart mutations take this lock first so they serialize per
// user; a waiter re-checks is_active once the holder commits.
func (r *Repository) LockActiveByUserID(ctx context.Context, userID int64) (*models.Cart, error) {
	var cart models.Cart
	err := r.ForUpdate(ctx).
		Where("user_id = ? AND is_active = ?", userID, true).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveCart
		}
		return nil, err
	}
	return &cart, nil
}

// GetOrCreateActive returns the user's active cart, creating it lazily. A
// concurrent creator loses on the partial unique index and re-reads.
func (r *Repository) GetOrCreateActive(ctx context.Context, userID int64) (*models.Cart, error) {
	cart, err := r.LockActiveByUserID(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, ErrNoActiveCart) {
		return nil, err
	}

	cart = &models.Cart{UserID: userID, IsActive: true}
	res := r.DB(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(cart)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return r.LockActiveByUserID(ctx, userID)
	}
	return cart, nil
}

// FindLine loads a line restricted to the cart.
func (r *Repository) FindLine(ctx context.Context, cartID, lineID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := r.DB(ctx).
		Preload("Product").
		Where("id = ? AND cart_id = ?", lineID, cartID).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}
	return &line, nil
}

// FindLineByProduct loads the cart's line for a product.
func (r *Repository) FindLineByProduct(ctx context.Context, cartID, productID int64) (*models.CartLine, error) {
	var line models.CartLine
	err := r.DB(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLineNotFound
		}
		return nil, err
	}
	return &line, nil
}

// SaveLine recomputes the subtotal and inserts or updates the line.
func (r *Repository) SaveLine(ctx context.Context, line *models.CartLine) error {
	line.Recompute()
	if line.ID == 0 {
		return r.DB(ctx).Omit("Product").Create(line).Error
	}
	return r.DB(ctx).
		Model(&models.CartLine{}).
		Where("id = ?", line.ID).
		Updates(map[string]any{
			"quantity":   line.Quantity,
			"subtotal":   line.Subtotal,
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteLine removes one line; false means it was not in the cart.
func (r *Repository) DeleteLine(ctx context.Context, cartID, lineID int64) (bool, error) {
	res := r.DB(ctx).Where("id = ? AND cart_id = ?", lineID, cartID).Delete(&models.CartLine{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteLines clears every line of the cart.
func (r *Repository) DeleteLines(ctx context.Context, cartID int64) (int64, error) {
	res := r.DB(ctx).Where("cart_id = ?", cartID).Delete(&models.CartLine{})
	return res.RowsAffected, res.Error
}

// Deactivate flips the cart inactive only if it is still active. Exactly one
// caller can win this update for a given cart.
func (r *Repository) Deactivate(ctx context.Context, cartID int64) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND is_active = ?", cartID, true).
		Updates(map[string]any{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
