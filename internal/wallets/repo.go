package wallets

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/repo"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

// ErrNotFound is returned when a user has no wallet row.
var ErrNotFound = errors.New("wallet not found")

// Repository manages wallet balances.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
	LockByUserID(ctx context.Context, userID int64) (*models.Wallet, error)
	Debit(ctx context.Context, wallet *models.Wallet, amount decimal.Decimal) (bool, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) FindByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	return r.find(r.DB(ctx), userID)
}

// LockByUserID reads the wallet with a row lock held until the surrounding
// transaction ends.
func (r *repository) LockByUserID(ctx context.Context, userID int64) (*models.Wallet, error) {
	return r.find(r.ForUpdate(ctx), userID)
}

func (r *repository) find(q *gorm.DB, userID int64) (*models.Wallet, error) {
	return repo.First[models.Wallet](q, ErrNotFound, "user_id = ?", userID)
}

// Debit subtracts amount from the wallet if the row is unchanged since it was
// read and still covers the amount. It reports false when the guard rejects
// the update. On success the passed wallet reflects the new state.
func (r *repository) Debit(ctx context.Context, wallet *models.Wallet, amount decimal.Decimal) (bool, error) {
	next := wallet.Balance.Sub(amount)
	if next.IsNegative() {
		return false, nil
	}
	now := time.Now().UTC()
	res := r.DB(ctx).
		Model(&models.Wallet{}).
		Where("id = ? AND version = ? AND balance >= ?", wallet.ID, wallet.Version, amount).
		Updates(map[string]any{
			"balance":    next,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	wallet.Balance = next
	wallet.Version++
	wallet.UpdatedAt = now
	return true, nil
}
