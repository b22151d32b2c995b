package products

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/repo"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

// ErrNotFound is returned when a product or tag does not resolve.
var ErrNotFound = errors.New("product not found")

// Repository exposes product reads, stock locking and RFID tag resolution.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id int64) (*models.Product, error)
	LockByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	DecrementStock(ctx context.Context, product *models.Product, qty int) (bool, error)
	ResolveTags(ctx context.Context, tags []string) (map[string]*models.Product, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

// FindByID loads a single product.
func (r *repository) FindByID(ctx context.Context, id int64) (*models.Product, error) {
	return repo.First[models.Product](r.DB(ctx), ErrNotFound, "id = ?", id)
}

// LockByIDs row-locks the requested products in ascending id order so that
// concurrent settlements touching overlapping products cannot deadlock.
// Missing ids are absent from the returned map.
func (r *repository) LockByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	sorted := uniqueSorted(ids)
	out := make(map[int64]*models.Product, len(sorted))
	if len(sorted) == 0 {
		return out, nil
	}
	var rows []models.Product
	if err := r.ForUpdate(ctx).
		Where("id IN ?", sorted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].ID] = &rows[i]
	}
	return out, nil
}

// DecrementStock removes qty units if the row still holds at least qty. It
// reports false when the guard rejects the update.
func (r *repository) DecrementStock(ctx context.Context, product *models.Product, qty int) (bool, error) {
	if qty <= 0 {
		return false, errors.New("quantity must be positive")
	}
	now := time.Now().UTC()
	res := r.DB(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock_quantity >= ?", product.ID, qty).
		Updates(map[string]any{
			"stock_quantity": gorm.Expr("stock_quantity - ?", qty),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected != 1 {
		return false, nil
	}
	product.StockQuantity -= qty
	product.Version++
	product.UpdatedAt = now
	return true, nil
}

// ResolveTags maps active RFID tags to their active products. Unknown or
// inactive tags are absent from the result.
func (r *repository) ResolveTags(ctx context.Context, tags []string) (map[string]*models.Product, error) {
	clean := make([]string, 0, len(tags))
	for _, tag := range tags {
		if t := strings.TrimSpace(tag); t != "" {
			clean = append(clean, t)
		}
	}
	out := make(map[string]*models.Product, len(clean))
	if len(clean) == 0 {
		return out, nil
	}
	var rows []models.RFIDTag
	if err := r.DB(ctx).
		Preload("Product").
		Where("tag IN ? AND is_active = ?", clean, true).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		if rows[i].Product == nil || !rows[i].Product.IsActive {
			continue
		}
		out[rows[i].Tag] = rows[i].Product
	}
	return out, nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
