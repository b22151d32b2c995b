package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/repo"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

// ErrNotFound is returned when no settlement matches the reference.
var ErrNotFound = errors.New("settlement not found")

// Repository manages the append-only settlement ledger. There is no update or
// delete path.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, settlement *models.Settlement) error
	FindByReference(ctx context.Context, reference string) (*models.Settlement, error)
	ListByUserID(ctx context.Context, userID int64, beforeID int64, limit int) ([]models.Settlement, error)
	ListCreatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]models.Settlement, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Base.WithTx(tx)}
}

// Create inserts the settlement and its lines together.
func (r *repository) Create(ctx context.Context, settlement *models.Settlement) error {
	return r.DB(ctx).Create(settlement).Error
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Settlement, error) {
	q := r.DB(ctx).Preload("Lines", func(q *gorm.DB) *gorm.DB { return q.Order("settlement_lines.id ASC") })
	return repo.First[models.Settlement](q, ErrNotFound, "reference = ?", reference)
}

// ListByUserID returns newest-first settlements with id below beforeID (0
// means from the top).
func (r *repository) ListByUserID(ctx context.Context, userID int64, beforeID int64, limit int) ([]models.Settlement, error) {
	q := r.DB(ctx).
		Preload("Lines", func(q *gorm.DB) *gorm.DB { return q.Order("settlement_lines.id ASC") }).
		Where("user_id = ?", userID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var rows []models.Settlement
	if err := q.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCreatedSince pages forward by id through settlements created at or
// after since. Used by the ledger audit.
func (r *repository) ListCreatedSince(ctx context.Context, since time.Time, afterID int64, limit int) ([]models.Settlement, error) {
	var rows []models.Settlement
	err := r.DB(ctx).
		Preload("Lines").
		Where("created_at >= ?", since).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
