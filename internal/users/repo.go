package users

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/repo"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
)

// ErrNotFound is returned when no user matches the id.
var ErrNotFound = errors.New("user not found")

// Repository exposes the user reads checkout and notifications need.
type Repository struct {
	repo.Base
}

// NewRepository constructs a users repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.WithTx(tx)}
}

// FindByID loads a user by id.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return repo.First[models.User](r.DB(ctx), ErrNotFound, "id = ?", id)
}
