package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
	"github.com/smartpay-pos/smartpay-backend/pkg/pagination"
)

// Service answers audit queries over settlement records.
type Service interface {
	Get(ctx context.Context, reference string) (*models.Settlement, error)
	ListForUser(ctx context.Context, userID int64, params pagination.Params) (*Page, error)
}

// Page is one newest-first slice of a user's settlement history.
type Page struct {
	Items      []models.Settlement
	NextCursor string
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Get(ctx context.Context, reference string) (*models.Settlement, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	settlement, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	return settlement, nil
}

func (s *service) ListForUser(ctx context.Context, userID int64, params pagination.Params) (*Page, error) {
	if userID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive")
	}
	beforeID, err := pagination.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.ListByUserID(ctx, userID, beforeID, pagination.FetchLimit(params.Limit))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}

	page := &Page{}
	page.Items, page.NextCursor = pagination.Trim(rows, params.Limit, func(row models.Settlement) int64 { return row.ID })
	return page, nil
}
