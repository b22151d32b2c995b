package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/smartpay-pos/smartpay-backend/internal/products"
	"github.com/smartpay-pos/smartpay-backend/internal/users"
	"github.com/smartpay-pos/smartpay-backend/pkg/db/models"
	pkgerrors "github.com/smartpay-pos/smartpay-backend/pkg/errors"
)

// maxTagsPerScan bounds one reader burst.
const maxTagsPerScan = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type userLoader interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
}

type tagResolver interface {
	ResolveTags(ctx context.Context, tags []string) (map[string]*models.Product, error)
}

// Service exposes cart reads and mutations used by lanes and the cart API.
type Service interface {
	GetCart(ctx context.Context, userID int64) (*Snapshot, error)
	Totals(ctx context.Context, userID int64) (*Totals, error)
	AddScannedTags(ctx context.Context, userID int64, tags []string) (*AddResult, error)
	UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*SnapshotLine, error)
	RemoveLine(ctx context.Context, userID, lineID int64) error
	ClearCart(ctx context.Context, userID int64) (*ClearResult, error)
}

// ClearResult describes an abandoned basket. A zero CartID means the user had
// no active cart.
type ClearResult struct {
	CartID       int64
	RemovedLines int64
}

// Totals is the cart summary. Listed prices are tax-inclusive so Tax is
// always zero and Total equals Subtotal.
type Totals struct {
	Subtotal  decimal.Decimal
	Discount  decimal.Decimal
	Tax       decimal.Decimal
	Total     decimal.Decimal
	LineCount int
	ItemCount int
}

// AddResult reports which scanned tags landed in the cart.
type AddResult struct {
	CartID      int64
	Added       []string
	UnknownTags []string
}

type service struct {
	repo  CartRepository
	tx    txRunner
	users userLoader
	tags  tagResolver
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, users userLoader, tags tagResolver) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if users == nil {
		return nil, fmt.Errorf("user loader required")
	}
	if tags == nil {
		return nil, fmt.Errorf("tag resolver required")
	}
	return &service{repo: repo, tx: tx, users: users, tags: tags}, nil
}

// GetCart returns the active cart snapshot; a user without an active cart gets
// an empty snapshot.
func (s *service) GetCart(ctx context.Context, userID int64) (*Snapshot, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	snap, err := NewReader(s.repo).LoadActiveCart(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if snap == nil {
		snap = &Snapshot{UserID: userID, Lines: []SnapshotLine{}}
	}
	return snap, nil
}

func (s *service) Totals(ctx context.Context, userID int64) (*Totals, error) {
	snap, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	subtotal := snap.Total()
	return &Totals{
		Subtotal:  subtotal,
		Discount:  decimal.Zero,
		Tax:       decimal.Zero,
		Total:     subtotal,
		LineCount: len(snap.Lines),
		ItemCount: snap.ItemCount(),
	}, nil
}

// AddScannedTags resolves RFID tags and adds one unit per distinct tag to the
// user's active cart. New lines capture the current product price; existing
// lines keep the price captured when they were first added.
func (s *service) AddScannedTags(ctx context.Context, userID int64, tags []string) (*AddResult, error) {
	distinct := normalizeTags(tags)
	if len(distinct) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one tag is required")
	}
	if len(distinct) > maxTagsPerScan {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("at most %d tags per scan", maxTagsPerScan))
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}

	resolved, err := s.tags.ResolveTags(ctx, distinct)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve tags")
	}

	result := &AddResult{Added: []string{}, UnknownTags: []string{}}
	for _, tag := range distinct {
		if _, ok := resolved[tag]; ok {
			result.Added = append(result.Added, tag)
		} else {
			result.UnknownTags = append(result.UnknownTags, tag)
		}
	}
	if len(result.Added) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no product found for scanned tags").
			WithDetails(map[string]any{"unknown_tags": result.UnknownTags})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.GetOrCreateActive(ctx, userID)
		if err != nil {
			return err
		}
		result.CartID = cart.ID
		for _, tag := range result.Added {
			if err := addUnit(ctx, repo, cart.ID, resolved[tag]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add scanned items")
	}
	return result, nil
}

func addUnit(ctx context.Context, repo CartRepository, cartID int64, product *models.Product) error {
	line, err := repo.FindLineByProduct(ctx, cartID, product.ID)
	switch {
	case errors.Is(err, ErrLineNotFound):
		line = &models.CartLine{
			CartID:    cartID,
			ProductID: product.ID,
			Quantity:  1,
			UnitPrice: product.Price,
		}
	case err != nil:
		return err
	default:
		line.Quantity++
	}
	return repo.SaveLine(ctx, line)
}

// UpdateQuantity sets a line's quantity and recomputes its subtotal from the
// captured unit price.
func (s *service) UpdateQuantity(ctx context.Context, userID, lineID int64, quantity int) (*SnapshotLine, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	var out *SnapshotLine
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		line, err := s.lineForUser(ctx, repo, userID, lineID)
		if err != nil {
			return err
		}
		line.Quantity = quantity
		if err := repo.SaveLine(ctx, line); err != nil {
			return err
		}
		out = &SnapshotLine{
			LineID:    line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		}
		if line.Product != nil {
			out.Name = line.Product.Name
			out.Brand = line.Product.Brand
		}
		return nil
	})
	if err != nil {
		return nil, mapCartError(err, "update cart line")
	}
	return out, nil
}

// RemoveLine deletes a line from the user's active cart.
func (s *service) RemoveLine(ctx context.Context, userID, lineID int64) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.LockActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		deleted, err := repo.DeleteLine(ctx, cart.ID, lineID)
		if err != nil {
			return err
		}
		if !deleted {
			return ErrLineNotFound
		}
		return nil
	})
	if err != nil {
		return mapCartError(err, "remove cart line")
	}
	return nil
}

// ClearCart abandons the user's basket: lines are deleted and the cart goes
// inactive. It takes the same cart lock as settlement, so a clear racing a
// checkout either runs first (checkout then sees no cart) or finds nothing.
func (s *service) ClearCart(ctx context.Context, userID int64) (*ClearResult, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return nil, err
	}
	out := &ClearResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cart, err := repo.LockActiveByUserID(ctx, userID)
		if errors.Is(err, ErrNoActiveCart) {
			return nil
		}
		if err != nil {
			return err
		}
		removed, err := repo.DeleteLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		if _, err := repo.Deactivate(ctx, cart.ID); err != nil {
			return err
		}
		out.CartID = cart.ID
		out.RemovedLines = removed
		return nil
	})
	if err != nil {
		return nil, mapCartError(err, "clear cart")
	}
	return out, nil
}

func (s *service) lineForUser(ctx context.Context, repo CartRepository, userID, lineID int64) (*models.CartLine, error) {
	cart, err := repo.LockActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return repo.FindLine(ctx, cart.ID, lineID)
}

func (s *service) ensureUser(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id must be positive")
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return nil
}

func mapCartError(err error, op string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	switch {
	case errors.Is(err, ErrNoActiveCart):
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active cart")
	case errors.Is(err, ErrLineNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart line not found")
	case errors.Is(err, products.ErrNotFound):
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		t := strings.TrimSpace(tag)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
