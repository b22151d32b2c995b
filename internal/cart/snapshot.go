package cart

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Snapshot is the priced view of an active cart at read time.
type Snapshot struct {
	CartID int64
	UserID int64
	Lines  []SnapshotLine
}

// SnapshotLine is one cart line with the product details copied in.
type SnapshotLine struct {
	LineID    int64
	ProductID int64
	Name      string
	Brand     string
	Quantity  int
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Total sums the line subtotals.
func (s *Snapshot) Total() decimal.Decimal {
	total := decimal.Zero
	if s == nil {
		return total
	}
	for _, line := range s.Lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// ItemCount sums line quantities.
func (s *Snapshot) ItemCount() int {
	if s == nil {
		return 0
	}
	count := 0
	for _, line := range s.Lines {
		count += line.Quantity
	}
	return count
}

// IsEmpty reports whether there is nothing to settle.
func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// Reader resolves a user's active cart into a Snapshot.
type Reader struct {
	repo CartRepository
}

// NewReader builds a snapshot reader over the cart repository.
func NewReader(repo CartRepository) *Reader {
	return &Reader{repo: repo}
}

// WithTx binds the reader to a transaction.
func (r *Reader) WithTx(tx *gorm.DB) *Reader {
	return &Reader{repo: r.repo.WithTx(tx)}
}

// LoadActiveCart returns the user's active cart lines ordered by line id, or
// nil when the user has no active cart.
func (r *Reader) LoadActiveCart(ctx context.Context, userID int64) (*Snapshot, error) {
	cart, err := r.repo.FindActiveByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveCart) {
			return nil, nil
		}
		return nil, err
	}

	snap := &Snapshot{CartID: cart.ID, UserID: cart.UserID, Lines: make([]SnapshotLine, 0, len(cart.Lines))}
	for _, line := range cart.Lines {
		item := SnapshotLine{
			LineID:    line.ID,
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))),
		}
		if line.Product != nil {
			item.Name = line.Product.Name
			item.Brand = line.Product.Brand
		}
		snap.Lines = append(snap.Lines, item)
	}
	return snap, nil
}
