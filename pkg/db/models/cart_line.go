package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine is one product in a cart. UnitPrice is captured when the product is
// first added and Subtotal is always Quantity x UnitPrice.
type CartLine struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	CartID    int64           `gorm:"column:cart_id;not null;uniqueIndex:ux_cart_lines_cart_product"`
	ProductID int64           `gorm:"column:product_id;not null;uniqueIndex:ux_cart_lines_cart_product"`
	Quantity  int             `gorm:"column:quantity;not null"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Subtotal  decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Product   *Product        `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Recompute derives the subtotal from quantity and the captured unit price.
func (l *CartLine) Recompute() {
	l.Subtotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
