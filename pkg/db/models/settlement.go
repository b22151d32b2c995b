package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

// Settlement is the immutable ledger record of a completed checkout.
type Settlement struct {
	ID            int64                  `gorm:"column:id;primaryKey;autoIncrement"`
	Reference     string                 `gorm:"column:reference;not null;uniqueIndex:ux_settlements_reference"`
	UserID        int64                  `gorm:"column:user_id;not null;index"`
	CartID        int64                  `gorm:"column:cart_id;not null"`
	TotalAmount   decimal.Decimal        `gorm:"column:total_amount;type:numeric(12,2);not null"`
	BalanceBefore decimal.Decimal        `gorm:"column:balance_before;type:numeric(12,2);not null"`
	BalanceAfter  decimal.Decimal        `gorm:"column:balance_after;type:numeric(12,2);not null"`
	ItemCount     int                    `gorm:"column:item_count;not null"`
	PaymentMethod enums.PaymentMethod    `gorm:"column:payment_method;type:varchar(16);not null"`
	Status        enums.SettlementStatus `gorm:"column:status;type:varchar(16);not null"`
	Lines         []SettlementLine       `gorm:"foreignKey:SettlementID"`
	CreatedAt     time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// SettlementLine snapshots one purchased product at settlement time.
type SettlementLine struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	SettlementID int64           `gorm:"column:settlement_id;not null;index"`
	ProductID    int64           `gorm:"column:product_id;not null"`
	ProductName  string          `gorm:"column:product_name;not null"`
	ProductBrand string          `gorm:"column:product_brand;not null;default:''"`
	Quantity     int             `gorm:"column:quantity;not null"`
	UnitPrice    decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Subtotal     decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
}
