package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/smartpay-pos/smartpay-backend/pkg/enums"
)

// Wallet holds a user's spendable balance. Balance is only debited by
// settlement and never goes negative.
type Wallet struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64           `gorm:"column:user_id;not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(12,2);not null;default:0"`
	Currency  enums.Currency  `gorm:"column:currency;type:varchar(3);not null;default:'INR'"`
	Version   int64           `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
