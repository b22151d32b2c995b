package models

import "time"

// Cart is a user's basket. At most one cart per user is active; settlement
// deactivates it rather than deleting it.
type Cart struct {
	ID        int64      `gorm:"column:id;primaryKey;autoIncrement"`
	UserID    int64      `gorm:"column:user_id;not null;uniqueIndex:ux_carts_user_active,where:is_active = true"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true"`
	Lines     []CartLine `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
