package models

import "time"

// RFIDTag maps a physical tag to the product it is attached to.
type RFIDTag struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Tag       string    `gorm:"column:tag;not null;uniqueIndex"`
	ProductID int64     `gorm:"column:product_id;not null;index"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	Product   *Product  `gorm:"foreignKey:ProductID"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (RFIDTag) TableName() string { return "rfid_tags" }
