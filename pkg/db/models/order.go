package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is an immutable purchase record. TotalAmount is the sum of its item snapshots.
type Order struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      uint64          `gorm:"column:user_id;not null;index"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Items       []OrderProduct  `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// ProductIDs returns the distinct product ids referenced by the order.
func (o Order) ProductIDs() []uint64 {
	ids := make([]uint64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}
