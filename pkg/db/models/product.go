package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a sellable catalog entry. Stock never drops below zero.
type Product struct {
	ID          uint64          `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string          `gorm:"column:name;type:varchar(255);not null"`
	Description string          `gorm:"column:description;type:text;not null;default:''"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null;check:chk_products_price_non_negative,price >= 0"`
	Stock       int             `gorm:"column:stock;not null;default:0;check:chk_products_stock_non_negative,stock >= 0"`
	CategoryID  uint64          `gorm:"column:category_id;not null;index"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
