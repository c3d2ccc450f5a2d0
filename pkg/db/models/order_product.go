package models

import "github.com/shopspring/decimal"

// OrderProduct links an order to a product with the quantity and unit price captured at purchase.
type OrderProduct struct {
	OrderID   uint64          `gorm:"column:order_id;primaryKey"`
	ProductID uint64          `gorm:"column:product_id;primaryKey;index"`
	Product   *Product        `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	Quantity  int             `gorm:"column:quantity;not null;check:chk_order_products_quantity_positive,quantity > 0"`
	UnitPrice decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
}

func (OrderProduct) TableName() string {
	return "order_products"
}

// LineTotal is UnitPrice multiplied by Quantity.
func (op OrderProduct) LineTotal() decimal.Decimal {
	return op.UnitPrice.Mul(decimal.NewFromInt(int64(op.Quantity)))
}
