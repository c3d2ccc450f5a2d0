package payloads

import "github.com/shopspring/decimal"

// OrderCreatedEvent announces a committed order with its price snapshot.
type OrderCreatedEvent struct {
	OrderID     uint64             `json:"orderId"`
	UserID      uint64             `json:"userId"`
	TotalAmount decimal.Decimal    `json:"totalAmount"`
	Items       []OrderCreatedItem `json:"items"`
}

// OrderCreatedItem is one line of an OrderCreatedEvent.
type OrderCreatedItem struct {
	ProductID uint64          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}
