package orders

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// PlaceOrderInput is the only accepted order creation contract. Totals are always computed server-side.
type PlaceOrderInput struct {
	UserID     uint64
	ProductIDs []uint64
}

// ListOrdersInput filters and pages order listings.
type ListOrdersInput struct {
	UserID *uint64
	pagination.Params
}

// OrderDTO is the order payload returned to clients.
type OrderDTO struct {
	ID          uint64         `json:"id"`
	UserID      uint64         `json:"user_id"`
	TotalAmount string         `json:"total_amount"`
	Products    []uint64       `json:"products"`
	Items       []OrderItemDTO `json:"items"`
	CreatedAt   time.Time      `json:"created_at"`
}

// OrderItemDTO is one purchased product with its price snapshot.
type OrderItemDTO struct {
	ProductID uint64 `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
	LineTotal string `json:"line_total"`
}

// ListResult carries one page of orders.
type ListResult struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

func FromModel(o *models.Order) *OrderDTO {
	if o == nil {
		return nil
	}
	dto := &OrderDTO{
		ID:          o.ID,
		UserID:      o.UserID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Products:    o.ProductIDs(),
		Items:       make([]OrderItemDTO, 0, len(o.Items)),
		CreatedAt:   o.CreatedAt,
	}
	for _, item := range o.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			LineTotal: item.LineTotal().StringFixed(2),
		})
	}
	return dto
}
