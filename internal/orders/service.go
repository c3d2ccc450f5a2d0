package orders

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Service exposes order placement and order reads.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*OrderDTO, error)
	ListOrders(ctx context.Context, input ListOrdersInput) (*ListResult, error)
	GetOrder(ctx context.Context, id uint64) (*OrderDTO, error)
}

// ServiceParams wires the order service dependencies.
type ServiceParams struct {
	Repo     *Repository
	Products *products.Repository
	Users    *users.Repository
	Tx       txRunner
	Outbox   outboxEmitter
	Config   config.OrdersConfig
	Metrics  *metrics.OrderMetrics
	Logger   *logger.Logger
}

type service struct {
	repo     *Repository
	products *products.Repository
	users    *users.Repository
	tx       txRunner
	outbox   outboxEmitter
	cfg      config.OrdersConfig
	metrics  *metrics.OrderMetrics
	logg     *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if params.Users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		products: params.Products,
		users:    params.Users,
		tx:       params.Tx,
		outbox:   params.Outbox,
		cfg:      params.Config,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// maxOrderTotal matches the NUMERIC(12,2) total_amount column.
var maxOrderTotal = decimal.RequireFromString(products.MaxPrice)

// lineRequest is one distinct product id with the number of times it was requested.
type lineRequest struct {
	productID uint64
	quantity  int
}

// PlaceOrder validates stock, prices the order, persists it with its product rows,
// decrements stock and queues the order_created event, all in one transaction.
// Storage conflicts retry the whole transaction.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*OrderDTO, error) {
	started := time.Now()
	ctx = s.logg.WithUserID(ctx, input.UserID)

	lines, err := validatePlaceOrder(input)
	if err != nil {
		return nil, s.reject(ctx, started, err)
	}

	var order *models.Order
	attempts, err := s.retryConflicts(ctx, func(int) error {
		placed, err := s.placeOnce(ctx, input.UserID, lines)
		if err != nil {
			return err
		}
		order = placed
		return nil
	})
	if err != nil {
		return nil, s.reject(ctx, started, err)
	}

	s.metrics.IncPlaced()
	s.metrics.ObserveDuration("placed", time.Since(started))
	placedCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID), map[string]any{
		"total_amount": order.TotalAmount.StringFixed(2),
		"items":        len(order.Items),
		"attempts":     attempts,
	})
	s.logg.Info(placedCtx, "order.placed")
	return FromModel(order), nil
}

// placeOnce returns the order as written in the committed transaction.
func (s *service) placeOnce(ctx context.Context, userID uint64, lines []lineRequest) (*models.Order, error) {
	var placed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ordersRepo := s.repo.WithTx(tx)
		catalog := s.products.WithTx(tx)

		if err := ordersRepo.SetLockTimeout(ctx, s.cfg.LockTimeout); err != nil {
			return repo.Translate(err, "order", 0)
		}
		if _, err := s.users.WithTx(tx).FindByID(ctx, userID); err != nil {
			return repo.Translate(err, "user", userID)
		}

		requested := make(map[uint64]int, len(lines))
		ids := make([]uint64, 0, len(lines))
		for _, line := range lines {
			requested[line.productID] = line.quantity
			ids = append(ids, line.productID)
		}

		found, err := catalog.FindByIDsForUpdate(ctx, ids)
		if err != nil {
			return repo.Translate(err, "product", 0)
		}
		if len(found) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid product identifiers").
				WithDetails(map[string]string{"product_ids": "no matching products"})
		}

		total := decimal.Zero
		items := make([]models.OrderProduct, 0, len(found))
		for _, product := range found {
			qty := requested[product.ID]
			if product.Stock < qty {
				return outOfStock(product, qty)
			}
			item := models.OrderProduct{ProductID: product.ID, Quantity: qty, UnitPrice: product.Price}
			total = total.Add(item.LineTotal())
			items = append(items, item)
		}
		if total.GreaterThan(maxOrderTotal) {
			return pkgerrors.New(pkgerrors.CodeValidation, "order total exceeds maximum").
				WithDetails(map[string]string{"total_amount": "must not exceed " + products.MaxPrice})
		}

		order := &models.Order{UserID: userID, TotalAmount: total}
		if err := ordersRepo.CreateOrder(ctx, order); err != nil {
			return repo.Translate(err, "order", 0)
		}
		for i := range items {
			items[i].OrderID = order.ID
		}
		if err := ordersRepo.CreateOrderProducts(ctx, items); err != nil {
			return repo.Translate(err, "order", order.ID)
		}

		for _, item := range items {
			affected, err := catalog.DecrementStock(ctx, item.ProductID, item.Quantity)
			if err != nil {
				return repo.Translate(err, "product", item.ProductID)
			}
			if affected > 0 {
				continue
			}
			current, err := catalog.FindByID(ctx, item.ProductID)
			if err != nil {
				return repo.Translate(err, "product", item.ProductID)
			}
			if current.Stock < item.Quantity {
				return outOfStock(*current, item.Quantity)
			}
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("stock for product %d changed concurrently", item.ProductID))
		}

		order.Items = items
		if err := s.outbox.Emit(ctx, tx, orderCreatedEvent(order)); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order_created event")
		}
		placed = order
		return nil
	})
	if err != nil {
		return nil, repo.Translate(err, "order", 0)
	}
	return placed, nil
}

func (s *service) reject(ctx context.Context, started time.Time, err error) error {
	reason := string(pkgerrors.CodeInternal)
	if typed := pkgerrors.As(err); typed != nil {
		reason = string(typed.Code())
	}
	reason = strings.ToLower(reason)
	s.metrics.IncRejected(reason)
	s.metrics.ObserveDuration("rejected", time.Since(started))

	rejectedCtx := s.logg.WithFields(ctx, map[string]any{
		"reason": reason,
		"error":  err.Error(),
	})
	s.logg.Warn(rejectedCtx, "order.rejected")
	return err
}

func (s *service) ListOrders(ctx context.Context, input ListOrdersInput) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]string{"cursor": "is invalid"})
	}
	rows, err := s.repo.List(ctx, input.UserID, cursor, input.Limit)
	if err != nil {
		return nil, repo.Translate(err, "order", 0)
	}
	page, next := pagination.Page(rows, input.Limit, func(o models.Order) uint64 { return o.ID })

	result := &ListResult{Orders: make([]OrderDTO, 0, len(page)), NextCursor: next}
	for i := range page {
		result.Orders = append(result.Orders, *FromModel(&page[i]))
	}
	return result, nil
}

func (s *service) GetOrder(ctx context.Context, id uint64) (*OrderDTO, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repo.Translate(err, "order", id)
	}
	return FromModel(order), nil
}

// validatePlaceOrder checks the input and folds duplicate ids into quantities,
// keeping first-seen order.
func validatePlaceOrder(input PlaceOrderInput) ([]lineRequest, error) {
	if input.UserID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id is required").
			WithDetails(map[string]string{"user_id": "is required"})
	}
	if len(input.ProductIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_ids must not be empty").
			WithDetails(map[string]string{"product_ids": "must not be empty"})
	}

	index := make(map[uint64]int, len(input.ProductIDs))
	lines := make([]lineRequest, 0, len(input.ProductIDs))
	for _, id := range input.ProductIDs {
		if id == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid product identifiers").
				WithDetails(map[string]string{"product_ids": "must contain positive identifiers"})
		}
		if pos, ok := index[id]; ok {
			lines[pos].quantity++
			continue
		}
		index[id] = len(lines)
		lines = append(lines, lineRequest{productID: id, quantity: 1})
	}
	return lines, nil
}

func outOfStock(product models.Product, requested int) error {
	return pkgerrors.New(pkgerrors.CodeOutOfStock, fmt.Sprintf("Product %s is out of stock", product.Name)).
		WithDetails(map[string]any{
			"product_id":   product.ID,
			"product_name": product.Name,
			"requested":    requested,
			"available":    product.Stock,
		})
}

func orderCreatedEvent(order *models.Order) outbox.DomainEvent {
	items := make([]payloads.OrderCreatedItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, payloads.OrderCreatedItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   strconv.FormatUint(order.ID, 10),
		Actor:         &outbox.ActorRef{UserID: order.UserID},
		Data: payloads.OrderCreatedEvent{
			OrderID:     order.ID,
			UserID:      order.UserID,
			TotalAmount: order.TotalAmount,
			Items:       items,
		},
	}
}
