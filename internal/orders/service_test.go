package orders

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

var testOrdersConfig = config.OrdersConfig{
	MaxAttempts: 3,
	RetryBase:   time.Millisecond,
	RetryMax:    4 * time.Millisecond,
	LockTimeout: time.Second,
}

type harness struct {
	conn     *gorm.DB
	svc      Service
	reg      *prometheus.Registry
	user     models.User
	category models.Category
}

type harnessOption func(*ServiceParams)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})

	user := models.User{Username: "testuser", PasswordHash: "x"}
	require.NoError(t, conn.Create(&user).Error)
	category := models.Category{Name: "Electronics", Description: "Electronic devices"}
	require.NoError(t, conn.Create(&category).Error)

	reg := prometheus.NewRegistry()
	params := ServiceParams{
		Repo:     NewRepository(conn),
		Products: products.NewRepository(conn),
		Users:    users.NewRepository(conn),
		Tx:       db.Wrap(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Config:   testOrdersConfig,
		Metrics:  metrics.NewOrderMetrics(reg),
		Logger:   logg,
	}
	for _, opt := range opts {
		opt(&params)
	}
	svc, err := NewService(params)
	require.NoError(t, err)
	return &harness{conn: conn, svc: svc, reg: reg, user: user, category: category}
}

func (h *harness) product(t *testing.T, name, price string, stock int) models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, CategoryID: h.category.ID}
	require.NoError(t, h.conn.Create(&p).Error)
	return p
}

func (h *harness) stockOf(t *testing.T, id uint64) int {
	t.Helper()
	var p models.Product
	require.NoError(t, h.conn.First(&p, "id = ?", id).Error)
	return p.Stock
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(model).Count(&n).Error)
	return n
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	mfs, err := h.reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestPlaceOrderHappyPath(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 10)

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	assert.Equal(t, "699.99", order.TotalAmount)
	assert.Equal(t, h.user.ID, order.UserID)
	assert.Equal(t, []uint64{phone.ID}, order.Products)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 1, order.Items[0].Quantity)
	assert.Equal(t, "699.99", order.Items[0].UnitPrice)
	assert.Equal(t, 9, h.stockOf(t, phone.ID))

	events, err := outbox.NewRepository(h.conn).FindByAggregate(strconv.FormatUint(order.ID, 10))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, enums.AggregateOrder, events[0].AggregateType)
	assert.Nil(t, events[0].PublishedAt)

	assert.Equal(t, 1.0, h.counter(t, "storefront_orders_placed_total"))
}

func TestPlaceOrderMultipleProducts(t *testing.T) {
	h := newHarness(t)
	headphones := h.product(t, "Headphones", "199.99", 5)
	keyboard := h.product(t, "Keyboard", "99.99", 10)

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{headphones.ID, keyboard.ID}})
	require.NoError(t, err)
	assert.Equal(t, "299.98", order.TotalAmount)
	assert.ElementsMatch(t, []uint64{headphones.ID, keyboard.ID}, order.Products)
	assert.Equal(t, 4, h.stockOf(t, headphones.ID))
	assert.Equal(t, 9, h.stockOf(t, keyboard.ID))
}

func TestPlaceOrderOutOfStock(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 0)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock), "got %v", err)
	typed := pkgerrors.As(err)
	assert.Equal(t, "Product Smartphone is out of stock", typed.Message())
	details := typed.Details().(map[string]any)
	assert.Equal(t, phone.ID, details["product_id"])
	assert.Equal(t, 1, details["requested"])
	assert.Equal(t, 0, details["available"])

	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Zero(t, h.count(t, &models.OutboxEvent{}))
	assert.Equal(t, 1.0, h.counter(t, "storefront_orders_rejected_total"))
}

func TestPlaceOrderIsAllOrNothing(t *testing.T) {
	h := newHarness(t)
	inStock := h.product(t, "Headphones", "199.99", 5)
	soldOut := h.product(t, "Keyboard", "99.99", 0)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{inStock.ID, soldOut.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock))
	assert.Equal(t, 5, h.stockOf(t, inStock.ID))
	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Zero(t, h.count(t, &models.OrderProduct{}))
}

func TestPlaceOrderInvalidProductIDs(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{999, 1000}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "invalid product identifiers", pkgerrors.As(err).Message())
	assert.Zero(t, h.count(t, &models.Order{}))
}

func TestPlaceOrderDropsUnknownIDs(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 2)

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID, 999}})
	require.NoError(t, err)
	assert.Equal(t, []uint64{phone.ID}, order.Products)
	assert.Equal(t, "699.99", order.TotalAmount)
}

func TestPlaceOrderUnknownUser(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 10)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: 999, ProductIDs: []uint64{phone.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	assert.Equal(t, "user 999 not found", pkgerrors.As(err).Message())
	assert.Equal(t, 10, h.stockOf(t, phone.ID))
	assert.Zero(t, h.count(t, &models.Order{}))
}

func TestPlaceOrderInputValidation(t *testing.T) {
	h := newHarness(t)

	cases := map[string]PlaceOrderInput{
		"missing user":  {ProductIDs: []uint64{1}},
		"empty list":    {UserID: h.user.ID},
		"zero product":  {UserID: h.user.ID, ProductIDs: []uint64{1, 0}},
		"nil products":  {UserID: h.user.ID, ProductIDs: nil},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.svc.PlaceOrder(context.Background(), input)
			require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestPlaceOrderFoldsDuplicateIDs(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "10.50", 2)

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID, phone.ID}})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, "21.00", order.TotalAmount)
	assert.Equal(t, "21.00", order.Items[0].LineTotal)
	assert.Equal(t, 0, h.stockOf(t, phone.ID))

	restocked := h.product(t, "Tablet", "5.00", 2)
	_, err = h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{restocked.ID, restocked.ID, restocked.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock))
	assert.Equal(t, 3, pkgerrors.As(err).Details().(map[string]any)["requested"])
	assert.Equal(t, 2, h.stockOf(t, restocked.ID))
}

func TestPlaceOrderSnapshotsPrice(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 10)

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	require.NoError(t, h.conn.Model(&models.Product{}).Where("id = ?", phone.ID).Update("price", decimal.RequireFromString("1.00")).Error)

	got, err := h.svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "699.99", got.TotalAmount)
	assert.Equal(t, "699.99", got.Items[0].UnitPrice)
}

func TestPlaceOrderRejectsTotalAboveColumnLimit(t *testing.T) {
	h := newHarness(t)
	priciest := h.product(t, "Server rack", products.MaxPrice, 5)
	extra := h.product(t, "Cable", "0.01", 5)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{priciest.ID, priciest.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)
	assert.Equal(t, "order total exceeds maximum", pkgerrors.As(err).Message())

	_, err = h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{priciest.ID, extra.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "got %v", err)

	assert.Equal(t, 5, h.stockOf(t, priciest.ID))
	assert.Zero(t, h.count(t, &models.Order{}))
	assert.Equal(t, 2.0, h.counter(t, "storefront_orders_rejected_total"))

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{priciest.ID}})
	require.NoError(t, err)
	assert.Equal(t, products.MaxPrice, order.TotalAmount)
}

func TestPlaceOrderDoesNotRereadCommittedOrder(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 10)
	require.NoError(t, h.conn.Callback().Query().Before("gorm:query").Register("fail_order_reads", func(tx *gorm.DB) {
		if tx.Statement.Table == "orders" {
			_ = tx.AddError(errors.New("orders read unavailable"))
		}
	}))

	order, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, "699.99", order.TotalAmount)
	assert.Equal(t, []uint64{phone.ID}, order.Products)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "699.99", order.Items[0].LineTotal)
	assert.False(t, order.CreatedAt.IsZero())
	assert.Equal(t, 9, h.stockOf(t, phone.ID))
	assert.Equal(t, 1.0, h.counter(t, "storefront_orders_placed_total"))
}

func TestPlaceOrderConcurrentLastUnit(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 1)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, failures, workers-1)
	for _, err := range failures {
		ok := pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock) || pkgerrors.HasCode(err, pkgerrors.CodeConflict)
		assert.True(t, ok, "unexpected failure %v", err)
	}
	assert.Equal(t, 0, h.stockOf(t, phone.ID))
	assert.EqualValues(t, 1, h.count(t, &models.Order{}))
}

// flakyTx fails the first failures calls with a lock error before delegating.
type flakyTx struct {
	next     txRunner
	failures int
	calls    int
	err      error
}

func (f *flakyTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return f.next.WithTx(ctx, fn)
}

func TestPlaceOrderRetriesConflicts(t *testing.T) {
	var flaky *flakyTx
	h := newHarness(t, func(p *ServiceParams) {
		flaky = &flakyTx{next: p.Tx, failures: 2, err: errors.New("database is locked")}
		p.Tx = flaky
	})
	phone := h.product(t, "Smartphone", "699.99", 10)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 2.0, h.counter(t, "storefront_order_retries_total"))
	assert.Equal(t, 9, h.stockOf(t, phone.ID))
}

func TestPlaceOrderGivesUpAfterMaxAttempts(t *testing.T) {
	var flaky *flakyTx
	h := newHarness(t, func(p *ServiceParams) {
		flaky = &flakyTx{next: p.Tx, failures: 100, err: errors.New("database is locked")}
		p.Tx = flaky
	})
	phone := h.product(t, "Smartphone", "699.99", 10)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict), "got %v", err)
	assert.Equal(t, testOrdersConfig.MaxAttempts, flaky.calls)
	assert.True(t, pkgerrors.MetadataFor(pkgerrors.CodeConflict).Retryable)
}

func TestPlaceOrderDoesNotRetryBusinessErrors(t *testing.T) {
	var flaky *flakyTx
	h := newHarness(t, func(p *ServiceParams) {
		flaky = &flakyTx{next: p.Tx}
		p.Tx = flaky
	})
	phone := h.product(t, "Smartphone", "699.99", 0)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeOutOfStock))
	assert.Equal(t, 1, flaky.calls)
}

type failingEmitter struct{}

func (failingEmitter) Emit(context.Context, *gorm.DB, outbox.DomainEvent) error {
	return errors.New("outbox unavailable")
}

func TestPlaceOrderRollsBackWhenOutboxFails(t *testing.T) {
	h := newHarness(t, func(p *ServiceParams) { p.Outbox = failingEmitter{} })
	phone := h.product(t, "Smartphone", "699.99", 10)

	_, err := h.svc.PlaceOrder(context.Background(), PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 10, h.stockOf(t, phone.ID))
	assert.Zero(t, h.count(t, &models.Order{}))
}

func TestListAndGetOrders(t *testing.T) {
	h := newHarness(t)
	phone := h.product(t, "Smartphone", "699.99", 10)
	other := models.User{Username: "second", PasswordHash: "x"}
	require.NoError(t, h.conn.Create(&other).Error)

	ctx := context.Background()
	first, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	_, err = h.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: other.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)
	third, err := h.svc.PlaceOrder(ctx, PlaceOrderInput{UserID: h.user.ID, ProductIDs: []uint64{phone.ID}})
	require.NoError(t, err)

	page, err := h.svc.ListOrders(ctx, ListOrdersInput{UserID: &h.user.ID, Params: pagination.Params{Limit: 1}})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, third.ID, page.Orders[0].ID)
	require.NotEmpty(t, page.NextCursor)

	next, err := h.svc.ListOrders(ctx, ListOrdersInput{UserID: &h.user.ID, Params: pagination.Params{Limit: 1, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, next.Orders, 1)
	assert.Equal(t, first.ID, next.Orders[0].ID)
	assert.Empty(t, next.NextCursor)
	assert.Len(t, next.Orders[0].Items, 1)

	all, err := h.svc.ListOrders(ctx, ListOrdersInput{})
	require.NoError(t, err)
	assert.Len(t, all.Orders, 3)

	got, err := h.svc.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "699.99", got.TotalAmount)

	_, err = h.svc.GetOrder(ctx, 4242)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRetryDelayStaysWithinWindow(t *testing.T) {
	base, limit := 20*time.Millisecond, 100*time.Millisecond
	for attempt := 1; attempt <= 6; attempt++ {
		window := base << (attempt - 1)
		if window > limit {
			window = limit
		}
		for i := 0; i < 20; i++ {
			d := retryDelay(attempt, base, limit)
			if d < window/2 || d > window {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, window/2, window)
			}
		}
	}
	if d := retryDelay(1, 0, limit); d != 0 {
		t.Fatalf("expected zero delay without base, got %v", d)
	}
}
