package orders

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository persists orders and their product rows.
type Repository struct {
	repo.Base
}

// NewRepository builds an orders repository bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.WithTx(tx)}
}

// SetLockTimeout bounds row lock waits for the rest of the current postgres transaction.
// It is a no-op on sqlite.
func (r *Repository) SetLockTimeout(ctx context.Context, timeout time.Duration) error {
	conn := r.DB(ctx)
	if timeout <= 0 || db.IsSQLite(conn) {
		return nil
	}
	return conn.Exec(lockTimeoutStatement(timeout)).Error
}

// lockTimeoutStatement rounds up to whole milliseconds; postgres reads 0 as no timeout.
func lockTimeoutStatement(timeout time.Duration) string {
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", int64(max(ms, 1)))
}

// CreateOrder inserts the order header only.
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.DB(ctx).Omit(clause.Associations).Create(order).Error
}

// CreateOrderProducts inserts the order's product rows.
func (r *Repository) CreateOrderProducts(ctx context.Context, rows []models.OrderProduct) error {
	if len(rows) == 0 {
		return nil
	}
	return r.DB(ctx).Omit(clause.Associations).Create(&rows).Error
}

// FindByID loads the order with its items.
func (r *Repository) FindByID(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.DB(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("product_id ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// List returns up to limit+1 orders below the cursor, newest first, with items.
func (r *Repository) List(ctx context.Context, userID *uint64, cursor *pagination.Cursor, limit int) ([]models.Order, error) {
	q := r.DB(ctx).Model(&models.Order{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("product_id ASC") })
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var rows []models.Order
	if err := repo.Keyset(q, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
