package products

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository wires together the product persistence helpers.
type Repository struct {
	repo.Base
}

// NewRepository builds a repository tied to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{Base: r.Base.WithTx(tx)}
}

// ListFilter narrows product listings.
type ListFilter struct {
	CategoryID *uint64
}

// List returns up to limit+1 products below the cursor, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.Product, error) {
	q := r.DB(ctx).Model(&models.Product{})
	if filter.CategoryID != nil {
		q = q.Where("category_id = ?", *filter.CategoryID)
	}
	var rows []models.Product
	if err := repo.Keyset(q, cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByID loads the product without associations.
func (r *Repository) FindByID(ctx context.Context, id uint64) (*models.Product, error) {
	var product models.Product
	if err := r.DB(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDsForUpdate returns the products matching ids ordered by id. On postgres the rows
// are locked FOR UPDATE so concurrent orders queue in a deterministic lock order; sqlite
// relies on its single writer lock instead. Unknown ids are dropped.
func (r *Repository) FindByIDsForUpdate(ctx context.Context, ids []uint64) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := r.DB(ctx).Where("id IN ?", ids).Order("id ASC")
	if !db.IsSQLite(q) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []models.Product
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// DecrementStock subtracts qty only while enough stock remains and returns the affected rows.
func (r *Repository) DecrementStock(ctx context.Context, id uint64, qty int) (int64, error) {
	res := r.DB(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	return res.RowsAffected, res.Error
}

func (r *Repository) Create(ctx context.Context, product *models.Product) error {
	return r.DB(ctx).Create(product).Error
}

// Update applies the column changes and returns the number of matched rows.
func (r *Repository) Update(ctx context.Context, id uint64, changes map[string]any) (int64, error) {
	res := r.DB(ctx).Model(&models.Product{}).Where("id = ?", id).Updates(changes)
	return res.RowsAffected, res.Error
}

func (r *Repository) Delete(ctx context.Context, id uint64) (int64, error) {
	res := r.DB(ctx).Delete(&models.Product{}, "id = ?", id)
	return res.RowsAffected, res.Error
}
