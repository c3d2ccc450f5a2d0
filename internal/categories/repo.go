package categories

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository persists catalog categories.
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

// List returns up to limit+1 categories below the cursor, newest first.
func (r *Repository) List(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Category, error) {
	var rows []models.Category
	if err := repo.Keyset(r.DB(ctx).Model(&models.Category{}), cursor, limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) FindByID(ctx context.Context, id uint64) (*models.Category, error) {
	var category models.Category
	if err := r.DB(ctx).First(&category, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &category, nil
}

// Exists reports whether a category with id is stored.
func (r *Repository) Exists(ctx context.Context, id uint64) (bool, error) {
	var count int64
	if err := r.DB(ctx).Model(&models.Category{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *Repository) Create(ctx context.Context, category *models.Category) error {
	return r.DB(ctx).Create(category).Error
}

// Update applies the column changes and returns the number of matched rows.
func (r *Repository) Update(ctx context.Context, id uint64, changes map[string]any) (int64, error) {
	res := r.DB(ctx).Model(&models.Category{}).Where("id = ?", id).Updates(changes)
	return res.RowsAffected, res.Error
}

// Delete removes the category; products cascade through the foreign key.
func (r *Repository) Delete(ctx context.Context, id uint64) (int64, error) {
	res := r.DB(ctx).Delete(&models.Category{}, "id = ?", id)
	return res.RowsAffected, res.Error
}
