package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Base provides a shared foundation for domain repositories.
type Base struct {
	db *gorm.DB
}

// NewBase constructs a Base repository backed by the provided GORM connection.
func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB returns the GORM connection bound to the supplied context (if any).
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.db
	}
	return b.db.WithContext(ctx)
}

// WithTx returns a Base bound to tx.
func (b Base) WithTx(tx *gorm.DB) Base {
	return Base{db: tx}
}

// Keyset orders q by id descending and applies the cursor and buffered limit.
func Keyset(q *gorm.DB, cursor *pagination.Cursor, limit int) *gorm.DB {
	if cursor != nil {
		q = q.Where("id < ?", cursor.ID)
	}
	return q.Order("id DESC").Limit(pagination.LimitWithBuffer(limit))
}
