package categories

import (
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// CategoryDTO is the catalog category payload returned to clients.
type CategoryDTO struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListResult carries one page of categories.
type ListResult struct {
	Categories []CategoryDTO `json:"categories"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func FromModel(c *models.Category) *CategoryDTO {
	if c == nil {
		return nil
	}
	return &CategoryDTO{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}
