package categories

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// MaxNameLength bounds category names.
const MaxNameLength = 255

const entityName = "category"

// Service exposes category management operations.
type Service interface {
	List(ctx context.Context, params pagination.Params) (*ListResult, error)
	Create(ctx context.Context, input CreateInput) (*CategoryDTO, error)
	Get(ctx context.Context, id uint64) (*CategoryDTO, error)
	Update(ctx context.Context, id uint64, input UpdateInput) (*CategoryDTO, error)
	Delete(ctx context.Context, id uint64) error
}

type CreateInput struct {
	Name        string
	Description string
}

// UpdateInput holds optional changes; nil fields are left untouched.
type UpdateInput struct {
	Name        *string
	Description *string
}

type service struct {
	repo *Repository
}

// NewService constructs a category service instance.
func NewService(repo *Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("category repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]string{"cursor": "is invalid"})
	}
	rows, err := s.repo.List(ctx, cursor, params.Limit)
	if err != nil {
		return nil, repo.Translate(err, entityName, 0)
	}
	page, next := pagination.Page(rows, params.Limit, func(c models.Category) uint64 { return c.ID })

	result := &ListResult{Categories: make([]CategoryDTO, 0, len(page)), NextCursor: next}
	for i := range page {
		result.Categories = append(result.Categories, *FromModel(&page[i]))
	}
	return result, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*CategoryDTO, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return nil, err
	}
	category := &models.Category{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.repo.Create(ctx, category); err != nil {
		return nil, repo.Translate(err, entityName, 0)
	}
	return FromModel(category), nil
}

func (s *service) Get(ctx context.Context, id uint64) (*CategoryDTO, error) {
	category, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repo.Translate(err, entityName, id)
	}
	return FromModel(category), nil
}

func (s *service) Update(ctx context.Context, id uint64, input UpdateInput) (*CategoryDTO, error) {
	changes := map[string]any{}
	if input.Name != nil {
		name, err := validateName(*input.Name)
		if err != nil {
			return nil, err
		}
		changes["name"] = name
	}
	if input.Description != nil {
		changes["description"] = strings.TrimSpace(*input.Description)
	}
	if len(changes) == 0 {
		return s.Get(ctx, id)
	}
	changes["updated_at"] = time.Now().UTC()

	affected, err := s.repo.Update(ctx, id, changes)
	if err != nil {
		return nil, repo.Translate(err, entityName, id)
	}
	if affected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("category %d not found", id))
	}
	return s.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uint64) error {
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return repo.Translate(err, entityName, id)
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("category %d not found", id))
	}
	return nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is required").WithDetails(map[string]string{"name": "is required"})
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "name is too long").WithDetails(map[string]string{"name": fmt.Sprintf("must be at most %d", MaxNameLength)})
	}
	return name, nil
}
