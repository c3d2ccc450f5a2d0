package products

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/repo"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	// MaxNameLength bounds product names.
	MaxNameLength = 255
	// MaxPrice is the largest value a NUMERIC(12,2) column holds.
	MaxPrice = "9999999999.99"
)

const entityName = "product"

var maxPrice = decimal.RequireFromString(MaxPrice)

// Service exposes catalog product management operations.
type Service interface {
	List(ctx context.Context, input ListInput) (*ListResult, error)
	Create(ctx context.Context, input CreateInput) (*ProductDTO, error)
	Get(ctx context.Context, id uint64) (*ProductDTO, error)
	Update(ctx context.Context, id uint64, input UpdateInput) (*ProductDTO, error)
	Delete(ctx context.Context, id uint64) error
}

type ListInput struct {
	CategoryID *uint64
	pagination.Params
}

// CreateInput holds the payload to create a product.
type CreateInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
	CategoryID  uint64
}

// UpdateInput holds optional mutation values for a product.
type UpdateInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	CategoryID  *uint64
}

type categoryChecker interface {
	Exists(ctx context.Context, id uint64) (bool, error)
}

type service struct {
	repo       *Repository
	categories categoryChecker
}

// NewService constructs a product service instance.
func NewService(repo *Repository, categories categoryChecker) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if categories == nil {
		return nil, fmt.Errorf("category repository required")
	}
	return &service{repo: repo, categories: categories}, nil
}

func (s *service) List(ctx context.Context, input ListInput) (*ListResult, error) {
	cursor, err := pagination.ParseCursor(input.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor").WithDetails(map[string]string{"cursor": "is invalid"})
	}
	rows, err := s.repo.List(ctx, ListFilter{CategoryID: input.CategoryID}, cursor, input.Limit)
	if err != nil {
		return nil, repo.Translate(err, entityName, 0)
	}
	page, next := pagination.Page(rows, input.Limit, func(p models.Product) uint64 { return p.ID })

	result := &ListResult{Products: make([]ProductDTO, 0, len(page)), NextCursor: next}
	for i := range page {
		result.Products = append(result.Products, *FromModel(&page[i]))
	}
	return result, nil
}

// Create validates the payload and stores the product under an existing category.
func (s *service) Create(ctx context.Context, input CreateInput) (*ProductDTO, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return nil, err
	}
	if err := validatePrice(input.Price); err != nil {
		return nil, err
	}
	if err := validateStock(input.Stock); err != nil {
		return nil, err
	}
	if err := s.ensureCategory(ctx, input.CategoryID); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Price:       input.Price.Round(2),
		Stock:       input.Stock,
		CategoryID:  input.CategoryID,
	}
	if err := s.repo.Create(ctx, product); err != nil {
		return nil, repo.Translate(err, entityName, 0)
	}
	return FromModel(product), nil
}

func (s *service) Get(ctx context.Context, id uint64) (*ProductDTO, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, repo.Translate(err, entityName, id)
	}
	return FromModel(product), nil
}

// Update applies the provided fields with the same rules as Create.
func (s *service) Update(ctx context.Context, id uint64, input UpdateInput) (*ProductDTO, error) {
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
	if input.Price != nil {
		if err := validatePrice(*input.Price); err != nil {
			return nil, err
		}
		changes["price"] = input.Price.Round(2)
	}
	if input.Stock != nil {
		if err := validateStock(*input.Stock); err != nil {
			return nil, err
		}
		changes["stock"] = *input.Stock
	}
	if input.CategoryID != nil {
		if err := s.ensureCategory(ctx, *input.CategoryID); err != nil {
			return nil, err
		}
		changes["category_id"] = *input.CategoryID
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
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %d not found", id))
	}
	return s.Get(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uint64) error {
	affected, err := s.repo.Delete(ctx, id)
	if err != nil {
		return repo.Translate(err, entityName, id)
	}
	if affected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %d not found", id))
	}
	return nil
}

func (s *service) ensureCategory(ctx context.Context, id uint64) error {
	if id == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "category_id is required").WithDetails(map[string]string{"category_id": "is required"})
	}
	ok, err := s.categories.Exists(ctx, id)
	if err != nil {
		return repo.Translate(err, "category", id)
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("category %d does not exist", id)).WithDetails(map[string]string{"category_id": "does not exist"})
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

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative").WithDetails(map[string]string{"price": "must be at least 0"})
	}
	if price.GreaterThan(maxPrice) {
		return pkgerrors.New(pkgerrors.CodeValidation, "price is too large").WithDetails(map[string]string{"price": "must be at most " + MaxPrice})
	}
	return nil
}

func validateStock(stock int) error {
	if stock < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock must not be negative").WithDetails(map[string]string{"stock": "must be at least 0"})
	}
	return nil
}
