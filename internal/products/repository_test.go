package products

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

func seedProducts(t *testing.T, repo *Repository, stocks ...int) []models.Product {
	t.Helper()
	ctx := context.Background()
	category := models.Category{Name: "Electronics"}
	require.NoError(t, repo.DB(ctx).Create(&category).Error)

	out := make([]models.Product, 0, len(stocks))
	for i, stock := range stocks {
		p := models.Product{Name: "p" + string(rune('a'+i)), Price: decimal.NewFromInt(int64(10 * (i + 1))), Stock: stock, CategoryID: category.ID}
		require.NoError(t, repo.Create(ctx, &p))
		out = append(out, p)
	}
	return out
}

func TestFindByIDsForUpdateDropsUnknownIDs(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	seeded := seedProducts(t, repo, 1, 2)

	rows, err := repo.FindByIDsForUpdate(context.Background(), []uint64{seeded[1].ID, 999, seeded[0].ID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, seeded[0].ID, rows[0].ID)
	assert.Equal(t, seeded[1].ID, rows[1].ID)

	rows, err = repo.FindByIDsForUpdate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDecrementStockIsGuarded(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	seeded := seedProducts(t, repo, 2)
	ctx := context.Background()

	affected, err := repo.DecrementStock(ctx, seeded[0].ID, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	affected, err = repo.DecrementStock(ctx, seeded[0].ID, 1)
	require.NoError(t, err)
	assert.Zero(t, affected)

	got, err := repo.FindByID(ctx, seeded[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Stock)
}

func TestStockCheckConstraint(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	seeded := seedProducts(t, repo, 1)

	_, err := repo.Update(context.Background(), seeded[0].ID, map[string]any{"stock": -1})
	require.Error(t, err)
}
