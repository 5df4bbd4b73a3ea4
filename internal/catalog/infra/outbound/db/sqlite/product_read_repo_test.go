package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *ProductReadRepoSQLite {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, InitSQLiteProductViewSchema(db))
	return NewProductReadRepoSQLite(db)
}

func testView(name, sku string, priceCents int64, version int64) catalogDomain.ProductView {
	now := time.Now().UTC()
	return catalogDomain.ProductView{
		ID:         uuid.New(),
		SKU:        sku,
		Name:       name,
		PriceCents: priceCents,
		Currency:   "EUR",
		Stock:      10,
		Available:  10,
		Version:    version,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSQLiteUpsert_OlderVersionDoesNotOverwrite(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	view := testView("Teclado", "SKU-001", 4999, 3)
	require.NoError(t, repo.Upsert(ctx, view))

	stale := view
	stale.Name = "Teclado viejo"
	stale.Version = 2
	require.NoError(t, repo.Upsert(ctx, stale))

	got, err := repo.GetByID(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "Teclado", got.Name)
	assert.Equal(t, int64(3), got.Version)
}

func TestSQLiteGetBySKU_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetBySKU(context.Background(), "SKU-NOPE")
	assert.ErrorIs(t, err, catalogDomain.ErrProductNotFound)
}

func TestSQLiteList_NameFilterIsCaseInsensitive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testView("Teclado Mecánico", "SKU-001", 4999, 1)))
	require.NoError(t, repo.Upsert(ctx, testView("Ratón", "SKU-002", 1999, 1)))

	// ILIKE no existe en SQLite: el adapter lo traduce a LIKE en minúsculas.
	views, total, err := repo.List(ctx,
		catalogDomain.NameLikeCriteria{Pattern: "%teclado%"},
		sharedDomain.Pagination{Limit: 10},
		sharedDomain.Sort{Field: "name"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, views, 1)
	assert.Equal(t, "SKU-001", views[0].SKU)
}

func TestSQLiteList_PaginationAndSort(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testView("A", "SKU-001", 100, 1)))
	require.NoError(t, repo.Upsert(ctx, testView("B", "SKU-002", 300, 1)))
	require.NoError(t, repo.Upsert(ctx, testView("C", "SKU-003", 200, 1)))

	views, total, err := repo.List(ctx, nil,
		sharedDomain.Pagination{Limit: 2},
		sharedDomain.Sort{Field: "price_cents", Desc: true},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, views, 2)
	assert.Equal(t, "SKU-002", views[0].SKU)
	assert.Equal(t, "SKU-003", views[1].SKU)
}

func TestSQLiteApplyCriteria_TranslatesILike(t *testing.T) {
	where, args := applyCriteria(catalogDomain.NameLikeCriteria{Pattern: "%abc%"})
	assert.Equal(t, "lower(name) LIKE lower(?)", where)
	assert.Equal(t, []interface{}{"%abc%"}, args)

	where, args = applyCriteria(catalogDomain.PriceRangeCriteria{MinCents: 100, MaxCents: 500})
	assert.Equal(t, "price_cents >= ? AND price_cents <= ?", where)
	assert.Len(t, args, 2)
}
