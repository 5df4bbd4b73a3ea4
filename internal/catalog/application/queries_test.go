package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/davicafu/eventlab/internal/catalog/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cqrs"
	"github.com/davicafu/eventlab/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newQueryStack(t *testing.T) (*mocks.InMemoryProductReadRepo, *mocks.DummyCache, *cqrs.QueryBus) {
	t.Helper()
	readRepo := mocks.NewInMemoryProductReadRepo()
	cache := mocks.NewDummyCache()
	bus := cqrs.NewQueryBus(zap.NewNop())
	require.NoError(t, RegisterProductQueryHandlers(bus, NewProductQueryHandlers(readRepo, cache, 60, zap.NewNop())))
	return readRepo, cache, bus
}

func seedView(repo *mocks.InMemoryProductReadRepo, name string, priceCents int64, createdAt time.Time) domain.ProductView {
	view := domain.ProductView{
		ID:         uuid.New(),
		SKU:        fmt.Sprintf("SKU-%s", name),
		Name:       name,
		PriceCents: priceCents,
		Currency:   "EUR",
		Stock:      10,
		Available:  10,
		Version:    1,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	repo.Seed(view)
	return view
}

func TestGetProductByID_MissThenHit(t *testing.T) {
	readRepo, cache, bus := newQueryStack(t)
	view := seedView(readRepo, "Teclado", 4999, time.Now().UTC())

	// 1. Miss: el dato sale de la base de datos.
	result := bus.Execute(context.Background(), GetProductByIDQuery{ProductID: view.ID})
	require.Nil(t, result.Error)
	assert.Equal(t, cqrs.SourceDatabase, result.Metadata.Source)

	got, ok := result.Data.(domain.ProductView)
	require.True(t, ok)
	assert.Equal(t, view.ID, got.ID)

	// 2. Hit: sembramos la caché de forma síncrona (el Set real es async)
	// y la misma query responde desde caché.
	cache.SetForTest(domain.CacheKeyByID(view.ID), view)
	result = bus.Execute(context.Background(), GetProductByIDQuery{ProductID: view.ID})
	require.Nil(t, result.Error)
	assert.Equal(t, cqrs.SourceCache, result.Metadata.Source)
}

func TestGetProductBySKU_NotFound(t *testing.T) {
	_, _, bus := newQueryStack(t)

	result := bus.Execute(context.Background(), GetProductBySKUQuery{SKU: "SKU-NOPE"})

	require.NotNil(t, result.Error)
	assert.Equal(t, cqrs.CodeNotFound, result.Error.Code)
}

func TestListProducts_PaginationEnvelope(t *testing.T) {
	readRepo, _, bus := newQueryStack(t)
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedView(readRepo, fmt.Sprintf("Producto-%d", i), int64(1000+i), base.Add(time.Duration(i)*time.Second))
	}

	result := bus.Execute(context.Background(), ListProductsQuery{Limit: 2, Offset: 2})
	require.Nil(t, result.Error)

	page, ok := result.Data.(ProductPage)
	require.True(t, ok)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Equal(t, 2, page.Offset)
	assert.True(t, page.HasMore, "quedan elementos tras offset 2 + 2 items")

	// Última página: HasMore debe ser false.
	result = bus.Execute(context.Background(), ListProductsQuery{Limit: 2, Offset: 4})
	require.Nil(t, result.Error)
	page = result.Data.(ProductPage)
	assert.Len(t, page.Items, 1)
	assert.False(t, page.HasMore)
}

func TestListProducts_EmptyPageBeyondEnd(t *testing.T) {
	readRepo, _, bus := newQueryStack(t)
	seedView(readRepo, "Solo", 1000, time.Now().UTC())

	result := bus.Execute(context.Background(), ListProductsQuery{Limit: 10, Offset: 50})
	require.Nil(t, result.Error)

	page := result.Data.(ProductPage)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(1), page.TotalCount)
	assert.False(t, page.HasMore)
}

func TestListProducts_PriceFilter(t *testing.T) {
	readRepo, _, bus := newQueryStack(t)
	now := time.Now().UTC()
	seedView(readRepo, "Barato", 500, now)
	seedView(readRepo, "Medio", 2000, now)
	seedView(readRepo, "Caro", 9000, now)

	result := bus.Execute(context.Background(), ListProductsQuery{MinPriceCents: 1000, MaxPriceCents: 5000})
	require.Nil(t, result.Error)

	page := result.Data.(ProductPage)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Medio", page.Items[0].Name)
}

func TestListProducts_ValidationRejectsOversizedPage(t *testing.T) {
	_, _, bus := newQueryStack(t)

	result := bus.Execute(context.Background(), ListProductsQuery{Limit: 500})

	require.NotNil(t, result.Error)
	assert.Equal(t, cqrs.CodeValidationError, result.Error.Code)
}

func TestListProducts_CacheKeyDependsOnPage(t *testing.T) {
	q1 := ListProductsQuery{Limit: 10, Offset: 0}
	q2 := ListProductsQuery{Limit: 10, Offset: 10}
	q3 := ListProductsQuery{Limit: 10, Offset: 0, NamePattern: "%teclado%"}

	assert.NotEqual(t, q1.CacheKey(), q2.CacheKey())
	assert.NotEqual(t, q1.CacheKey(), q3.CacheKey())
	assert.Equal(t, q1.CacheKey(), ListProductsQuery{Limit: 10, Offset: 0}.CacheKey())
}

func TestSearchProducts_MatchesByTerm(t *testing.T) {
	readRepo, _, bus := newQueryStack(t)
	base := time.Now().UTC()
	seedView(readRepo, "Teclado mecánico", 7999, base)
	seedView(readRepo, "Teclado inalámbrico", 4999, base.Add(time.Second))
	seedView(readRepo, "Ratón óptico", 1999, base.Add(2*time.Second))

	result := bus.Execute(context.Background(), SearchProductsQuery{Term: "  Teclado "})
	require.Nil(t, result.Error)
	assert.Equal(t, cqrs.SourceDatabase, result.Metadata.Source)

	page, ok := result.Data.(ProductPage)
	require.True(t, ok)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(2), page.TotalCount)
	assert.False(t, page.HasMore)
	// Orden alfabético por nombre.
	assert.Equal(t, "Teclado inalámbrico", page.Items[0].Name)
	assert.Equal(t, "Teclado mecánico", page.Items[1].Name)
}

func TestSearchProducts_ValidationRequiresTerm(t *testing.T) {
	_, _, bus := newQueryStack(t)

	result := bus.Execute(context.Background(), SearchProductsQuery{Term: "   "})

	require.NotNil(t, result.Error)
	assert.Equal(t, cqrs.CodeValidationError, result.Error.Code)
}

func TestSearchProducts_CacheKeyNormalizesTerm(t *testing.T) {
	a := SearchProductsQuery{Term: "Teclado", Limit: 20}
	b := SearchProductsQuery{Term: "  teclado ", Limit: 20}
	c := SearchProductsQuery{Term: "ratón", Limit: 20}

	assert.Equal(t, a.CacheKey(), b.CacheKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
}
