package events

import (
	"context"
	"testing"
	"time"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/dispatch"
	"github.com/davicafu/eventlab/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func productEvents(t *testing.T, id uuid.UUID) []sharedDomain.DomainEvent {
	t.Helper()
	agg := catalogDomain.NewProductAggregate(id)
	meta := sharedDomain.EventMetadata{Source: "test"}
	require.NoError(t, agg.Create("SKU-001", "Teclado", "mecánico", 4999, "EUR", 10, meta))
	require.NoError(t, agg.ChangePrice(5999, meta))
	require.NoError(t, agg.ReserveStock(3, meta))
	return agg.UncommittedEvents()
}

func TestProjector_BuildsViewFromEvents(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	projector := NewProductProjector(readRepo, nil, nil, nil, zap.NewNop())

	id := uuid.New()
	for _, evt := range productEvents(t, id) {
		require.NoError(t, projector.Handle(context.Background(), evt))
	}

	view, err := readRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "SKU-001", view.SKU)
	assert.Equal(t, int64(5999), view.PriceCents)
	assert.Equal(t, 3, view.Reserved)
	assert.Equal(t, 7, view.Available)
	assert.Equal(t, int64(3), view.Version)
}

func TestProjector_DoubleDeliveryIsIdempotent(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	projector := NewProductProjector(readRepo, nil, nil, nil, zap.NewNop())

	id := uuid.New()
	events := productEvents(t, id)
	for _, evt := range events {
		require.NoError(t, projector.Handle(context.Background(), evt))
	}
	upsertsAfterFirstPass := readRepo.Upserts

	// At-least-once: el mismo lote llega otra vez completo.
	for _, evt := range events {
		require.NoError(t, projector.Handle(context.Background(), evt))
	}

	view, err := readRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.Version)
	assert.Equal(t, int64(5999), view.PriceCents)
	assert.Equal(t, upsertsAfterFirstPass, readRepo.Upserts, "la segunda entrega no escribió nada")
}

func TestProjector_StaleEventIsDiscarded(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	projector := NewProductProjector(readRepo, nil, nil, nil, zap.NewNop())

	id := uuid.New()
	events := productEvents(t, id)
	for _, evt := range events {
		require.NoError(t, projector.Handle(context.Background(), evt))
	}

	// Un evento antiguo fuera de orden no retrocede la vista.
	require.NoError(t, projector.Handle(context.Background(), events[1]))

	view, err := readRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.Version)
	assert.Equal(t, 3, view.Reserved)
}

func TestProjector_VersionGapRebuildsFromStream(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	store := mocks.NewInMemoryEventStore()
	projector := NewProductProjector(readRepo, store, nil, nil, zap.NewNop())

	id := uuid.New()
	agg := catalogDomain.NewProductAggregate(id)
	meta := sharedDomain.EventMetadata{Source: "test"}
	require.NoError(t, agg.Create("SKU-001", "Teclado", "mecánico", 4999, "EUR", 10, meta))
	require.NoError(t, agg.UpdateDetails("Teclado Pro", "mecánico retroiluminado", meta))
	require.NoError(t, agg.ChangePrice(5999, meta))
	events := agg.UncommittedEvents()
	store.SeedProduct(id, events...)

	// La v3 llega antes que la v2: plegarla sobre la vista en v1 "saltaría"
	// el renombrado de la v2 dejando una vista que miente sobre su versión.
	require.NoError(t, projector.Handle(context.Background(), events[0]))
	require.NoError(t, projector.Handle(context.Background(), events[2]))

	view, err := readRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.Version)
	assert.Equal(t, int64(5999), view.PriceCents)
	assert.Equal(t, "Teclado Pro", view.Name, "la reconstrucción incluye el cambio de la versión saltada")

	// La v2 rezagada ya está cubierta por la vista reconstruida.
	upserts := readRepo.Upserts
	require.NoError(t, projector.Handle(context.Background(), events[1]))
	assert.Equal(t, upserts, readRepo.Upserts)
}

func TestProjector_VersionGapWithoutStoreReturnsError(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	projector := NewProductProjector(readRepo, nil, nil, nil, zap.NewNop())

	id := uuid.New()
	events := productEvents(t, id)
	require.NoError(t, projector.Handle(context.Background(), events[0]))

	// Sin event store no hay de dónde reconstruir: el error sube para que el
	// consumidor reintente en vez de proyectar un estado incompleto.
	err := projector.Handle(context.Background(), events[2])
	require.Error(t, err)

	view, vErr := readRepo.GetByID(context.Background(), id)
	require.NoError(t, vErr)
	assert.Equal(t, int64(1), view.Version, "la vista no avanzó con el evento fuera de orden")
}

func TestProjector_InvalidatesCache(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	cache := mocks.NewDummyCache()
	projector := NewProductProjector(readRepo, nil, cache, nil, zap.NewNop())

	id := uuid.New()
	events := productEvents(t, id)
	require.NoError(t, projector.Handle(context.Background(), events[0]))

	// Sembramos la caché como lo haría una query previa.
	cache.SetForTest(catalogDomain.CacheKeyByID(id), struct{}{})
	cache.SetForTest(catalogDomain.CacheKeyBySKU("SKU-001"), struct{}{})
	cache.SetForTest("product:list:all:10:0", struct{}{})

	require.NoError(t, projector.Handle(context.Background(), events[1]))

	// La invalidación es asíncrona.
	assert.Eventually(t, func() bool {
		return !cache.Has(catalogDomain.CacheKeyByID(id)) &&
			!cache.Has(catalogDomain.CacheKeyBySKU("SKU-001")) &&
			!cache.Has("product:list:all:10:0")
	}, time.Second, 5*time.Millisecond)
}

func TestProjector_NotifiesRealtimeTopic(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	notifier := mocks.NewRecordingPublisher()
	projector := NewProductProjector(readRepo, nil, nil, notifier, zap.NewNop())

	id := uuid.New()
	require.NoError(t, projector.Handle(context.Background(), productEvents(t, id)[0]))

	require.Len(t, notifier.Published(), 1)
	assert.Equal(t, []string{catalogDomain.NotifyTopic}, notifier.RoutingKeys())
}

func TestProjector_NotifyFailureDoesNotFailProjection(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	notifier := mocks.NewRecordingPublisher()
	notifier.FailWith = assert.AnError
	projector := NewProductProjector(readRepo, nil, nil, notifier, zap.NewNop())

	id := uuid.New()
	require.NoError(t, projector.Handle(context.Background(), productEvents(t, id)[0]))

	_, err := readRepo.GetByID(context.Background(), id)
	assert.NoError(t, err, "la vista se escribió aunque la notificación fallara")
}

func TestDispatcher_RoutesByAggregateType(t *testing.T) {
	readRepo := mocks.NewInMemoryProductReadRepo()
	projector := NewProductProjector(readRepo, nil, nil, nil, zap.NewNop())
	dispatcher := dispatch.NewDispatcher(zap.NewNop(), projector)

	id := uuid.New()
	require.NoError(t, dispatcher.Dispatch(context.Background(), productEvents(t, id)[0]))

	// Un evento de otro agregado no toca el read model de productos.
	foreign, err := sharedDomain.NewDomainEvent("order.placed", uuid.New(), "order", 1, struct{}{}, sharedDomain.EventMetadata{})
	require.NoError(t, err)
	require.NoError(t, dispatcher.Dispatch(context.Background(), foreign))

	_, err = readRepo.GetByID(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, 1, readRepo.Upserts)
}
