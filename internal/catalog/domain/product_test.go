package domain

import (
	"encoding/json"
	"errors"
	"testing"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMeta = sharedDomain.EventMetadata{CorrelationID: "test", Source: "catalog-test"}

func newCreatedAggregate(t *testing.T) *ProductAggregate {
	t.Helper()
	agg := NewProductAggregate(uuid.New())
	require.NoError(t, agg.Create("SKU-001", "Teclado", "Teclado mecánico", 4999, "EUR", 10, testMeta))
	return agg
}

func TestProductAggregate_Create(t *testing.T) {
	agg := newCreatedAggregate(t)

	assert.Equal(t, int64(1), agg.Version())
	events := agg.UncommittedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, ProductCreated, events[0].Type)
	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, AggregateType, events[0].AggregateType)

	state := agg.State()
	assert.Equal(t, "SKU-001", state.SKU)
	assert.Equal(t, 10, state.Stock)
	assert.Equal(t, int64(4999), state.PriceCents)

	// Crear dos veces el mismo agregado viola la regla de unicidad.
	err := agg.Create("SKU-001", "Teclado", "", 4999, "EUR", 10, testMeta)
	var ruleErr *sharedDomain.BusinessRuleError
	assert.ErrorAs(t, err, &ruleErr)
	assert.Len(t, agg.UncommittedEvents(), 1)
}

func TestProductAggregate_SequentialUpdatesAdvanceVersion(t *testing.T) {
	agg := newCreatedAggregate(t)

	require.NoError(t, agg.UpdateDetails("Teclado v2", "Con reposamuñecas", testMeta))
	require.NoError(t, agg.ChangePrice(5999, testMeta))

	assert.Equal(t, int64(3), agg.Version())

	events := agg.UncommittedEvents()
	require.Len(t, events, 3)
	for i, evt := range events {
		assert.Equal(t, int64(i+1), evt.Version, "las versiones deben ser consecutivas desde 1")
	}

	state := agg.State()
	assert.Equal(t, "Teclado v2", state.Name)
	assert.Equal(t, int64(5999), state.PriceCents)
}

func TestProductAggregate_NoOpCommandsEmitNothing(t *testing.T) {
	agg := newCreatedAggregate(t)
	agg.MarkEventsAsCommitted()

	// Mismos valores: ningún evento.
	require.NoError(t, agg.UpdateDetails("Teclado", "Teclado mecánico", testMeta))
	require.NoError(t, agg.ChangePrice(4999, testMeta))
	require.NoError(t, agg.AdjustStock(0, "inventario", testMeta))

	assert.False(t, agg.HasUncommittedEvents())
	assert.Equal(t, int64(1), agg.Version())
}

func TestProductAggregate_ReserveStock(t *testing.T) {
	agg := newCreatedAggregate(t)
	agg.MarkEventsAsCommitted()

	require.NoError(t, agg.ReserveStock(4, testMeta))
	assert.Equal(t, 4, agg.State().Reserved)
	assert.Equal(t, 6, agg.State().Available())

	// Reservar más de lo disponible no emite ningún evento.
	err := agg.ReserveStock(7, testMeta)
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 7, insufficient.Requested)
	assert.Equal(t, 6, insufficient.Available)

	// También se clasifica como violación de regla de negocio.
	var ruleErr *sharedDomain.BusinessRuleError
	assert.ErrorAs(t, err, &ruleErr)

	assert.Len(t, agg.UncommittedEvents(), 1)
	assert.Equal(t, 4, agg.State().Reserved)
}

func TestProductAggregate_ReleaseStock(t *testing.T) {
	agg := newCreatedAggregate(t)
	require.NoError(t, agg.ReserveStock(4, testMeta))

	require.NoError(t, agg.ReleaseStock(3, testMeta))
	assert.Equal(t, 1, agg.State().Reserved)

	// No se puede liberar más de lo reservado.
	err := agg.ReleaseStock(2, testMeta)
	var ruleErr *sharedDomain.BusinessRuleError
	assert.ErrorAs(t, err, &ruleErr)
}

func TestProductAggregate_AdjustStockNeverBelowReserved(t *testing.T) {
	agg := newCreatedAggregate(t)
	require.NoError(t, agg.ReserveStock(8, testMeta))

	err := agg.AdjustStock(-5, "rotura", testMeta)
	var ruleErr *sharedDomain.BusinessRuleError
	require.ErrorAs(t, err, &ruleErr)

	require.NoError(t, agg.AdjustStock(-2, "rotura", testMeta))
	assert.Equal(t, 8, agg.State().Stock)
}

func TestProductAggregate_Discontinue(t *testing.T) {
	agg := newCreatedAggregate(t)
	agg.MarkEventsAsCommitted()

	require.NoError(t, agg.Discontinue("fin de vida", testMeta))
	assert.True(t, agg.State().Discontinued)
	assert.Len(t, agg.UncommittedEvents(), 1)

	// Repetirlo es un no-op.
	require.NoError(t, agg.Discontinue("fin de vida", testMeta))
	assert.Len(t, agg.UncommittedEvents(), 1)

	// Un producto retirado no admite más cambios.
	err := agg.ChangePrice(100, testMeta)
	var ruleErr *sharedDomain.BusinessRuleError
	assert.ErrorAs(t, err, &ruleErr)
}

func TestProductAggregate_OperationsOnMissingProduct(t *testing.T) {
	agg := NewProductAggregate(uuid.New())

	err := agg.UpdateDetails("Nombre", "", testMeta)
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.True(t, errors.Is(err, sharedDomain.ErrNotFound))
}

func TestFromEvents_RebuildsIdenticalState(t *testing.T) {
	agg := newCreatedAggregate(t)
	require.NoError(t, agg.UpdateDetails("Teclado v2", "desc", testMeta))
	require.NoError(t, agg.ReserveStock(3, testMeta))

	rebuilt, err := FromEvents(agg.ID(), agg.UncommittedEvents())
	require.NoError(t, err)

	assert.Equal(t, agg.Version(), rebuilt.Version())
	assert.Equal(t, agg.State(), rebuilt.State())
	assert.False(t, rebuilt.HasUncommittedEvents())
}

func TestFromSnapshot_MatchesFullReplay(t *testing.T) {
	agg := newCreatedAggregate(t)
	require.NoError(t, agg.UpdateDetails("Teclado v2", "desc", testMeta))
	require.NoError(t, agg.ReserveStock(3, testMeta))
	require.NoError(t, agg.ChangePrice(5500, testMeta))

	events := agg.UncommittedEvents()

	// Snapshot en la versión 2, resto del stream por encima.
	mid, err := FromEvents(agg.ID(), events[:2])
	require.NoError(t, err)
	state, err := json.Marshal(mid.State())
	require.NoError(t, err)

	snap := sharedDomain.Snapshot{
		AggregateID:   agg.ID(),
		AggregateType: AggregateType,
		Version:       2,
		State:         state,
	}

	fromSnap, err := FromSnapshot(agg.ID(), snap, events[2:])
	require.NoError(t, err)

	full, err := FromEvents(agg.ID(), events)
	require.NoError(t, err)

	assert.Equal(t, full.Version(), fromSnap.Version())
	assert.Equal(t, full.State(), fromSnap.State())
}

func TestFold_UnknownEventTypeFailsReconstruction(t *testing.T) {
	evt, err := sharedDomain.NewDomainEvent("product.teleported", uuid.New(), AggregateType, 1, struct{}{}, testMeta)
	require.NoError(t, err)

	_, err = Fold(ProductState{}, evt)
	var unknown *sharedDomain.UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "product.teleported", unknown.EventType)
}
