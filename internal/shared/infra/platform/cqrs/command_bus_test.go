package cqrs

import (
	"context"
	"errors"
	"testing"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Comando y handler de prueba ---

type fakeCommand struct {
	id          uuid.UUID
	validateErr error
}

func (c fakeCommand) CommandType() string          { return "test.fake" }
func (c fakeCommand) TargetAggregateID() uuid.UUID { return c.id }
func (c fakeCommand) Validate() error              { return c.validateErr }

type scriptedHandler struct {
	calls   int
	results []error // un error (o nil) por invocación; el último se repite
}

func (h *scriptedHandler) Handle(ctx context.Context, cmd Command) (CommandResult, error) {
	idx := h.calls
	if idx >= len(h.results) {
		idx = len(h.results) - 1
	}
	h.calls++
	if err := h.results[idx]; err != nil {
		return CommandResult{}, err
	}
	return CommandResult{AggregateID: cmd.TargetAggregateID(), Version: 1}, nil
}

func TestCommandBus_RoutesToRegisteredHandler(t *testing.T) {
	bus := NewCommandBus(0, zap.NewNop())
	h := &scriptedHandler{results: []error{nil}}
	require.NoError(t, bus.Register("test.fake", h))

	result := bus.Execute(context.Background(), fakeCommand{id: uuid.New()})

	assert.True(t, result.Success)
	assert.Nil(t, result.Error)
	assert.Equal(t, 1, h.calls)
}

func TestCommandBus_UnknownCommandType(t *testing.T) {
	bus := NewCommandBus(0, zap.NewNop())

	result := bus.Execute(context.Background(), fakeCommand{id: uuid.New()})

	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeUnknownCommand, result.Error.Code)
}

func TestCommandBus_DuplicateRegistrationFails(t *testing.T) {
	bus := NewCommandBus(0, zap.NewNop())
	require.NoError(t, bus.Register("test.fake", &scriptedHandler{results: []error{nil}}))
	assert.Error(t, bus.Register("test.fake", &scriptedHandler{results: []error{nil}}))
}

func TestCommandBus_ValidationFailsFast(t *testing.T) {
	bus := NewCommandBus(0, zap.NewNop())
	h := &scriptedHandler{results: []error{nil}}
	require.NoError(t, bus.Register("test.fake", h))

	cmd := fakeCommand{
		id:          uuid.New(),
		validateErr: &sharedDomain.ValidationError{Field: "sku", Message: "required"},
	}
	result := bus.Execute(context.Background(), cmd)

	require.NotNil(t, result.Error)
	assert.Equal(t, CodeValidationError, result.Error.Code)
	assert.Equal(t, "sku", result.Error.Details["field"])
	assert.Equal(t, 0, h.calls, "un comando inválido jamás llega al handler")
}

func TestCommandBus_RetriesOnConcurrencyConflict(t *testing.T) {
	id := uuid.New()
	conflict := &sharedDomain.OptimisticConcurrencyError{AggregateID: id, ExpectedVersion: 1, ActualVersion: 2}

	bus := NewCommandBus(3, zap.NewNop())
	h := &scriptedHandler{results: []error{conflict, conflict, nil}}
	require.NoError(t, bus.Register("test.fake", h))

	result := bus.Execute(context.Background(), fakeCommand{id: id})

	assert.True(t, result.Success)
	assert.Equal(t, 3, h.calls, "dos conflictos + un éxito")
}

func TestCommandBus_ConflictSurfacesAfterRetryBudget(t *testing.T) {
	id := uuid.New()
	conflict := &sharedDomain.OptimisticConcurrencyError{AggregateID: id, ExpectedVersion: 1, ActualVersion: 2}

	bus := NewCommandBus(2, zap.NewNop())
	h := &scriptedHandler{results: []error{conflict}}
	require.NoError(t, bus.Register("test.fake", h))

	result := bus.Execute(context.Background(), fakeCommand{id: id})

	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, CodeConcurrencyError, result.Error.Code)
	assert.Equal(t, 3, h.calls, "intento inicial + 2 reintentos")
}

func TestCommandBus_NonConflictErrorsDoNotRetry(t *testing.T) {
	bus := NewCommandBus(5, zap.NewNop())
	h := &scriptedHandler{results: []error{&sharedDomain.BusinessRuleError{Rule: "stock.sufficient", Message: "no stock"}}}
	require.NoError(t, bus.Register("test.fake", h))

	result := bus.Execute(context.Background(), fakeCommand{id: uuid.New()})

	require.NotNil(t, result.Error)
	assert.Equal(t, CodeBusinessRule, result.Error.Code)
	assert.Equal(t, 1, h.calls)
}

func TestCommandBus_OpaqueInternalErrors(t *testing.T) {
	bus := NewCommandBus(0, zap.NewNop())
	h := &scriptedHandler{results: []error{errors.New("pq: connection refused to 10.0.0.7")}}
	require.NoError(t, bus.Register("test.fake", h))

	result := bus.Execute(context.Background(), fakeCommand{id: uuid.New()})

	require.NotNil(t, result.Error)
	assert.Equal(t, CodeInternalError, result.Error.Code)
	assert.NotContains(t, result.Error.Message, "10.0.0.7", "los detalles de infraestructura no cruzan el bus")
}
