package cqrs

import (
	"context"
	"errors"
	"fmt"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Command es el contrato mínimo de un comando. La validación devuelve errores
// explícitos (*sharedDomain.ValidationError): nunca se usan panics como flujo
// de control de negocio.
type Command interface {
	CommandType() string
	TargetAggregateID() uuid.UUID
	Validate() error
}

// CommandResult es el valor discriminado de éxito/fallo de un comando.
type CommandResult struct {
	Success     bool                       `json:"success"`
	AggregateID uuid.UUID                  `json:"aggregate_id"`
	Version     int64                      `json:"version"`
	Events      []sharedDomain.DomainEvent `json:"events,omitempty"`
	Error       *ErrorInfo                 `json:"error,omitempty"`
}

// CommandHandler ejecuta un tipo de comando contra su agregado.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) (CommandResult, error)
}

// CommandBus enruta cada comando a su único handler por tipo. El registro se
// construye explícitamente en el arranque y se inyecta por referencia; no hay
// singletons a nivel de módulo.
type CommandBus struct {
	handlers           map[string]CommandHandler
	concurrencyRetries int
	log                *zap.Logger
}

func NewCommandBus(concurrencyRetries int, log *zap.Logger) *CommandBus {
	if concurrencyRetries < 0 {
		concurrencyRetries = 0
	}
	return &CommandBus{
		handlers:           make(map[string]CommandHandler),
		concurrencyRetries: concurrencyRetries,
		log:                log,
	}
}

// Register asocia un tipo de comando con su handler. Registrar dos handlers
// para el mismo tipo es un error de cableado, no de runtime.
func (b *CommandBus) Register(commandType string, h CommandHandler) error {
	if _, exists := b.handlers[commandType]; exists {
		return fmt.Errorf("command handler already registered for type %q", commandType)
	}
	b.handlers[commandType] = h
	return nil
}

// Execute valida el comando, lo enruta y, ante un conflicto de concurrencia
// optimista, reintenta el ciclo completo load→invoke→append un número acotado
// de veces antes de devolver el conflicto al llamante. Los eventos producidos
// antes del conflicto se descartan junto con el agregado recargado.
func (b *CommandBus) Execute(ctx context.Context, cmd Command) CommandResult {
	handler, ok := b.handlers[cmd.CommandType()]
	if !ok {
		b.log.Error("No handler registered for command type",
			zap.String("command_type", cmd.CommandType()))
		return CommandResult{
			AggregateID: cmd.TargetAggregateID(),
			Error: &ErrorInfo{
				Code:    CodeUnknownCommand,
				Message: fmt.Sprintf("no handler registered for command type %q", cmd.CommandType()),
			},
		}
	}

	// Fail fast: un comando inválido jamás llega al agregado.
	if err := cmd.Validate(); err != nil {
		return CommandResult{
			AggregateID: cmd.TargetAggregateID(),
			Error:       classifyError(err),
		}
	}

	var lastErr error
	for attempt := 0; attempt <= b.concurrencyRetries; attempt++ {
		result, err := handler.Handle(ctx, cmd)
		if err == nil {
			result.Success = true
			return result
		}
		lastErr = err

		var conflict *sharedDomain.OptimisticConcurrencyError
		if !errors.As(err, &conflict) {
			break
		}

		b.log.Warn("⚠️ Conflicto de concurrencia optimista, reintentando comando",
			zap.String("command_type", cmd.CommandType()),
			zap.String("aggregate_id", conflict.AggregateID.String()),
			zap.Int64("expected_version", conflict.ExpectedVersion),
			zap.Int64("actual_version", conflict.ActualVersion),
			zap.Int("attempt", attempt+1),
		)
	}

	info := classifyError(lastErr)
	if info.Code == CodeInternalError {
		b.log.Error("Command failed with internal error",
			zap.String("command_type", cmd.CommandType()),
			zap.String("aggregate_id", cmd.TargetAggregateID().String()),
			zap.Error(lastErr),
		)
	}
	return CommandResult{
		AggregateID: cmd.TargetAggregateID(),
		Error:       info,
	}
}
