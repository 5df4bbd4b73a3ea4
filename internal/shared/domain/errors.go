package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ---------- Errores compartidos ----------

var (
	// ErrNotFound es el sentinel que los errores de dominio concretos envuelven
	// para que los buses los clasifiquen como NOT_FOUND.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied se clasifica como PERMISSION_DENIED en el bus de queries.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrStreamIntegrity indica un hueco o duplicado de versión en un stream.
	// Es un error fatal de integridad, nunca recuperable mediante reintentos.
	ErrStreamIntegrity = errors.New("event stream integrity violation")
)

// OptimisticConcurrencyError se devuelve cuando la versión almacenada del
// agregado no coincide con la esperada en el momento del append. El llamante
// debe recargar el agregado y reintentar el comando desde cero.
type OptimisticConcurrencyError struct {
	AggregateID     uuid.UUID
	ExpectedVersion int64
	ActualVersion   int64
}

func (e *OptimisticConcurrencyError) Error() string {
	return fmt.Sprintf("optimistic concurrency conflict on aggregate %s: expected version %d, actual %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// UnknownEventTypeError indica que la reconstrucción encontró un tipo de
// evento sin función de fold. Nunca se ignora en silencio.
type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q during aggregate reconstruction", e.EventType)
}

// ValidationError describe un payload de comando o query inválido.
// Se resuelve localmente, sin efectos secundarios sobre el agregado.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Message)
}

// BusinessRuleError representa una invariante de dominio rota. No produce
// ningún evento y se devuelve tal cual al llamante.
type BusinessRuleError struct {
	Rule    string
	Message string
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %q violated: %s", e.Rule, e.Message)
}
