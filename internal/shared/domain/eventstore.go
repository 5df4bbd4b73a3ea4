package domain

import (
	"context"

	"github.com/google/uuid"
)

// EventStore es el log append-only y versionado de eventos por agregado.
//
// El control de concurrencia es exclusivamente optimista: Append falla con
// *OptimisticConcurrencyError si la versión almacenada no coincide con
// expectedVersion en el momento de la escritura. No hay locks a través del
// ciclo load→invoke→append; el perdedor recarga y reintenta.
type EventStore interface {
	// Append añade los eventos al stream del agregado y, en la MISMA
	// transacción, inserta sus filas de outbox (insert idempotente por
	// event_id). Si cualquiera de las dos escrituras falla, ambas se
	// revierten. Devuelve la nueva versión del agregado.
	Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int64, events []DomainEvent, routingKey string) (int64, error)

	// ReadStream devuelve los eventos con version > fromVersion en orden
	// estrictamente creciente y sin huecos. Un hueco o duplicado se reporta
	// como ErrStreamIntegrity (fatal, no recuperable).
	ReadStream(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]DomainEvent, error)

	// ReadEvents sirve a tooling de auditoría/replay con filtros opcionales.
	ReadEvents(ctx context.Context, q EventQuery) ([]DomainEvent, error)

	// SaveSnapshot persiste la materialización del estado en una versión.
	SaveSnapshot(ctx context.Context, s Snapshot) error

	// LatestSnapshot devuelve el snapshot más reciente o nil si no hay.
	LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*Snapshot, error)
}
