package bus

import (
	"context"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
)

// Keyer lo implementan los tipos que saben en qué partición deben publicarse.
type Keyer interface {
	PartitionKey() string
}

// EventPublisher es el puerto hacia el broker. El downstream debe tolerar
// semántica at-least-once: el relayer puede reentregar un evento ya publicado
// si el marcado posterior falla.
type EventPublisher interface {
	// Publish envía un evento; routingKey decide el topic/canal de destino.
	Publish(ctx context.Context, evt sharedDomain.DomainEvent, routingKey string) error

	// PublishBatch publica un lote de filas de outbox preservando su orden.
	PublishBatch(ctx context.Context, events []sharedDomain.OutboxEvent) error

	// Healthy indica si el broker es alcanzable.
	Healthy(ctx context.Context) bool
}
