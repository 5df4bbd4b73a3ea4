package events

import (
	"context"
	"sync"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
)

// InMemoryEventBus implementa el puerto del broker con canales de Go, para
// despliegues locales y tests. El envío respeta el contexto: si un suscriptor
// no drena su canal, Publish espera hasta que el contexto se cancele.
type InMemoryEventBus struct {
	subscribers []chan sharedDomain.DomainEvent
	mu          sync.RWMutex
}

// Verifica en tiempo de compilación que cumple la interfaz
var _ sharedBus.EventPublisher = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus() *InMemoryEventBus {
	return &InMemoryEventBus{
		subscribers: make([]chan sharedDomain.DomainEvent, 0),
	}
}

// Publish envía un evento a todos los suscriptores del bus.
func (b *InMemoryEventBus) Publish(ctx context.Context, evt sharedDomain.DomainEvent, routingKey string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, subChan := range b.subscribers {
		select {
		case subChan <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// PublishBatch publica las filas de outbox una a una, preservando el orden.
func (b *InMemoryEventBus) PublishBatch(ctx context.Context, events []sharedDomain.OutboxEvent) error {
	for _, evt := range events {
		if err := b.Publish(ctx, evt.Event, evt.RoutingKey); err != nil {
			return err
		}
	}
	return nil
}

func (b *InMemoryEventBus) Healthy(ctx context.Context) bool {
	return true
}

// Subscribe suscribe un nuevo oyente a este bus.
func (b *InMemoryEventBus) Subscribe(bufferSize int) <-chan sharedDomain.DomainEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	subChan := make(chan sharedDomain.DomainEvent, bufferSize)
	b.subscribers = append(b.subscribers, subChan)
	return subChan
}
