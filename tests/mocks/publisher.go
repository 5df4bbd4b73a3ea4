package mocks

import (
	"context"
	"sync"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
)

// RecordingPublisher registra todo lo publicado y permite inyectar fallos,
// para verificar la lógica de reintentos del relayer.
type RecordingPublisher struct {
	mu        sync.Mutex
	published []sharedDomain.DomainEvent
	keys      []string

	// FailWith hace fallar Publish mientras no sea nil. Con FailTimes > 0
	// solo fallan las N primeras publicaciones; con FailTimes == 0 fallan
	// todas hasta que el test limpie FailWith.
	FailWith  error
	FailTimes int

	Broken bool // Healthy() devuelve false
}

var _ sharedBus.EventPublisher = (*RecordingPublisher)(nil)

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(ctx context.Context, evt sharedDomain.DomainEvent, routingKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailWith != nil {
		err := p.FailWith
		if p.FailTimes > 0 {
			p.FailTimes--
			if p.FailTimes == 0 {
				p.FailWith = nil
			}
		}
		return err
	}

	p.published = append(p.published, evt)
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *RecordingPublisher) PublishBatch(ctx context.Context, events []sharedDomain.OutboxEvent) error {
	for _, evt := range events {
		if err := p.Publish(ctx, evt.Event, evt.RoutingKey); err != nil {
			return err
		}
	}
	return nil
}

func (p *RecordingPublisher) Healthy(ctx context.Context) bool {
	return !p.Broken
}

// Published devuelve una copia de los eventos publicados en orden.
func (p *RecordingPublisher) Published() []sharedDomain.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sharedDomain.DomainEvent(nil), p.published...)
}

// RoutingKeys devuelve las claves de enrutado usadas, en orden.
func (p *RecordingPublisher) RoutingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
