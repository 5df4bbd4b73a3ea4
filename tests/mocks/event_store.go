package mocks

import (
	"context"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// InMemoryEventStore es un event store en memoria para tests. Replica el
// contrato del adapter real: control de concurrencia optimista, versiones
// sin huecos y escritura atómica de stream + outbox (el slice Outbox permite
// a los tests verificar esa atomicidad).
type InMemoryEventStore struct {
	mu        sync.Mutex
	streams   map[uuid.UUID][]sharedDomain.DomainEvent
	snapshots map[uuid.UUID]sharedDomain.Snapshot
	Outbox    []sharedDomain.OutboxEvent

	// FailAppendWith fuerza el siguiente Append a fallar con este error.
	FailAppendWith error
}

var _ sharedDomain.EventStore = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		streams:   make(map[uuid.UUID][]sharedDomain.DomainEvent),
		snapshots: make(map[uuid.UUID]sharedDomain.Snapshot),
	}
}

func (s *InMemoryEventStore) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int64, events []sharedDomain.DomainEvent, routingKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailAppendWith != nil {
		err := s.FailAppendWith
		s.FailAppendWith = nil
		return 0, err
	}

	stream := s.streams[aggregateID]
	actual := int64(len(stream))
	if actual != expectedVersion {
		return 0, &sharedDomain.OptimisticConcurrencyError{
			AggregateID:     aggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   actual,
		}
	}

	now := time.Now().UTC()
	for _, evt := range events {
		stream = append(stream, evt)
		s.Outbox = append(s.Outbox, sharedDomain.OutboxEvent{
			ID:         evt.ID,
			Event:      evt,
			Status:     sharedDomain.OutboxPending,
			MaxRetries: 5,
			RoutingKey: routingKey,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	s.streams[aggregateID] = stream
	return int64(len(stream)), nil
}

func (s *InMemoryEventStore) ReadStream(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]sharedDomain.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sharedDomain.DomainEvent
	for _, evt := range s.streams[aggregateID] {
		if evt.Version > fromVersion {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (s *InMemoryEventStore) ReadEvents(ctx context.Context, q sharedDomain.EventQuery) ([]sharedDomain.DomainEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []sharedDomain.DomainEvent
	for id, stream := range s.streams {
		if q.AggregateID != nil && *q.AggregateID != id {
			continue
		}
		for _, evt := range stream {
			if q.AggregateType != nil && evt.AggregateType != *q.AggregateType {
				continue
			}
			if q.From != nil && evt.OccurredAt.Before(*q.From) {
				continue
			}
			if q.To != nil && evt.OccurredAt.After(*q.To) {
				continue
			}
			out = append(out, evt)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (s *InMemoryEventStore) SaveSnapshot(ctx context.Context, snap sharedDomain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshots[snap.AggregateID]; ok && existing.Version >= snap.Version {
		return nil
	}
	snap.CreatedAt = time.Now().UTC()
	s.snapshots[snap.AggregateID] = snap
	return nil
}

func (s *InMemoryEventStore) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*sharedDomain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

// SnapshotCount expone cuántos snapshots se han guardado, para asserts.
func (s *InMemoryEventStore) SnapshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// StreamLength devuelve la longitud del stream de un agregado.
func (s *InMemoryEventStore) StreamLength(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[id])
}

// SeedProduct es un atajo para sembrar un producto ya creado en los tests.
func (s *InMemoryEventStore) SeedProduct(id uuid.UUID, events ...sharedDomain.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = append(s.streams[id], events...)
}
