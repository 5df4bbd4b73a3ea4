package domain

import "github.com/google/uuid"

// AggregateRoot lleva la contabilidad común de un agregado event-sourced:
// contador de versión (= número de eventos aplicados) y buffer de eventos
// sin confirmar producidos desde la última carga. El estado de dominio vive
// fuera, como valor inmutable con su función de fold pura.
//
// Un agregado pertenece en exclusiva al comando que lo cargó; nunca se
// comparte entre comandos concurrentes sin recargar.
type AggregateRoot struct {
	id            uuid.UUID
	aggregateType string
	version       int64
	uncommitted   []DomainEvent
}

func NewAggregateRoot(id uuid.UUID, aggregateType string) AggregateRoot {
	return AggregateRoot{id: id, aggregateType: aggregateType}
}

func (a *AggregateRoot) ID() uuid.UUID         { return a.id }
func (a *AggregateRoot) AggregateType() string { return a.aggregateType }

// Version siempre es igual a la versión del último evento aplicado (o 0).
func (a *AggregateRoot) Version() int64 { return a.version }

// NextVersion es la versión que llevará el próximo evento emitido.
func (a *AggregateRoot) NextVersion() int64 { return a.version + 1 }

// Record registra un evento nuevo: incrementa la versión y lo añade al
// buffer de eventos sin confirmar.
func (a *AggregateRoot) Record(evt DomainEvent) {
	a.version++
	a.uncommitted = append(a.uncommitted, evt)
}

// Replay avanza la versión durante la reconstrucción desde el stream, sin
// tocar el buffer de eventos sin confirmar.
func (a *AggregateRoot) Replay(evt DomainEvent) {
	a.version = evt.Version
}

// Restore posiciona el agregado en la versión de un snapshot.
func (a *AggregateRoot) Restore(version int64) {
	a.version = version
}

func (a *AggregateRoot) UncommittedEvents() []DomainEvent {
	return a.uncommitted
}

func (a *AggregateRoot) HasUncommittedEvents() bool {
	return len(a.uncommitted) > 0
}

// MarkEventsAsCommitted vacía el buffer tras un append exitoso al store.
func (a *AggregateRoot) MarkEventsAsCommitted() {
	a.uncommitted = nil
}
