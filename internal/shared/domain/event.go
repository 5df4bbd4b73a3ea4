package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventMetadata acompaña a cada evento con información de trazabilidad.
type EventMetadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// DomainEvent es el sobre inmutable que se persiste en el event store.
// Una vez añadido al stream no se modifica ni se borra (append-only).
// Version es un entero estrictamente creciente y sin huecos por agregado,
// empezando en 1; (AggregateID, Version) es único.
type DomainEvent struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	Data          json.RawMessage `json:"data"`
	Metadata      EventMetadata   `json:"metadata"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PartitionKey agrupa los eventos de un mismo agregado en la misma partición
// del broker, preservando el orden por versión de extremo a extremo.
func (e DomainEvent) PartitionKey() string {
	return e.AggregateID.String()
}

// NewDomainEvent construye el sobre serializando el payload del evento.
func NewDomainEvent(eventType string, aggregateID uuid.UUID, aggregateType string, version int64, payload interface{}, meta EventMetadata) (DomainEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, err
	}

	return DomainEvent{
		ID:            uuid.New(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Version:       version,
		Data:          data,
		Metadata:      meta,
		OccurredAt:    time.Now().UTC(),
	}, nil
}

// EventQuery describe una consulta sobre el log para tooling de auditoría/replay.
type EventQuery struct {
	AggregateID   *uuid.UUID
	AggregateType *string
	From          *time.Time
	To            *time.Time
	Limit         int
}
