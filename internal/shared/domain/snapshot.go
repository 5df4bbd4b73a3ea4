package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot materializa el estado de un agregado en una versión concreta para
// acotar el coste del replay. Un snapshot más los eventos posteriores a su
// versión debe reconstruir exactamente el mismo estado que el replay completo.
type Snapshot struct {
	AggregateID   uuid.UUID       `json:"aggregate_id"`
	AggregateType string          `json:"aggregate_type"`
	Version       int64           `json:"version"`
	State         json.RawMessage `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SnapshotPolicy decide cada cuántos eventos se toma un snapshot.
type SnapshotPolicy struct {
	Every int64 // 0 desactiva los snapshots
}

func (p SnapshotPolicy) ShouldSnapshot(version int64) bool {
	return p.Every > 0 && version > 0 && version%p.Every == 0
}
