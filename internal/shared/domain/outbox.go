package domain

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// ---------------- Estado del outbox ----------------

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "PENDING"
	OutboxProcessing OutboxStatus = "PROCESSING"
	OutboxPublished  OutboxStatus = "PUBLISHED"
	OutboxFailed     OutboxStatus = "FAILED"
)

// OutboxEvent representa un evento a la espera de publicación en el broker.
// Se escribe en la MISMA transacción que el append al event store: nunca hay
// evento sin fila de outbox, ni fila de outbox sin evento.
type OutboxEvent struct {
	ID          uuid.UUID    `json:"id"`
	Event       DomainEvent  `json:"event"`
	Status      OutboxStatus `json:"status"`
	RetryCount  int          `json:"retry_count"`
	MaxRetries  int          `json:"max_retries"`
	NextRetryAt *time.Time   `json:"next_retry_at,omitempty"`
	LastError   *string      `json:"last_error,omitempty"`
	RoutingKey  string       `json:"routing_key,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Exhausted indica que la fila agotó sus reintentos y queda FAILED de forma
// permanente, visible solo a través de las estadísticas del outbox.
func (e OutboxEvent) Exhausted() bool {
	return e.Status == OutboxFailed && e.RetryCount >= e.MaxRetries
}

// ---------------- Política de reintentos ----------------

// RetryPolicy calcula el backoff exponencial entre publicaciones fallidas:
// delay = min(InitialDelay * Multiplier^retryCount, MaxDelay).
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2,
		MaxRetries:   5,
	}
}

// NextDelay devuelve el retardo antes del siguiente intento tras retryCount fallos.
func (p RetryPolicy) NextDelay(retryCount int) time.Duration {
	delay := time.Duration(float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(retryCount)))
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

// ---------------- Estadísticas ----------------

// OutboxStatistics expone el estado agregado de la tabla outbox; es la única
// visibilidad sobre filas que agotaron sus reintentos (no hay dead-letter).
type OutboxStatistics struct {
	Pending       int64         `json:"pending"`
	Processing    int64         `json:"processing"`
	Published     int64         `json:"published"`
	Failed        int64         `json:"failed"`
	Exhausted     int64         `json:"exhausted"`
	OldestPending time.Duration `json:"oldest_pending"`
}

// ---------------- Puerto ----------------

// OutboxRepository define el contrato de la tabla outbox que usa el relayer.
//
// ClaimPending y ClaimFailedForRetry reclaman filas de forma atómica
// (PENDING→PROCESSING en una sola operación) para que dos instancias del
// procesador jamás publiquen el mismo evento dos veces. Devuelven las filas
// en orden FIFO por created_at.
type OutboxRepository interface {
	ClaimPending(ctx context.Context, limit int) ([]OutboxEvent, error)

	// ClaimFailedForRetry reclama filas FAILED con retry_count < max_retries
	// cuyo next_retry_at ya venció (o es NULL).
	ClaimFailedForRetry(ctx context.Context, limit int) ([]OutboxEvent, error)

	// RequeueStale devuelve a PENDING filas PROCESSING con updated_at anterior
	// a olderThan: claims huérfanos de un procesador caído o de un marcado que
	// falló. Devuelve cuántas filas se recuperaron.
	RequeueStale(ctx context.Context, olderThan time.Time) (int64, error)

	MarkPublished(ctx context.Context, ids []uuid.UUID) error

	// MarkFailed incrementa retry_count y fija next_retry_at calculado por el
	// procesador según su RetryPolicy.
	MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error

	// CleanupPublished borra filas PUBLISHED anteriores a olderThan.
	// Nunca toca filas PENDING ni FAILED.
	CleanupPublished(ctx context.Context, olderThan time.Time) (int64, error)

	Statistics(ctx context.Context) (OutboxStatistics, error)
}
