package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// InMemoryOutboxRepo replica la semántica de los adapters reales de outbox:
// claims atómicos PENDING→PROCESSING en orden FIFO, reintentos con
// next_retry_at y limpieza solo de filas publicadas.
type InMemoryOutboxRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*sharedDomain.OutboxEvent

	// Now permite congelar el reloj en los tests; nil usa time.Now.
	Now func() time.Time

	// FailMarkPublishedWith hace fallar el siguiente MarkPublished una sola
	// vez, para simular un crash entre publicar y marcar.
	FailMarkPublishedWith error
}

var _ sharedDomain.OutboxRepository = (*InMemoryOutboxRepo)(nil)

func NewInMemoryOutboxRepo() *InMemoryOutboxRepo {
	return &InMemoryOutboxRepo{rows: make(map[uuid.UUID]*sharedDomain.OutboxEvent)}
}

func (r *InMemoryOutboxRepo) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now().UTC()
}

// Add siembra una fila de outbox.
func (r *InMemoryOutboxRepo) Add(evt sharedDomain.OutboxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := evt
	r.rows[evt.ID] = &copied
}

func (r *InMemoryOutboxRepo) ClaimPending(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	return r.claim(limit, func(row *sharedDomain.OutboxEvent) bool {
		return row.Status == sharedDomain.OutboxPending
	})
}

func (r *InMemoryOutboxRepo) ClaimFailedForRetry(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	now := r.now()
	return r.claim(limit, func(row *sharedDomain.OutboxEvent) bool {
		if row.Status != sharedDomain.OutboxFailed || row.RetryCount >= row.MaxRetries {
			return false
		}
		return row.NextRetryAt == nil || !row.NextRetryAt.After(now)
	})
}

func (r *InMemoryOutboxRepo) claim(limit int, eligible func(*sharedDomain.OutboxEvent) bool) ([]sharedDomain.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*sharedDomain.OutboxEvent
	for _, row := range r.rows {
		if eligible(row) {
			candidates = append(candidates, row)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]sharedDomain.OutboxEvent, 0, len(candidates))
	for _, row := range candidates {
		row.Status = sharedDomain.OutboxProcessing
		row.UpdatedAt = r.now()
		claimed = append(claimed, *row)
	}
	return claimed, nil
}

func (r *InMemoryOutboxRepo) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var requeued int64
	for _, row := range r.rows {
		if row.Status == sharedDomain.OutboxProcessing && row.UpdatedAt.Before(olderThan) {
			row.Status = sharedDomain.OutboxPending
			row.UpdatedAt = r.now()
			requeued++
		}
	}
	return requeued, nil
}

func (r *InMemoryOutboxRepo) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.FailMarkPublishedWith != nil {
		err := r.FailMarkPublishedWith
		r.FailMarkPublishedWith = nil
		return err
	}

	for _, id := range ids {
		if row, ok := r.rows[id]; ok {
			row.Status = sharedDomain.OutboxPublished
			row.UpdatedAt = r.now()
		}
	}
	return nil
}

func (r *InMemoryOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return nil
	}
	row.Status = sharedDomain.OutboxFailed
	row.RetryCount++
	row.LastError = &cause
	row.NextRetryAt = &nextRetryAt
	row.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryOutboxRepo) CleanupPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for id, row := range r.rows {
		if row.Status == sharedDomain.OutboxPublished && row.UpdatedAt.Before(olderThan) {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *InMemoryOutboxRepo) Statistics(ctx context.Context) (sharedDomain.OutboxStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats sharedDomain.OutboxStatistics
	now := r.now()
	var oldestPending *time.Time

	for _, row := range r.rows {
		switch row.Status {
		case sharedDomain.OutboxPending:
			stats.Pending++
			if oldestPending == nil || row.CreatedAt.Before(*oldestPending) {
				created := row.CreatedAt
				oldestPending = &created
			}
		case sharedDomain.OutboxProcessing:
			stats.Processing++
		case sharedDomain.OutboxPublished:
			stats.Published++
		case sharedDomain.OutboxFailed:
			stats.Failed++
		}
		if row.Exhausted() {
			stats.Exhausted++
		}
	}
	if oldestPending != nil {
		stats.OldestPending = now.Sub(*oldestPending)
	}
	return stats, nil
}

// Row devuelve una copia de la fila para asserts.
func (r *InMemoryOutboxRepo) Row(id uuid.UUID) (sharedDomain.OutboxEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	if !ok {
		return sharedDomain.OutboxEvent{}, false
	}
	return *row, true
}
