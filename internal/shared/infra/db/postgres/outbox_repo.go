package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// OutboxRepoPostgres implementa sharedDomain.OutboxRepository.
type OutboxRepoPostgres struct {
	db *sql.DB
}

func NewOutboxRepoPostgres(db *sql.DB) *OutboxRepoPostgres {
	return &OutboxRepoPostgres{db: db}
}

const outboxColumns = `id, event_id, event_type, aggregate_id, aggregate_type, version, event_data, metadata, occurred_at,
	status, retry_count, max_retries, next_retry_at, last_error, routing_key, created_at, updated_at`

// ClaimPending reclama un lote de filas PENDING marcándolas PROCESSING en una
// sola sentencia. FOR UPDATE SKIP LOCKED garantiza que dos instancias del
// procesador nunca reclamen la misma fila.
func (r *OutboxRepoPostgres) ClaimPending(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE outbox_events SET status=$1, updated_at=now()
		 WHERE id IN (
		   SELECT id FROM outbox_events
		   WHERE status=$2
		   ORDER BY created_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		string(sharedDomain.OutboxProcessing), string(sharedDomain.OutboxPending), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending outbox rows: %w", err)
	}
	defer rows.Close()

	return scanOutboxRows(rows)
}

// ClaimFailedForRetry reclama filas FAILED reintentables cuyo backoff venció.
// Las filas que agotaron max_retries quedan fuera para siempre.
func (r *OutboxRepoPostgres) ClaimFailedForRetry(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE outbox_events SET status=$1, updated_at=now()
		 WHERE id IN (
		   SELECT id FROM outbox_events
		   WHERE status=$2
		     AND retry_count < max_retries
		     AND (next_retry_at IS NULL OR next_retry_at <= now())
		   ORDER BY created_at
		   LIMIT $3
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+outboxColumns,
		string(sharedDomain.OutboxProcessing), string(sharedDomain.OutboxFailed), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim failed outbox rows: %w", err)
	}
	defer rows.Close()

	return scanOutboxRows(rows)
}

// RequeueStale recupera claims huérfanos: filas PROCESSING cuyo procesador
// murió (o no pudo marcarlas) vuelven a PENDING para el siguiente ciclo.
func (r *OutboxRepoPostgres) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status=$1, updated_at=now()
		 WHERE status=$2 AND updated_at < $3`,
		string(sharedDomain.OutboxPending), string(sharedDomain.OutboxProcessing), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale outbox rows: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoPostgres) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx,
			`UPDATE outbox_events SET status=$1, updated_at=now() WHERE id=$2`,
			string(sharedDomain.OutboxPublished), id,
		); err != nil {
			return fmt.Errorf("failed to mark outbox event %s published: %w", id, err)
		}
	}

	return tx.Commit()
}

func (r *OutboxRepoPostgres) MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events
		 SET status=$1, retry_count=retry_count+1, next_retry_at=$2, last_error=$3, updated_at=now()
		 WHERE id=$4`,
		string(sharedDomain.OutboxFailed), nextRetryAt, cause, id,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get RowsAffected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}
	return nil
}

// CleanupPublished aplica la política de retención. Solo borra PUBLISHED.
func (r *OutboxRepoPostgres) CleanupPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE status=$1 AND updated_at < $2`,
		string(sharedDomain.OutboxPublished), olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup published outbox rows: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoPostgres) Statistics(ctx context.Context) (sharedDomain.OutboxStatistics, error) {
	var stats sharedDomain.OutboxStatistics

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*), COUNT(*) FILTER (WHERE retry_count >= max_retries)
		 FROM outbox_events GROUP BY status`,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to read outbox statistics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count, exhausted int64
		if err := rows.Scan(&status, &count, &exhausted); err != nil {
			return stats, err
		}
		switch sharedDomain.OutboxStatus(status) {
		case sharedDomain.OutboxPending:
			stats.Pending = count
		case sharedDomain.OutboxProcessing:
			stats.Processing = count
		case sharedDomain.OutboxPublished:
			stats.Published = count
		case sharedDomain.OutboxFailed:
			stats.Failed = count
			stats.Exhausted = exhausted
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM outbox_events WHERE status=$1`,
		string(sharedDomain.OutboxPending),
	).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		stats.OldestPending = time.Since(oldest.Time)
	}

	return stats, nil
}

func scanOutboxRows(rows *sql.Rows) ([]sharedDomain.OutboxEvent, error) {
	var events []sharedDomain.OutboxEvent
	for rows.Next() {
		var evt sharedDomain.OutboxEvent
		var data, meta []byte
		var nextRetryAt sql.NullTime
		var lastError, routingKey sql.NullString
		var status string

		if err := rows.Scan(
			&evt.ID, &evt.Event.ID, &evt.Event.Type, &evt.Event.AggregateID, &evt.Event.AggregateType,
			&evt.Event.Version, &data, &meta, &evt.Event.OccurredAt,
			&status, &evt.RetryCount, &evt.MaxRetries, &nextRetryAt, &lastError, &routingKey,
			&evt.CreatedAt, &evt.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		evt.Status = sharedDomain.OutboxStatus(status)
		evt.Event.Data = json.RawMessage(data)
		if err := json.Unmarshal(meta, &evt.Event.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata JSON in outbox row %s: %w", evt.ID, err)
		}
		if nextRetryAt.Valid {
			t := nextRetryAt.Time
			evt.NextRetryAt = &t
		}
		if lastError.Valid {
			s := lastError.String
			evt.LastError = &s
		}
		if routingKey.Valid {
			evt.RoutingKey = routingKey.String
		}

		events = append(events, evt)
	}
	return events, rows.Err()
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxRepository = (*OutboxRepoPostgres)(nil)
