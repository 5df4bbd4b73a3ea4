package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
)

// OutboxRepoSQLite implementa sharedDomain.OutboxRepository.
// SQLite no soporta SKIP LOCKED; el claim se hace en una transacción
// (SELECT + UPDATE condicionado por status), que con el único escritor de
// SQLite es igualmente atómico frente a otro procesador.
type OutboxRepoSQLite struct {
	db *sql.DB
}

func NewOutboxRepoSQLite(db *sql.DB) *OutboxRepoSQLite {
	return &OutboxRepoSQLite{db: db}
}

const outboxColumns = `id, event_id, event_type, aggregate_id, aggregate_type, version, event_data, metadata, occurred_at,
	status, retry_count, max_retries, next_retry_at, last_error, routing_key, created_at, updated_at`

func (r *OutboxRepoSQLite) ClaimPending(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	return r.claim(ctx, limit,
		`SELECT `+outboxColumns+` FROM outbox_events
		 WHERE status = ?
		 ORDER BY created_at LIMIT ?`,
		string(sharedDomain.OutboxPending),
	)
}

func (r *OutboxRepoSQLite) ClaimFailedForRetry(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return r.claim(ctx, limit,
		`SELECT `+outboxColumns+` FROM outbox_events
		 WHERE status = ?
		   AND retry_count < max_retries
		   AND (next_retry_at IS NULL OR next_retry_at <= ?)
		 ORDER BY created_at LIMIT ?`,
		string(sharedDomain.OutboxFailed), now,
	)
}

// claim selecciona las filas candidatas y las marca PROCESSING en la misma
// transacción; el UPDATE re-comprueba el status original para no robar filas
// ya reclamadas.
func (r *OutboxRepoSQLite) claim(ctx context.Context, limit int, query string, statusArgs ...interface{}) ([]sharedDomain.OutboxEvent, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	args := append(append([]interface{}{}, statusArgs...), limit)
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox rows: %w", err)
	}

	events, err := scanOutboxRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, tx.Commit()
	}

	originalStatus := events[0].Status
	placeholders := make([]string, 0, len(events))
	updateArgs := []interface{}{
		string(sharedDomain.OutboxProcessing),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(originalStatus),
	}
	for _, evt := range events {
		placeholders = append(placeholders, "?")
		updateArgs = append(updateArgs, evt.ID.String())
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE outbox_events SET status = ?, updated_at = ?
		 WHERE status = ? AND id IN (`+strings.Join(placeholders, ",")+`)`,
		updateArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark outbox rows processing: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	for i := range events {
		events[i].Status = sharedDomain.OutboxProcessing
	}
	return events, nil
}

// RequeueStale recupera claims huérfanos: filas PROCESSING cuyo procesador
// murió (o no pudo marcarlas) vuelven a PENDING para el siguiente ciclo.
func (r *OutboxRepoSQLite) RequeueStale(ctx context.Context, olderThan time.Time) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		string(sharedDomain.OutboxPending), now,
		string(sharedDomain.OutboxProcessing), olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale outbox rows: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoSQLite) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	placeholders := make([]string, 0, len(ids))
	args := []interface{}{string(sharedDomain.OutboxPublished), now}
	for _, id := range ids {
		placeholders = append(placeholders, "?")
		args = append(args, id.String())
	}

	_, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events SET status = ?, updated_at = ?
		 WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox rows published: %w", err)
	}
	return nil
}

func (r *OutboxRepoSQLite) MarkFailed(ctx context.Context, id uuid.UUID, cause string, nextRetryAt time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.db.ExecContext(ctx,
		`UPDATE outbox_events
		 SET status = ?, retry_count = retry_count + 1, next_retry_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(sharedDomain.OutboxFailed), nextRetryAt.UTC().Format(time.RFC3339Nano), cause, now, id.String(),
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

func (r *OutboxRepoSQLite) CleanupPublished(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM outbox_events WHERE status = ? AND updated_at < ?`,
		string(sharedDomain.OutboxPublished), olderThan.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup published outbox rows: %w", err)
	}
	return res.RowsAffected()
}

func (r *OutboxRepoSQLite) Statistics(ctx context.Context) (sharedDomain.OutboxStatistics, error) {
	var stats sharedDomain.OutboxStatistics

	rows, err := r.db.QueryContext(ctx,
		`SELECT status, COUNT(*), SUM(CASE WHEN retry_count >= max_retries THEN 1 ELSE 0 END)
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

	var oldest sql.NullString
	if err := r.db.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM outbox_events WHERE status = ?`,
		string(sharedDomain.OutboxPending),
	).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest.Valid {
		if t, err := time.Parse(time.RFC3339Nano, oldest.String); err == nil {
			stats.OldestPending = time.Since(t)
		}
	}

	return stats, nil
}

func scanOutboxRows(rows *sql.Rows) ([]sharedDomain.OutboxEvent, error) {
	var events []sharedDomain.OutboxEvent
	for rows.Next() {
		var evt sharedDomain.OutboxEvent
		var idStr, eventIDStr, aggIDStr, data, meta, occurredAt, status, createdAt, updatedAt string
		var nextRetryAt, lastError, routingKey sql.NullString

		if err := rows.Scan(
			&idStr, &eventIDStr, &evt.Event.Type, &aggIDStr, &evt.Event.AggregateType,
			&evt.Event.Version, &data, &meta, &occurredAt,
			&status, &evt.RetryCount, &evt.MaxRetries, &nextRetryAt, &lastError, &routingKey,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}

		var err error
		if evt.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid UUID in outbox row: %w", err)
		}
		if evt.Event.ID, err = uuid.Parse(eventIDStr); err != nil {
			return nil, fmt.Errorf("invalid event UUID in outbox row: %w", err)
		}
		if evt.Event.AggregateID, err = uuid.Parse(aggIDStr); err != nil {
			return nil, fmt.Errorf("invalid aggregate UUID in outbox row: %w", err)
		}
		if evt.Event.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp in outbox row %s: %w", evt.ID, err)
		}
		if evt.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at in outbox row %s: %w", evt.ID, err)
		}
		if evt.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("invalid updated_at in outbox row %s: %w", evt.ID, err)
		}

		evt.Status = sharedDomain.OutboxStatus(status)
		evt.Event.Data = json.RawMessage(data)
		if err := json.Unmarshal([]byte(meta), &evt.Event.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata JSON in outbox row %s: %w", evt.ID, err)
		}
		if nextRetryAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, nextRetryAt.String); err == nil {
				evt.NextRetryAt = &t
			}
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
var _ sharedDomain.OutboxRepository = (*OutboxRepoSQLite)(nil)
