package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// EventStorePostgres implementa sharedDomain.EventStore sobre Postgres.
type EventStorePostgres struct {
	db *sql.DB
}

func NewEventStorePostgres(db *sql.DB) *EventStorePostgres {
	return &EventStorePostgres{db: db}
}

// ------------------ Append + Outbox (misma transacción) ------------------

// Append comprueba la versión actual, inserta los eventos y sus filas de
// outbox dentro de una única transacción. La condición UNIQUE(aggregate_id,
// version) actúa de red de seguridad frente a la carrera entre el chequeo y
// el insert: el perdedor recibe OptimisticConcurrencyError igualmente.
func (s *EventStorePostgres) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int64, events []sharedDomain.DomainEvent, routingKey string) (int64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var current int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id=$1`,
		aggregateID,
	).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}

	if current != expectedVersion {
		err = &sharedDomain.OptimisticConcurrencyError{
			AggregateID:     aggregateID,
			ExpectedVersion: expectedVersion,
			ActualVersion:   current,
		}
		return 0, err
	}

	newVersion := expectedVersion
	for _, evt := range events {
		metaBytes, mErr := json.Marshal(evt.Metadata)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal event metadata: %w", mErr)
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			evt.ID, evt.AggregateID, aggregateType, evt.Type, evt.Version, []byte(evt.Data), metaBytes, evt.OccurredAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				err = s.concurrencyConflict(ctx, aggregateID, expectedVersion)
			} else {
				err = fmt.Errorf("failed to insert event: %w", err)
			}
			return 0, err
		}

		if err = insertOutboxTx(ctx, tx, evt, routingKey); err != nil {
			return 0, err
		}

		newVersion = evt.Version
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}
	return newVersion, nil
}

// insertOutboxTx inserta la fila de outbox en la misma transacción que el
// evento. El insert es idempotente por event_id: un duplicado es un no-op.
func insertOutboxTx(ctx context.Context, tx *sql.Tx, evt sharedDomain.DomainEvent, routingKey string) error {
	metaBytes, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO outbox_events
		   (id, event_id, event_type, aggregate_id, aggregate_type, version, event_data, metadata, occurred_at,
		    status, retry_count, max_retries, routing_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, now(), now())
		 ON CONFLICT (event_id) DO NOTHING`,
		uuid.New(), evt.ID, evt.Type, evt.AggregateID, evt.AggregateType, evt.Version, []byte(evt.Data), metaBytes, evt.OccurredAt,
		string(sharedDomain.OutboxPending), defaultMaxRetries, routingKey,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// concurrencyConflict relee la versión real para informar bien al llamante.
func (s *EventStorePostgres) concurrencyConflict(ctx context.Context, aggregateID uuid.UUID, expected int64) error {
	var actual int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id=$1`,
		aggregateID,
	).Scan(&actual); err != nil {
		actual = -1 // desconocida; el conflicto sigue siendo el error principal
	}
	return &sharedDomain.OptimisticConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ------------------ Lectura ------------------

func (s *EventStorePostgres) ReadStream(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]sharedDomain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at
		 FROM events WHERE aggregate_id=$1 AND version > $2 ORDER BY version`,
		aggregateID, fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

	// La lectura debe ser estrictamente creciente y sin huecos: un hueco es
	// corrupción del log, no una condición recuperable.
	expected := fromVersion + 1
	for _, evt := range events {
		if evt.Version != expected {
			return nil, fmt.Errorf("%w: aggregate %s expected version %d, got %d",
				sharedDomain.ErrStreamIntegrity, aggregateID, expected, evt.Version)
		}
		expected++
	}

	return events, nil
}

func (s *EventStorePostgres) ReadEvents(ctx context.Context, q sharedDomain.EventQuery) ([]sharedDomain.DomainEvent, error) {
	query := `SELECT event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at FROM events`
	var clauses []string
	var args []interface{}

	appendClause := func(cond string, val interface{}) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(cond, len(args)))
	}

	if q.AggregateID != nil {
		appendClause("aggregate_id=$%d", *q.AggregateID)
	}
	if q.AggregateType != nil {
		appendClause("aggregate_type=$%d", *q.AggregateType)
	}
	if q.From != nil {
		appendClause("occurred_at >= $%d", *q.From)
	}
	if q.To != nil {
		appendClause("occurred_at < $%d", *q.To)
	}

	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}

	query += " ORDER BY occurred_at, version"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]sharedDomain.DomainEvent, error) {
	var events []sharedDomain.DomainEvent
	for rows.Next() {
		var evt sharedDomain.DomainEvent
		var data, meta []byte

		if err := rows.Scan(&evt.ID, &evt.AggregateID, &evt.AggregateType, &evt.Type, &evt.Version, &data, &meta, &evt.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		evt.Data = json.RawMessage(data)
		if err := json.Unmarshal(meta, &evt.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata JSON in event %s: %w", evt.ID, err)
		}

		events = append(events, evt)
	}
	return events, rows.Err()
}

// ------------------ Snapshots ------------------

func (s *EventStorePostgres) SaveSnapshot(ctx context.Context, snap sharedDomain.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (aggregate_id) DO UPDATE
		   SET version=excluded.version, state=excluded.state, created_at=excluded.created_at
		 WHERE snapshots.version < excluded.version`,
		snap.AggregateID, snap.AggregateType, snap.Version, []byte(snap.State), snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *EventStorePostgres) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*sharedDomain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots WHERE aggregate_id=$1`,
		aggregateID,
	)

	var snap sharedDomain.Snapshot
	var state []byte
	if err := row.Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &state, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	snap.State = json.RawMessage(state)

	return &snap, nil
}

// ------------------ Inicialización ------------------

const defaultMaxRetries = 5

func InitPostgres(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		event_id UUID UNIQUE NOT NULL,
		aggregate_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		type TEXT NOT NULL,
		version BIGINT NOT NULL,
		data JSONB NOT NULL,
		metadata JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		UNIQUE (aggregate_id, version)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox_events (
		id UUID PRIMARY KEY,
		event_id UUID UNIQUE NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		aggregate_type TEXT NOT NULL,
		version BIGINT NOT NULL,
		event_data JSONB NOT NULL,
		metadata JSONB NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		retry_count INT NOT NULL DEFAULT 0,
		max_retries INT NOT NULL,
		next_retry_at TIMESTAMPTZ,
		last_error TEXT,
		routing_key TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		return err
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events (status)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_status_retry ON outbox_events (status, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate ON outbox_events (aggregate_type, aggregate_id)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		aggregate_id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		version BIGINT NOT NULL,
		state JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`)
	return err
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*EventStorePostgres)(nil)
