package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/google/uuid"
	sqlitelib "modernc.org/sqlite"
)

// EventStoreSQLite implementa sharedDomain.EventStore para despliegues
// locales. Mismo contrato que Postgres; SQLite serializa los escritores, pero
// el chequeo de versión se mantiene idéntico para conservar la semántica.
type EventStoreSQLite struct {
	db *sql.DB
}

func NewEventStoreSQLite(db *sql.DB) *EventStoreSQLite {
	return &EventStoreSQLite{db: db}
}

const defaultMaxRetries = 5

// ------------------ Append + Outbox (misma transacción) ------------------

func (s *EventStoreSQLite) Append(ctx context.Context, aggregateID uuid.UUID, aggregateType string, expectedVersion int64, events []sharedDomain.DomainEvent, routingKey string) (int64, error) {
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
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID.String(),
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

	now := time.Now().UTC()
	newVersion := expectedVersion
	for _, evt := range events {
		metaBytes, mErr := json.Marshal(evt.Metadata)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal event metadata: %w", mErr)
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			evt.ID.String(), evt.AggregateID.String(), aggregateType, evt.Type, evt.Version,
			string(evt.Data), string(metaBytes), evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			// Dos escritores que pasaron el chequeo de versión chocan aquí
			// contra el índice único (aggregate_id, version).
			if isUniqueViolation(err) {
				err = s.concurrencyConflict(ctx, aggregateID, expectedVersion)
			} else {
				err = fmt.Errorf("failed to insert event: %w", err)
			}
			return 0, err
		}

		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO outbox_events
			   (id, event_id, event_type, aggregate_id, aggregate_type, version, event_data, metadata, occurred_at,
			    status, retry_count, max_retries, routing_key, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			uuid.New().String(), evt.ID.String(), evt.Type, evt.AggregateID.String(), evt.AggregateType,
			evt.Version, string(evt.Data), string(metaBytes), evt.OccurredAt.UTC().Format(time.RFC3339Nano),
			string(sharedDomain.OutboxPending), defaultMaxRetries, routingKey,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert outbox event: %w", err)
		}

		newVersion = evt.Version
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit append: %w", err)
	}
	return newVersion, nil
}

// concurrencyConflict relee la versión real para informar bien al llamante.
func (s *EventStoreSQLite) concurrencyConflict(ctx context.Context, aggregateID uuid.UUID, expected int64) error {
	var actual int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = ?`,
		aggregateID.String(),
	).Scan(&actual); err != nil {
		actual = -1 // desconocida; el conflicto sigue siendo el error principal
	}
	return &sharedDomain.OptimisticConcurrencyError{
		AggregateID:     aggregateID,
		ExpectedVersion: expected,
		ActualVersion:   actual,
	}
}

// isUniqueViolation detecta violaciones de restricción única. SQLITE_CONSTRAINT
// es el código primario 19; los códigos extendidos (2067 UNIQUE, 1555 PK)
// conservan ese byte bajo.
func isUniqueViolation(err error) bool {
	var sqErr *sqlitelib.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()&0xff == 19
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ------------------ Lectura ------------------

func (s *EventStoreSQLite) ReadStream(ctx context.Context, aggregateID uuid.UUID, fromVersion int64) ([]sharedDomain.DomainEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at
		 FROM events WHERE aggregate_id = ? AND version > ? ORDER BY version`,
		aggregateID.String(), fromVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}

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

func (s *EventStoreSQLite) ReadEvents(ctx context.Context, q sharedDomain.EventQuery) ([]sharedDomain.DomainEvent, error) {
	query := `SELECT event_id, aggregate_id, aggregate_type, type, version, data, metadata, occurred_at FROM events`
	var clauses []string
	var args []interface{}

	if q.AggregateID != nil {
		clauses = append(clauses, "aggregate_id = ?")
		args = append(args, q.AggregateID.String())
	}
	if q.AggregateType != nil {
		clauses = append(clauses, "aggregate_type = ?")
		args = append(args, *q.AggregateType)
	}
	if q.From != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, q.From.UTC().Format(time.RFC3339Nano))
	}
	if q.To != nil {
		clauses = append(clauses, "occurred_at < ?")
		args = append(args, q.To.UTC().Format(time.RFC3339Nano))
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY occurred_at, version"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
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
		var idStr, aggIDStr, data, meta, occurredAt string

		if err := rows.Scan(&idStr, &aggIDStr, &evt.AggregateType, &evt.Type, &evt.Version, &data, &meta, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}

		var err error
		if evt.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid UUID in event row: %w", err)
		}
		if evt.AggregateID, err = uuid.Parse(aggIDStr); err != nil {
			return nil, fmt.Errorf("invalid aggregate UUID in event row: %w", err)
		}
		if evt.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("invalid timestamp in event %s: %w", evt.ID, err)
		}

		evt.Data = json.RawMessage(data)
		if err := json.Unmarshal([]byte(meta), &evt.Metadata); err != nil {
			return nil, fmt.Errorf("invalid metadata JSON in event %s: %w", evt.ID, err)
		}

		events = append(events, evt)
	}
	return events, rows.Err()
}

// ------------------ Snapshots ------------------

func (s *EventStoreSQLite) SaveSnapshot(ctx context.Context, snap sharedDomain.Snapshot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (aggregate_id, aggregate_type, version, state, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (aggregate_id) DO UPDATE
		   SET version=excluded.version, state=excluded.state, created_at=excluded.created_at
		 WHERE snapshots.version < excluded.version`,
		snap.AggregateID.String(), snap.AggregateType, snap.Version, string(snap.State),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func (s *EventStoreSQLite) LatestSnapshot(ctx context.Context, aggregateID uuid.UUID) (*sharedDomain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT aggregate_id, aggregate_type, version, state, created_at
		 FROM snapshots WHERE aggregate_id = ?`,
		aggregateID.String(),
	)

	var snap sharedDomain.Snapshot
	var idStr, state, createdAt string
	if err := row.Scan(&idStr, &snap.AggregateType, &snap.Version, &state, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var err error
	if snap.AggregateID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid UUID in snapshot row: %w", err)
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("invalid timestamp in snapshot row: %w", err)
	}
	snap.State = json.RawMessage(state)

	return &snap, nil
}

// ------------------ Inicialización ------------------

func InitSQLite(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT UNIQUE NOT NULL,
		aggregate_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		type TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		metadata TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		UNIQUE (aggregate_id, version)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY,
		event_id TEXT UNIQUE NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		event_data TEXT NOT NULL,
		metadata TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL,
		next_retry_at TEXT,
		last_error TEXT,
		routing_key TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
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
		aggregate_id TEXT PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		version INTEGER NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`)
	return err
}

// Verificación en tiempo de compilación.
var _ sharedDomain.EventStore = (*EventStoreSQLite)(nil)
