package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
)

// EventArchive vuelca eventos confirmados del log a ClickHouse para tooling
// de auditoría y analítica. Es un destino best-effort: nunca participa en la
// transacción del event store.
type EventArchive struct {
	db *sql.DB
}

// NewEventArchive es el constructor.
func NewEventArchive(addr string, dbName string) (*EventArchive, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}

	return &EventArchive{db: conn}, nil
}

// ArchiveBatch inserta un lote de eventos. ClickHouse funciona mejor con
// inserciones en lotes, así que agrupamos todo en una transacción.
func (a *EventArchive) ArchiveBatch(ctx context.Context, events []sharedDomain.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO events_log (event_id, aggregate_id, aggregate_type, type, version, data, correlation_id, source, occurred_at, archived_at)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	archivedAt := time.Now().UTC()
	for _, evt := range events {
		if _, err := stmt.ExecContext(
			ctx,
			evt.ID.String(),
			evt.AggregateID.String(),
			evt.AggregateType,
			evt.Type,
			evt.Version,
			string(evt.Data),
			evt.Metadata.CorrelationID,
			evt.Metadata.Source,
			evt.OccurredAt,
			archivedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to exec statement for event %s: %w", evt.ID, err)
		}
	}

	return tx.Commit()
}

// Archiver copia periódicamente los eventos nuevos del store al archivo,
// usando ReadEvents con una marca de tiempo de avance.
type Archiver struct {
	store     sharedDomain.EventStore
	archive   *EventArchive
	batchSize int
	lastSeen  time.Time
}

func NewArchiver(store sharedDomain.EventStore, archive *EventArchive, batchSize int) *Archiver {
	return &Archiver{
		store:     store,
		archive:   archive,
		batchSize: batchSize,
		lastSeen:  time.Time{},
	}
}

// Run archiva los eventos ocurridos desde la última pasada.
func (a *Archiver) Run(ctx context.Context) error {
	from := a.lastSeen
	events, err := a.store.ReadEvents(ctx, sharedDomain.EventQuery{
		From:  &from,
		Limit: a.batchSize,
	})
	if err != nil {
		return fmt.Errorf("failed to read events for archiving: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	if err := a.archive.ArchiveBatch(ctx, events); err != nil {
		return err
	}

	a.lastSeen = events[len(events)-1].OccurredAt
	return nil
}
