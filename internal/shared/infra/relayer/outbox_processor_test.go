package relayer

import (
	"context"
	"errors"
	"testing"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/tests/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProcessor(repo sharedDomain.OutboxRepository, pub *mocks.RecordingPublisher) *Processor {
	return NewProcessor(repo, pub, sharedDomain.DefaultRetryPolicy(),
		10*time.Millisecond, 50, time.Hour, zap.NewNop())
}

func outboxRow(t *testing.T, version int64, createdAt time.Time) sharedDomain.OutboxEvent {
	t.Helper()
	return outboxRowFor(t, uuid.New(), version, createdAt)
}

func outboxRowFor(t *testing.T, aggregateID uuid.UUID, version int64, createdAt time.Time) sharedDomain.OutboxEvent {
	t.Helper()
	evt, err := sharedDomain.NewDomainEvent("product.created", aggregateID, "product", version,
		map[string]string{"sku": "SKU-001"}, sharedDomain.EventMetadata{})
	require.NoError(t, err)

	return sharedDomain.OutboxEvent{
		ID:         evt.ID,
		Event:      evt,
		Status:     sharedDomain.OutboxPending,
		MaxRetries: 5,
		RoutingKey: "catalog.product",
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestProcessBatch_PublishesAndMarksInOrder(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	base := time.Now().UTC()
	first := outboxRow(t, 1, base)
	second := outboxRow(t, 2, base.Add(time.Millisecond))
	repo.Add(first)
	repo.Add(second)

	p.ProcessBatch(context.Background())

	published := pub.Published()
	require.Len(t, published, 2)
	assert.Equal(t, int64(1), published[0].Version, "FIFO: primero la versión 1")
	assert.Equal(t, int64(2), published[1].Version)

	row, ok := repo.Row(first.ID)
	require.True(t, ok)
	assert.Equal(t, sharedDomain.OutboxPublished, row.Status)

	// Segundo ciclo: nada pendiente, nada se re-publica.
	p.ProcessBatch(context.Background())
	assert.Len(t, pub.Published(), 2)
}

func TestProcessBatch_FailureSchedulesBackoff(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	pub.FailWith = errors.New("kafka: broker unreachable")
	p := newProcessor(repo, pub)

	row := outboxRow(t, 1, time.Now().UTC())
	repo.Add(row)

	before := time.Now().UTC()
	p.ProcessBatch(context.Background())

	failed, ok := repo.Row(row.ID)
	require.True(t, ok)
	assert.Equal(t, sharedDomain.OutboxFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.NextRetryAt)
	require.NotNil(t, failed.LastError)
	assert.Contains(t, *failed.LastError, "broker unreachable")

	// Primer fallo: backoff = InitialDelay (1s).
	assert.WithinDuration(t, before.Add(1*time.Second), *failed.NextRetryAt, 200*time.Millisecond)
	assert.Empty(t, pub.Published())
}

func TestProcessRetries_RepublishesAfterBackoffExpires(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	row := outboxRow(t, 1, time.Now().UTC())
	row.Status = sharedDomain.OutboxFailed
	row.RetryCount = 2
	past := time.Now().UTC().Add(-time.Second)
	row.NextRetryAt = &past
	repo.Add(row)

	p.ProcessRetries(context.Background())

	assert.Len(t, pub.Published(), 1)
	republished, _ := repo.Row(row.ID)
	assert.Equal(t, sharedDomain.OutboxPublished, republished.Status)
}

func TestProcessRetries_RespectsFutureBackoff(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	row := outboxRow(t, 1, time.Now().UTC())
	row.Status = sharedDomain.OutboxFailed
	row.RetryCount = 1
	future := time.Now().UTC().Add(time.Minute)
	row.NextRetryAt = &future
	repo.Add(row)

	p.ProcessRetries(context.Background())

	assert.Empty(t, pub.Published(), "el backoff aún no venció")
}

func TestProcessRetries_ExhaustedRowsAreLeftAlone(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	row := outboxRow(t, 1, time.Now().UTC())
	row.Status = sharedDomain.OutboxFailed
	row.RetryCount = 5 // == MaxRetries
	past := time.Now().UTC().Add(-time.Second)
	row.NextRetryAt = &past
	repo.Add(row)

	p.ProcessRetries(context.Background())

	assert.Empty(t, pub.Published())

	stats, err := p.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Exhausted, "la fila agotada solo es visible en estadísticas")
}

func TestProcessBatch_MarkPublishedFailureReschedulesRows(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	row := outboxRow(t, 1, time.Now().UTC())
	repo.Add(row)
	repo.FailMarkPublishedWith = errors.New("db: connection reset")

	p.ProcessBatch(context.Background())

	// El broker recibió el evento pero el marcado falló: la fila no puede
	// quedarse en PROCESSING (nadie la reclamaría jamás), se reprograma.
	require.Len(t, pub.Published(), 1)
	failed, ok := repo.Row(row.ID)
	require.True(t, ok)
	assert.Equal(t, sharedDomain.OutboxFailed, failed.Status)
	require.NotNil(t, failed.NextRetryAt)

	// Tras el backoff se re-publica (at-least-once) y esta vez se marca.
	repo.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Second) }
	p.ProcessRetries(context.Background())

	assert.Len(t, pub.Published(), 2)
	republished, _ := repo.Row(row.ID)
	assert.Equal(t, sharedDomain.OutboxPublished, republished.Status)
}

func TestRequeueStale_RecoversOrphanedProcessingRows(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	// Fila reclamada por un procesador que murió hace 10 minutos.
	row := outboxRow(t, 1, time.Now().UTC().Add(-10*time.Minute))
	row.Status = sharedDomain.OutboxProcessing
	row.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	repo.Add(row)

	// Ni el lote PENDING ni el pase de reintentos la tocan.
	p.ProcessBatch(context.Background())
	p.ProcessRetries(context.Background())
	assert.Empty(t, pub.Published())

	p.RequeueStale(context.Background())
	requeued, _ := repo.Row(row.ID)
	assert.Equal(t, sharedDomain.OutboxPending, requeued.Status)

	p.ProcessBatch(context.Background())
	assert.Len(t, pub.Published(), 1)
	recovered, _ := repo.Row(row.ID)
	assert.Equal(t, sharedDomain.OutboxPublished, recovered.Status)
}

func TestPublishFailureHoldsLaterVersionsOfSameAggregate(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	pub.FailWith = errors.New("kafka: partition leader unavailable")
	pub.FailTimes = 1
	p := newProcessor(repo, pub)

	aggregateID := uuid.New()
	base := time.Now().UTC()
	v2 := outboxRowFor(t, aggregateID, 2, base)
	v3 := outboxRowFor(t, aggregateID, 3, base.Add(time.Millisecond))
	repo.Add(v2)
	repo.Add(v3)

	p.ProcessBatch(context.Background())

	// La v2 falló: la v3 no se publica aunque el broker ya funcione, para no
	// invertir el orden de versiones del agregado.
	assert.Empty(t, pub.Published())
	held, _ := repo.Row(v3.ID)
	assert.Equal(t, sharedDomain.OutboxFailed, held.Status)

	// Tras el backoff ambas salen en orden de versión.
	repo.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Second) }
	p.ProcessRetries(context.Background())

	published := pub.Published()
	require.Len(t, published, 2)
	assert.Equal(t, int64(2), published[0].Version)
	assert.Equal(t, int64(3), published[1].Version)
}

func TestStartStop_Lifecycle(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	p := newProcessor(repo, pub)

	repo.Add(outboxRow(t, 1, time.Now().UTC()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.Start(ctx)
	p.Start(ctx) // segundo Start es un no-op

	assert.Eventually(t, func() bool {
		return len(pub.Published()) == 1
	}, time.Second, 10*time.Millisecond)

	p.Stop()

	health := p.HealthStatus(context.Background())
	assert.False(t, health.Running)
	assert.True(t, health.BrokerHealthy)
}

func TestHealthStatus_ReflectsBrokerAndBacklog(t *testing.T) {
	repo := mocks.NewInMemoryOutboxRepo()
	pub := mocks.NewRecordingPublisher()
	pub.Broken = true
	p := newProcessor(repo, pub)

	repo.Add(outboxRow(t, 1, time.Now().UTC()))

	health := p.HealthStatus(context.Background())
	assert.False(t, health.Running)
	assert.False(t, health.BrokerHealthy)
	assert.Equal(t, int64(1), health.Pending)
}
