package relayer

import (
	"context"
	"fmt"
	"sync"
	"time"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// publishTimeout acota cada publicación individual al broker.
const publishTimeout = 10 * time.Second

// claimTimeout es la edad a partir de la cual una fila PROCESSING se considera
// un claim huérfano y vuelve a PENDING.
const claimTimeout = 5 * time.Minute

// errPriorVersionFailed pospone una fila cuando una versión anterior del mismo
// agregado falló en el lote: publicarla rompería el orden por agregado.
var errPriorVersionFailed = fmt.Errorf("una versión anterior del agregado falló en este lote")

// Processor publica de forma fiable los eventos de la tabla outbox.
//
// En cada tick recupera claims huérfanos (PROCESSING viejos vuelven a
// PENDING), reclama un lote PENDING (claim atómico PENDING→PROCESSING),
// publica cada evento por el adapter del broker y marca PUBLISHED o FAILED
// con backoff exponencial. Un pase separado reclama filas FAILED cuyo
// next_retry_at venció. Las filas que agotan max_retries quedan FAILED de
// forma permanente, visibles solo a través de Statistics().
//
// Los fallos de publicación nunca llegan al emisor del comando original: el
// comando ya tuvo éxito cuando sus eventos quedaron persistidos.
type Processor struct {
	repo      sharedDomain.OutboxRepository
	publisher sharedBus.EventPublisher
	policy    sharedDomain.RetryPolicy
	interval  time.Duration
	batchSize int
	retention time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func NewProcessor(
	repo sharedDomain.OutboxRepository,
	publisher sharedBus.EventPublisher,
	policy sharedDomain.RetryPolicy,
	interval time.Duration,
	batchSize int,
	retention time.Duration,
	log *zap.Logger,
) *Processor {
	return &Processor{
		repo:      repo,
		publisher: publisher,
		policy:    policy,
		interval:  interval,
		batchSize: batchSize,
		retention: retention,
		log:       log,
	}
}

// Start arranca el bucle de polling en segundo plano. Llamarlo dos veces sin
// Stop intermedio es un no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(runCtx)
	p.log.Info("🚀 Outbox processor iniciado",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize),
	)
}

// Stop detiene el bucle y espera a que termine el tick en curso.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
	p.log.Info("🛑 Outbox processor detenido.")
}

func (p *Processor) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// La limpieza de PUBLISHED corre con mucha menos frecuencia que el polling.
	cleanupTicker := time.NewTicker(10 * p.interval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RequeueStale(ctx)
			p.ProcessBatch(ctx)
			p.ProcessRetries(ctx)
		case <-cleanupTicker.C:
			p.cleanup(ctx)
		}
	}
}

// RequeueStale devuelve a PENDING las filas atascadas en PROCESSING más de
// claimTimeout: sin esto, un crash entre el claim y el marcado dejaría filas
// en un estado del que ningún claim las recoge.
func (p *Processor) RequeueStale(ctx context.Context) {
	requeued, err := p.repo.RequeueStale(ctx, time.Now().UTC().Add(-claimTimeout))
	if err != nil {
		p.log.Warn("⚠️ Error al recuperar claims huérfanos", zap.Error(err))
		return
	}
	if requeued > 0 {
		p.log.Info("🔁 Claims huérfanos devueltos a PENDING", zap.Int64("count", requeued))
	}
}

// ProcessBatch reclama y publica un lote de filas PENDING.
func (p *Processor) ProcessBatch(ctx context.Context) {
	events, err := p.repo.ClaimPending(ctx, p.batchSize)
	if err != nil {
		p.log.Warn("⚠️ Error al reclamar eventos pendientes", zap.Error(err))
		return
	}
	if len(events) > 0 {
		p.log.Info(fmt.Sprintf("📬 %d eventos reclamados para publicar", len(events)))
	}

	p.publishClaimed(ctx, events)
}

// ProcessRetries reclama y reintenta filas FAILED cuyo backoff ya venció.
func (p *Processor) ProcessRetries(ctx context.Context) {
	events, err := p.repo.ClaimFailedForRetry(ctx, p.batchSize)
	if err != nil {
		p.log.Warn("⚠️ Error al reclamar eventos fallidos", zap.Error(err))
		return
	}
	if len(events) > 0 {
		p.log.Info(fmt.Sprintf("🔁 %d eventos fallidos reclamados para reintento", len(events)))
	}

	p.publishClaimed(ctx, events)
}

// publishClaimed publica las filas reclamadas una a una, en orden FIFO. Si una
// versión de un agregado falla, las versiones posteriores de ese mismo
// agregado dentro del lote no se publican: se reprograman con backoff para que
// el reintento las saque otra vez en orden de versión.
func (p *Processor) publishClaimed(ctx context.Context, events []sharedDomain.OutboxEvent) {
	var published []sharedDomain.OutboxEvent
	stuck := make(map[uuid.UUID]struct{})

	for _, evt := range events {
		if _, held := stuck[evt.Event.AggregateID]; held {
			p.markFailed(ctx, evt, errPriorVersionFailed)
			continue
		}

		// Publicación acotada: un broker colgado no debe bloquear el ciclo;
		// el timeout se trata como fallo y pasa por la ruta de reintentos.
		pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := p.publisher.Publish(pubCtx, evt.Event, evt.RoutingKey)
		cancel()
		if err != nil {
			stuck[evt.Event.AggregateID] = struct{}{}
			p.markFailed(ctx, evt, err)
			continue
		}
		published = append(published, evt)
	}

	if len(published) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(published))
	for _, evt := range published {
		ids = append(ids, evt.ID)
	}

	if err := p.repo.MarkPublished(ctx, ids); err != nil {
		// El broker ya tiene los eventos. Dejarlos en PROCESSING los sacaría
		// del ciclo para siempre, así que se reprograman como FAILED y se
		// re-publicarán tras el backoff (at-least-once).
		p.log.Warn("⚠️ No se pudieron marcar eventos como publicados, se reprograman",
			zap.Int("count", len(ids)),
			zap.Error(err),
		)
		for _, evt := range published {
			p.markFailed(ctx, evt, fmt.Errorf("mark published: %w", err))
		}
		return
	}

	p.log.Info("✅ Eventos publicados y marcados", zap.Int("count", len(ids)))
}

func (p *Processor) markFailed(ctx context.Context, evt sharedDomain.OutboxEvent, cause error) {
	nextRetryAt := time.Now().UTC().Add(p.policy.NextDelay(evt.RetryCount))

	p.log.Warn("⚠️ No se pudo publicar evento",
		zap.String("outbox_id", evt.ID.String()),
		zap.String("event_id", evt.Event.ID.String()),
		zap.Int("retry_count", evt.RetryCount+1),
		zap.Int("max_retries", evt.MaxRetries),
		zap.Time("next_retry_at", nextRetryAt),
		zap.Error(cause),
	)

	if err := p.repo.MarkFailed(ctx, evt.ID, cause.Error(), nextRetryAt); err != nil {
		p.log.Warn("⚠️ No se pudo marcar evento como fallido",
			zap.String("outbox_id", evt.ID.String()),
			zap.Error(err),
		)
	}
}

func (p *Processor) cleanup(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	deleted, err := p.repo.CleanupPublished(ctx, time.Now().UTC().Add(-p.retention))
	if err != nil {
		p.log.Warn("⚠️ Error en la limpieza de outbox", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.log.Info("🧹 Filas PUBLISHED antiguas eliminadas", zap.Int64("count", deleted))
	}
}

// Statistics expone el estado agregado de la tabla outbox.
func (p *Processor) Statistics(ctx context.Context) (sharedDomain.OutboxStatistics, error) {
	return p.repo.Statistics(ctx)
}

// HealthStatus resume el estado operativo del procesador y del broker.
type HealthStatus struct {
	Running       bool  `json:"running"`
	BrokerHealthy bool  `json:"broker_healthy"`
	Pending       int64 `json:"pending"`
	Exhausted     int64 `json:"exhausted"`
}

func (p *Processor) HealthStatus(ctx context.Context) HealthStatus {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	status := HealthStatus{
		Running:       running,
		BrokerHealthy: p.publisher.Healthy(ctx),
	}

	if stats, err := p.repo.Statistics(ctx); err == nil {
		status.Pending = stats.Pending
		status.Exhausted = stats.Exhausted
	}

	return status
}
