package events

import (
	"context"
	"errors"
	"fmt"

	catalogDomain "github.com/davicafu/eventlab/internal/catalog/domain"
	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/cache"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/dispatch"
	"go.uber.org/zap"
)

// ProductProjector mantiene el read model del catálogo a partir de los
// eventos de producto. Es idempotente por guardia de versión: un evento con
// versión menor o igual que la vista almacenada se descarta sin efecto, y uno
// que llega con hueco de versión fuerza una reconstrucción desde el event
// store en lugar de plegarse sobre un estado desfasado.
type ProductProjector struct {
	readRepo catalogDomain.ProductReadRepository
	store    sharedDomain.EventStore
	cache    cache.Cache
	notifier sharedBus.EventPublisher
	log      *zap.Logger
}

var _ dispatch.EventHandler = (*ProductProjector)(nil)

// NewProductProjector construye el proyector. Tanto cache como notifier son
// opcionales (nil): la proyección a base de datos nunca depende de ellos. El
// event store se usa solo para reconstruir la vista ante huecos de versión.
func NewProductProjector(readRepo catalogDomain.ProductReadRepository, store sharedDomain.EventStore, c cache.Cache, notifier sharedBus.EventPublisher, log *zap.Logger) *ProductProjector {
	return &ProductProjector{readRepo: readRepo, store: store, cache: c, notifier: notifier, log: log}
}

func (p *ProductProjector) Name() string { return "product_projector" }

func (p *ProductProjector) CanHandle(evt sharedDomain.DomainEvent) bool {
	return evt.AggregateType == catalogDomain.AggregateType
}

// Handle pliega el evento sobre el estado reconstruido de la vista y escribe
// el resultado. El error de escritura se devuelve para que el consumidor
// pueda reintentar; la invalidación de caché y la notificación son
// best-effort.
func (p *ProductProjector) Handle(ctx context.Context, evt sharedDomain.DomainEvent) error {
	state, currentVersion, err := p.currentState(ctx, evt)
	if err != nil {
		return err
	}

	if evt.Version <= currentVersion {
		p.log.Debug("Evento ya proyectado, descartado",
			zap.String("aggregate_id", evt.AggregateID.String()),
			zap.Int64("event_version", evt.Version),
			zap.Int64("view_version", currentVersion),
		)
		return nil
	}

	// Hueco de versión: plegar este evento sobre la vista v(n) saltándose
	// versiones intermedias daría una vista que dice v(m) sin los cambios de
	// las versiones omitidas. Se reconstruye desde el stream completo.
	if evt.Version != currentVersion+1 {
		return p.rebuild(ctx, evt, currentVersion)
	}

	next, err := catalogDomain.Fold(state, evt)
	if err != nil {
		return fmt.Errorf("failed to project event %s: %w", evt.ID, err)
	}

	view := catalogDomain.ViewFromState(next, evt.Version)
	if err := p.readRepo.Upsert(ctx, view); err != nil {
		return err
	}

	p.invalidate(ctx, view)
	p.notify(ctx, evt)
	return nil
}

// rebuild reproyecta la vista replegando el stream completo del event store.
// Si el store no está cableado, o aún no contiene la versión recibida, se
// devuelve error para que la capa de consumo reintente la entrega.
func (p *ProductProjector) rebuild(ctx context.Context, evt sharedDomain.DomainEvent, viewVersion int64) error {
	if p.store == nil {
		return fmt.Errorf("version gap projecting aggregate %s (view at %d, event %d) and no event store to rebuild from",
			evt.AggregateID, viewVersion, evt.Version)
	}

	p.log.Warn("⚠️ Hueco de versión en la proyección, reconstruyendo vista",
		zap.String("aggregate_id", evt.AggregateID.String()),
		zap.Int64("view_version", viewVersion),
		zap.Int64("event_version", evt.Version),
	)

	stream, err := p.store.ReadStream(ctx, evt.AggregateID, 0)
	if err != nil {
		return fmt.Errorf("failed to read stream for rebuild: %w", err)
	}

	state := catalogDomain.ProductState{}
	var version int64
	for _, stored := range stream {
		if state, err = catalogDomain.Fold(state, stored); err != nil {
			return fmt.Errorf("failed to rebuild view for %s: %w", evt.AggregateID, err)
		}
		version = stored.Version
	}
	if version < evt.Version {
		return fmt.Errorf("stream for aggregate %s only reaches version %d, event %d not yet visible",
			evt.AggregateID, version, evt.Version)
	}

	view := catalogDomain.ViewFromState(state, version)
	if err := p.readRepo.Upsert(ctx, view); err != nil {
		return err
	}

	p.invalidate(ctx, view)
	p.notify(ctx, evt)
	return nil
}

// currentState reconstruye el estado del agregado desde la vista almacenada.
// Una vista inexistente equivale al estado cero (el evento create la sembrará).
func (p *ProductProjector) currentState(ctx context.Context, evt sharedDomain.DomainEvent) (catalogDomain.ProductState, int64, error) {
	view, err := p.readRepo.GetByID(ctx, evt.AggregateID)
	if err != nil {
		if errors.Is(err, sharedDomain.ErrNotFound) {
			return catalogDomain.ProductState{}, 0, nil
		}
		return catalogDomain.ProductState{}, 0, err
	}

	return catalogDomain.ProductState{
		ID:           view.ID,
		SKU:          view.SKU,
		Name:         view.Name,
		Description:  view.Description,
		PriceCents:   view.PriceCents,
		Currency:     view.Currency,
		Stock:        view.Stock,
		Reserved:     view.Reserved,
		Discontinued: view.Discontinued,
		CreatedAt:    view.CreatedAt,
		UpdatedAt:    view.UpdatedAt,
	}, view.Version, nil
}

// invalidate elimina de caché las entradas afectadas por la escritura: la
// ficha por id, la ficha por sku y todas las páginas de listados.
func (p *ProductProjector) invalidate(ctx context.Context, view catalogDomain.ProductView) {
	cache.AsyncCacheDelete(ctx, p.cache, catalogDomain.CacheKeyByID(view.ID), p.log)
	cache.AsyncCacheDelete(ctx, p.cache, catalogDomain.CacheKeyBySKU(view.SKU), p.log)
	cache.AsyncCacheDeletePattern(ctx, p.cache, catalogDomain.CacheListPattern, p.log)
}

// notify reenvía el evento al topic de actualizaciones en tiempo real. Un
// fallo aquí jamás hace fallar la proyección.
func (p *ProductProjector) notify(ctx context.Context, evt sharedDomain.DomainEvent) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Publish(ctx, evt, catalogDomain.NotifyTopic); err != nil {
		p.log.Warn("⚠️ No se pudo notificar actualización en tiempo real",
			zap.String("event_type", evt.Type),
			zap.String("aggregate_id", evt.AggregateID.String()),
			zap.Error(err),
		)
	}
}
