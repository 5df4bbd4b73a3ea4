package dispatch

import (
	"context"
	"errors"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"go.uber.org/zap"
)

// EventHandler es una proyección u otro efecto derivado de eventos de
// dominio. Handle debe ser idempotente: el pipeline garantiza al-menos-una
// entrega, así que el mismo evento puede llegar varias veces.
type EventHandler interface {
	Name() string
	CanHandle(evt sharedDomain.DomainEvent) bool
	Handle(ctx context.Context, evt sharedDomain.DomainEvent) error
}

// Dispatcher enruta cada evento a los handlers interesados. La lista se
// construye explícitamente en el arranque, igual que los registros de los
// buses de comandos y queries.
type Dispatcher struct {
	handlers []EventHandler
	log      *zap.Logger
}

func NewDispatcher(log *zap.Logger, handlers ...EventHandler) *Dispatcher {
	return &Dispatcher{handlers: handlers, log: log}
}

// Dispatch entrega el evento a todos los handlers que lo aceptan. El fallo
// de un handler se loguea y se acumula, pero no impide que el resto procese
// el evento.
func (d *Dispatcher) Dispatch(ctx context.Context, evt sharedDomain.DomainEvent) error {
	var errs []error
	for _, h := range d.handlers {
		if !h.CanHandle(evt) {
			continue
		}
		if err := h.Handle(ctx, evt); err != nil {
			d.log.Warn("⚠️ Handler de eventos falló",
				zap.String("handler", h.Name()),
				zap.String("event_type", evt.Type),
				zap.String("aggregate_id", evt.AggregateID.String()),
				zap.Int64("version", evt.Version),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
