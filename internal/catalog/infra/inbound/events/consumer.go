package events

import (
	"context"
	"encoding/json"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	"github.com/davicafu/eventlab/internal/shared/infra/platform/dispatch"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// messageSource abstrae el par fetch/commit del reader de Kafka, para poder
// probar el bucle de consumo sin broker.
type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ConsumerAdapter es el "oído" que escucha en Kafka y entrega cada evento de
// producto al dispatcher de proyecciones. El offset solo se commitea cuando el
// despacho terminó sin error: un fallo de proyección deja el mensaje sin
// commitear y el broker lo re-entrega.
type ConsumerAdapter struct {
	source     messageSource
	dispatcher *dispatch.Dispatcher
	log        *zap.Logger
	topic      string
	brokers    []string
}

func NewConsumerAdapter(reader *kafka.Reader, dispatcher *dispatch.Dispatcher, log *zap.Logger) *ConsumerAdapter {
	return &ConsumerAdapter{
		source:     reader,
		dispatcher: dispatcher,
		log:        log,
		topic:      reader.Config().Topic,
		brokers:    reader.Config().Brokers,
	}
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (c *ConsumerAdapter) Start(ctx context.Context) {
	c.log.Info("🎧 Iniciando consumidor de Kafka...",
		zap.String("topic", c.topic),
		zap.Strings("brokers", c.brokers),
	)

	go func() {
		for {
			// FetchMessage es bloqueante y, a diferencia de ReadMessage, no
			// commitea el offset: el commit se decide tras el despacho.
			msg, err := c.source.FetchMessage(ctx)
			if err != nil {
				// Si el contexto se cancela, el error es normal y salimos limpiamente.
				if ctx.Err() != nil {
					c.log.Info("Consumidor de Kafka detenido.", zap.String("topic", c.topic))
					return
				}
				c.log.Error("Error al leer mensaje de Kafka", zap.Error(err))
				continue
			}

			if err := c.handle(ctx, msg.Value); err != nil {
				// Sin commit: el broker re-entregará el mensaje.
				c.log.Warn("Despacho fallido, el mensaje se re-entregará",
					zap.String("topic", c.topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
				continue
			}

			if err := c.source.CommitMessages(ctx, msg); err != nil {
				c.log.Warn("No se pudo commitear el offset", zap.Error(err))
			}
		}
	}()
}

func (c *ConsumerAdapter) handle(ctx context.Context, payload []byte) error {
	var evt sharedDomain.DomainEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		// Mensaje envenenado: re-entregarlo fallaría igual para siempre, así
		// que se loguea y se commitea.
		c.log.Warn("Failed to unmarshal domain event", zap.Error(err))
		return nil
	}

	return c.dispatcher.Dispatch(ctx, evt)
}

// BackgroundConsumerChan consume eventos del bus en memoria, para despliegues
// locales y tests donde no hay broker.
func BackgroundConsumerChan(ctx context.Context, ch <-chan sharedDomain.DomainEvent, dispatcher *dispatch.Dispatcher, log *zap.Logger) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info("Consumidor en memoria detenido")
				return
			case evt := <-ch:
				_ = dispatcher.Dispatch(ctx, evt)
			}
		}
	}()
}
