package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/segmentio/kafka-go"

	sharedDomain "github.com/davicafu/eventlab/internal/shared/domain"
	sharedBus "github.com/davicafu/eventlab/internal/shared/infra/platform/bus"
)

// KafkaPublisher publica eventos de dominio en Kafka. El writer no lleva
// topic fijo: cada mensaje va al topic indicado por su routing key, y la
// clave de partición es el aggregate_id para preservar el orden por agregado.
type KafkaPublisher struct {
	writer  *kafka.Writer
	brokers []string
	log     *zap.Logger
}

func NewKafkaPublisher(writer *kafka.Writer, brokers []string, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, brokers: brokers, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt sharedDomain.DomainEvent, routingKey string) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: routingKey,
		Key:   []byte(evt.PartitionKey()),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka",
			zap.String("event_id", evt.ID.String()),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return err
	}

	p.log.Debug("Event published successfully",
		zap.String("event_id", evt.ID.String()),
		zap.String("type", evt.Type),
	)
	return nil
}

// PublishBatch envía las filas de outbox en orden, en una sola llamada al
// writer para aprovechar el batching del cliente.
func (p *KafkaPublisher) PublishBatch(ctx context.Context, events []sharedDomain.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt.Event)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Topic: evt.RoutingKey,
			Key:   []byte(evt.Event.PartitionKey()),
			Value: data,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("Error publishing batch to Kafka", zap.Int("size", len(msgs)), zap.Error(err))
		return err
	}
	return nil
}

// Healthy comprueba que al menos un broker es alcanzable.
func (p *KafkaPublisher) Healthy(ctx context.Context) bool {
	if len(p.brokers) == 0 {
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(dialCtx, "tcp", p.brokers[0])
	if err != nil {
		p.log.Warn("⚠️ Kafka broker no alcanzable", zap.String("broker", p.brokers[0]), zap.Error(err))
		return false
	}
	conn.Close()
	return true
}

// Verificación estática
var _ sharedBus.EventPublisher = (*KafkaPublisher)(nil)
