package kafka

import (
	"context"

	"gamestore-svc/models"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// OrderEventSink publishes order lifecycle events to the order_events
// topic.
type OrderEventSink struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func NewOrderEventSink(producer sarama.SyncProducer, logger *zap.Logger) *OrderEventSink {
	return &OrderEventSink{producer: producer, logger: logger}
}

func (s *OrderEventSink) Publish(ctx context.Context, event models.OrderEvent) error {
	return PublishOrderEvent(ctx, s.producer, OrderEventsTopic, event, s.logger)
}
