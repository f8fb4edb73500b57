package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
)

// KafkaPublisher forwards paid orders to the fulfillment topic.
type KafkaPublisher struct {
	producer Producer
	logger   *zap.Logger
}

func NewKafkaPublisher(producer Producer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, logger: logger}
}

func (p *KafkaPublisher) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	if err := p.producer.WriteMessage(ctx, kafka.Message{Key: []byte(order.ID), Value: payload}); err != nil {
		p.logger.Error("❌ Failed to publish OrderPaid event", zap.Error(err), zap.String("order_id", order.ID))
		return fmt.Errorf("%w: publish order paid: %w", domain.ErrUpstream, err)
	}

	p.logger.Info("📤 Sent OrderPaid event", zap.String("order_id", order.ID))
	return nil
}

// LogPublisher logs paid orders instead of publishing them.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	p.logger.Info("order paid",
		zap.String("order_id", order.ID),
		zap.String("business_id", order.BusinessID),
		zap.String("total", order.Total.String()))
	return nil
}
