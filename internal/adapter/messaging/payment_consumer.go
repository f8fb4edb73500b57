package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
)

// PaymentConfirmer applies a payment confirmation to an order.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) (*domain.Order, error)
}

// PaymentConsumer reads payment confirmations and marks orders paid.
type PaymentConsumer struct {
	consumer  Consumer
	confirmer PaymentConfirmer
	logger    *zap.Logger
}

func NewPaymentConsumer(consumer Consumer, confirmer PaymentConfirmer, logger *zap.Logger) *PaymentConsumer {
	return &PaymentConsumer{consumer: consumer, confirmer: confirmer, logger: logger}
}

// Start blocks until ctx is done.
func (c *PaymentConsumer) Start(ctx context.Context) error {
	c.logger.Info("Payment consumer started. Waiting for messages...")

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				c.logger.Info("Context done, exiting Kafka read loop.", zap.Error(err))
				break
			}
			c.logger.Error("❌ Error reading from Kafka", zap.Error(err))
			continue
		}

		c.handle(ctx, *msg)
	}

	c.logger.Info("Payment consumer finished.")
	return nil
}

func (c *PaymentConsumer) handle(ctx context.Context, msg kafka.Message) {
	msgCtx := extractTraceContext(ctx, msg.Headers)

	var conf domain.PaymentConfirmation
	if err := json.Unmarshal(msg.Value, &conf); err != nil {
		c.logger.Error("❌ Invalid JSON in PaymentConfirmed event",
			zap.Error(err),
			zap.ByteString("raw_value", msg.Value),
		)
		return
	}
	if conf.OrderID == "" {
		c.logger.Warn("PaymentConfirmed event without order id", zap.Int64("offset", msg.Offset))
		return
	}

	order, err := c.confirmer.ConfirmPayment(msgCtx, conf)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.logger.Warn("payment for unknown order", zap.String("order_id", conf.OrderID))
	case err != nil:
		c.logger.Error("❌ Failed to confirm payment", zap.Error(err), zap.String("order_id", conf.OrderID))
	default:
		c.logger.Info("✅ Payment applied", zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	}
}
