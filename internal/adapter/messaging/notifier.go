package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
)

// OutboundMessage is the payload of the customer notifications topic. The
// gateway sender consumes it and delivers the text.
type OutboundMessage struct {
	Recipient string    `json:"recipient"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sentAt"`
}

// KafkaNotifier hands outbound texts to the gateway sender through Kafka.
type KafkaNotifier struct {
	producer Producer
	logger   *zap.Logger
}

func NewKafkaNotifier(producer Producer, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, logger: logger}
}

func (n *KafkaNotifier) Send(ctx context.Context, recipient, text string) error {
	payload, err := json.Marshal(OutboundMessage{Recipient: recipient, Text: text, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := n.producer.WriteMessage(ctx, kafka.Message{Key: []byte(recipient), Value: payload}); err != nil {
		return fmt.Errorf("%w: publish notification: %w", domain.ErrUpstream, err)
	}

	n.logger.Debug("📤 Sent notification", zap.String("recipient", recipient))
	return nil
}

// LogNotifier writes outbound texts to the log. Used when no broker is set.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, recipient, text string) error {
	n.logger.Info("outbound message", zap.String("recipient", recipient), zap.String("text", text))
	return nil
}
