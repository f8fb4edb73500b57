package port

import (
	"context"

	"github.com/textorder/textorder/internal/core/domain"
)

// Notifier delivers a text to a customer or merchant identity.
type Notifier interface {
	Send(ctx context.Context, recipient, text string) error
}

// FulfillmentPublisher forwards paid orders to the merchant's fulfillment side.
type FulfillmentPublisher interface {
	PublishOrderPaid(ctx context.Context, order domain.Order) error
}

// OrderParser is a best-effort fallback used when the deterministic parser
// finds nothing or is unsure.
type OrderParser interface {
	Parse(ctx context.Context, message string, menu domain.Menu) (domain.ParsedOrder, error)
}
