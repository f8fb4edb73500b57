package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/textorder/textorder/internal/core/domain"
)

const meterName = "textorder/orders"

// Check-in outcomes recorded on textorder.checkins.
const (
	checkInArmed     = "armed"
	checkInSent      = "sent"
	checkInSkipped   = "skipped"
	checkInConfirmed = "confirmed"
	checkInProblem   = "problem"
)

// orderMetrics are the counters behind the order and check-in dashboards.
type orderMetrics struct {
	created     metric.Int64Counter
	transitions metric.Int64Counter
	released    metric.Int64Counter
	checkIns    metric.Int64Counter
}

func newOrderMetrics(meter metric.Meter) *orderMetrics {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	return &orderMetrics{
		created:     int64Counter(meter, "textorder.orders.created", "Orders created", "{order}"),
		transitions: int64Counter(meter, "textorder.orders.transitions", "Order status transitions", "{transition}"),
		released:    int64Counter(meter, "textorder.orders.released", "Unpaid orders released after the payment timeout", "{order}"),
		checkIns:    int64Counter(meter, "textorder.checkins", "Check-in outcomes", "{checkin}"),
	}
}

func int64Counter(meter metric.Meter, name, description, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

func (m *orderMetrics) orderCreated(ctx context.Context, order domain.Order) {
	m.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("business.id", order.BusinessID),
		attribute.String("channel", string(order.Channel))))
}

func (m *orderMetrics) statusChanged(ctx context.Context, businessID string, from, to domain.OrderStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("business.id", businessID),
		attribute.String("from", string(from)),
		attribute.String("to", string(to))))
}

func (m *orderMetrics) orderReleased(ctx context.Context, businessID string) {
	m.released.Add(ctx, 1, metric.WithAttributes(attribute.String("business.id", businessID)))
}

func (m *orderMetrics) checkIn(ctx context.Context, outcome string) {
	m.checkIns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
