package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

const publishTimeout = 10 * time.Second

// CheckIns is the part of the check-in scheduler the lifecycle drives.
type CheckIns interface {
	Arm(ctx context.Context, order domain.Order) error
	Cancel(orderID string)
}

type LifecycleDeps struct {
	Orders      port.OrderRepository
	Businesses  port.BusinessRepository
	Idempotency port.IdempotencyStore
	Notifier    port.Notifier
	Publisher   port.FulfillmentPublisher // optional
	CheckIns    CheckIns
	IDs         *snowflake.Node
	Logger      *zap.Logger
	Meter       metric.Meter // optional, defaults to the global provider
}

// LifecycleManager owns order creation and the forward-only status machine.
// Transitions on one order are serialized and committed with a compare-and-set
// on the previous status.
type LifecycleManager struct {
	orders      port.OrderRepository
	businesses  port.BusinessRepository
	idempotency port.IdempotencyStore
	notifier    port.Notifier
	publisher   port.FulfillmentPublisher
	checkIns    CheckIns
	ids         *snowflake.Node
	logger      *zap.Logger
	tracer      trace.Tracer
	metrics     *orderMetrics
	locks       *keyedMutex
	now         func() time.Time
}

func NewLifecycleManager(deps LifecycleDeps) *LifecycleManager {
	return &LifecycleManager{
		orders:      deps.Orders,
		businesses:  deps.Businesses,
		idempotency: deps.Idempotency,
		notifier:    deps.Notifier,
		publisher:   deps.Publisher,
		checkIns:    deps.CheckIns,
		ids:         deps.IDs,
		logger:      deps.Logger,
		tracer:      otel.Tracer("textorder/lifecycle"),
		metrics:     newOrderMetrics(deps.Meter),
		locks:       newKeyedMutex(),
		now:         time.Now,
	}
}

// Create persists a validated order in awaiting_payment and takes its stock.
func (m *LifecycleManager) Create(ctx context.Context, businessID, identity string, channel domain.Channel, parsed domain.ParsedOrder) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Create",
		trace.WithAttributes(attribute.String("business.id", businessID)))
	defer span.End()

	if !parsed.IsValid || len(parsed.Items) == 0 {
		return nil, domain.ErrParseFailure
	}

	now := m.now()
	order := domain.Order{
		ID:               m.ids.Generate().String(),
		BusinessID:       businessID,
		CustomerIdentity: identity,
		CustomerName:     parsed.CustomerName,
		TableNumber:      parsed.TableNumber,
		Items:            append([]domain.ParsedItem(nil), parsed.Items...),
		Total:            parsed.Total,
		Status:           domain.OrderStatusAwaitingPayment,
		Channel:          channel,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := m.orders.CreateOrder(ctx, order); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrInventoryConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create order: %w", domain.ErrUpstream, err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	m.metrics.orderCreated(ctx, order)

	m.logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("business_id", businessID),
		zap.Int64("total_cents", int64(order.Total)))
	return &order, nil
}

func (m *LifecycleManager) Get(ctx context.Context, id string) (*domain.Order, error) {
	order, err := m.orders.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: get order: %w", domain.ErrUpstream, err)
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (m *LifecycleManager) List(ctx context.Context, businessID string) ([]domain.Order, error) {
	orders, err := m.orders.ListOrders(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("%w: list orders: %w", domain.ErrUpstream, err)
	}
	return orders, nil
}

// MostRecentOpenForCustomer returns the newest paid or preparing order, or nil.
func (m *LifecycleManager) MostRecentOpenForCustomer(ctx context.Context, businessID, identity string) (*domain.Order, error) {
	order, err := m.orders.MostRecentOpenOrder(ctx, businessID, identity)
	if err != nil {
		return nil, fmt.Errorf("%w: find open order: %w", domain.ErrUpstream, err)
	}
	return order, nil
}

// ConfirmPayment applies a payment event. Duplicate events and payments for
// orders already past awaiting_payment are no-ops.
func (m *LifecycleManager) ConfirmPayment(ctx context.Context, conf domain.PaymentConfirmation) (*domain.Order, error) {
	order, err := m.Get(ctx, conf.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderStatusAwaitingPayment {
		return order, nil
	}

	key := "payment:" + conf.OrderID
	fresh, err := m.idempotency.SetIdempotency(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: idempotency check: %w", domain.ErrUpstream, err)
	}
	if !fresh {
		m.logger.Info("duplicate payment event", zap.String("order_id", conf.OrderID))
		return order, nil
	}

	if conf.AmountPaid != 0 && conf.AmountPaid != order.Total {
		m.logger.Warn("payment amount mismatch",
			zap.String("order_id", order.ID),
			zap.String("expected", order.Total.String()),
			zap.String("paid", conf.AmountPaid.String()))
	}

	updated, err := m.UpdateStatus(ctx, conf.OrderID, domain.OrderStatusPaid)
	if err != nil {
		// Let a later delivery of the same event try again.
		if relErr := m.idempotency.ReleaseIdempotency(ctx, key); relErr != nil {
			m.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
		}
		return nil, err
	}
	return updated, nil
}

// UpdateStatus moves an order forward. Re-applying the current status is a
// no-op without side effects.
func (m *LifecycleManager) UpdateStatus(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.UpdateStatus",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.status", string(next))))
	defer span.End()

	if next.Rank() == 0 {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, next)
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	order, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == next {
		return order, nil
	}
	if !order.Status.CanAdvanceTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, next)
	}

	prev := order.Status
	now := m.now()
	ok, err := m.orders.TransitionStatus(ctx, id, prev, next, now)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: transition: %w", domain.ErrUpstream, err)
	}
	if !ok {
		// Another process moved the order since we read it.
		current, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Status == next {
			return current, nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
	}

	order.Status = next
	order.UpdatedAt = now
	switch next {
	case domain.OrderStatusPaid:
		order.PaidAt = &now
	case domain.OrderStatusComplete:
		order.CompletedAt = &now
	}

	m.metrics.statusChanged(ctx, order.BusinessID, prev, next)
	m.logger.Info("order status changed",
		zap.String("order_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(next)))

	m.afterTransition(ctx, *order)
	return order, nil
}

// ReleaseUnpaid drops orders that stayed in awaiting_payment longer than
// timeout and returns their stock, so abandoned carts do not hold inventory.
// It returns how many orders were released.
func (m *LifecycleManager) ReleaseUnpaid(ctx context.Context, timeout time.Duration) (int, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.ReleaseUnpaid")
	defer span.End()

	stale, err := m.orders.ListUnpaidOrders(ctx, m.now().Add(-timeout))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("%w: list unpaid orders: %w", domain.ErrUpstream, err)
	}

	released := 0
	for _, order := range stale {
		ok, err := m.releaseOne(ctx, order.ID)
		if err != nil {
			m.logger.Warn("failed to release unpaid order", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		released++
		m.metrics.orderReleased(ctx, order.BusinessID)
		m.logger.Info("unpaid order released",
			zap.String("order_id", order.ID),
			zap.String("business_id", order.BusinessID))
		m.notify(ctx, order.CustomerIdentity,
			fmt.Sprintf("⌛ Order #%s expired before payment. Send your order again whenever you're ready.", order.ID))
	}
	span.SetAttributes(attribute.Int("orders.released", released))
	return released, nil
}

func (m *LifecycleManager) releaseOne(ctx context.Context, id string) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()
	return m.orders.ReleaseUnpaidOrder(ctx, id)
}

// RunUnpaidSweeper calls ReleaseUnpaid every interval until ctx is done.
func (m *LifecycleManager) RunUnpaidSweeper(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ReleaseUnpaid(ctx, timeout); err != nil {
				m.logger.Error("unpaid order sweep failed", zap.Error(err))
			}
		}
	}
}

// AdvanceByMerchant is UpdateStatus for merchant callers. Payment confirmation
// is the only way into paid, so merchants cannot set it.
func (m *LifecycleManager) AdvanceByMerchant(ctx context.Context, id string, next domain.OrderStatus) (*domain.Order, error) {
	if next == domain.OrderStatusPaid {
		return nil, fmt.Errorf("%w: paid is set by payment confirmation only", domain.ErrInvalidInput)
	}
	return m.UpdateStatus(ctx, id, next)
}

// afterTransition runs side effects. Failures are logged and never undo the
// committed transition.
func (m *LifecycleManager) afterTransition(ctx context.Context, order domain.Order) {
	switch order.Status {
	case domain.OrderStatusPaid:
		if m.checkIns != nil {
			if err := m.checkIns.Arm(ctx, order); err != nil {
				m.logger.Warn("failed to arm check-in", zap.String("order_id", order.ID), zap.Error(err))
			}
		}
		m.notify(ctx, order.CustomerIdentity, paidMessage(order))
		m.notifyMerchant(ctx, order)
		m.publishPaid(ctx, order)
	case domain.OrderStatusPreparing:
		m.notify(ctx, order.CustomerIdentity, fmt.Sprintf("👨‍🍳 Your order #%s is being prepared.", order.ID))
	case domain.OrderStatusComplete:
		if m.checkIns != nil {
			m.checkIns.Cancel(order.ID)
		}
		m.notify(ctx, order.CustomerIdentity, fmt.Sprintf("✅ Your order #%s is ready for pickup!", order.ID))
	}
}

func (m *LifecycleManager) notify(ctx context.Context, recipient, text string) {
	if m.notifier == nil || recipient == "" {
		return
	}
	if err := m.notifier.Send(ctx, recipient, text); err != nil {
		m.logger.Warn("notification not queued", zap.String("recipient", recipient), zap.Error(err))
	}
}

func (m *LifecycleManager) notifyMerchant(ctx context.Context, order domain.Order) {
	if m.businesses == nil {
		return
	}
	business, err := m.businesses.GetBusiness(ctx, order.BusinessID)
	if err != nil {
		m.logger.Warn("failed to load business", zap.String("business_id", order.BusinessID), zap.Error(err))
		return
	}
	if business == nil || business.Phone == "" {
		return
	}
	m.notify(ctx, business.Phone, merchantMessage(order))
}

func (m *LifecycleManager) publishPaid(ctx context.Context, order domain.Order) {
	if m.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	go func() {
		defer cancel()
		if err := m.publisher.PublishOrderPaid(ctx, order); err != nil {
			m.logger.Error("failed to publish paid order", zap.String("order_id", order.ID), zap.Error(err))
		}
	}()
}

func paidMessage(order domain.Order) string {
	return fmt.Sprintf("💳 Payment received for order #%s (%s). We'll let you know when it's ready.", order.ID, order.Total)
}

func merchantMessage(order domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 New paid order #%s", order.ID)
	if order.CustomerName != "" {
		fmt.Fprintf(&b, " for %s", order.CustomerName)
	}
	if order.TableNumber != "" {
		fmt.Fprintf(&b, " (table %s)", order.TableNumber)
	}
	b.WriteString("\n")
	b.WriteString(itemLines(order.Items))
	fmt.Fprintf(&b, "\nTotal: %s", order.Total)
	return b.String()
}
