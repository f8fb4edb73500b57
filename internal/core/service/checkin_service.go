package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

const checkInMarkTTL = 24 * time.Hour

var affirmativeKeywords = []string{
	"yes", "yeah", "yep", "yup", "ok", "okay", "good", "great", "received",
	"got it", "thanks", "thank you", "perfect", "delivered", "arrived", "👍",
}

// IsAffirmative reports whether a check-in reply confirms the order arrived.
func IsAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range affirmativeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CheckInResult describes how a reply to a check-in prompt was consumed.
type CheckInResult struct {
	Handled     bool
	Affirmative bool
	OrderID     string
}

type timer interface {
	Stop() bool
}

// CheckInScheduler keeps one deferred check-in per paid order.
type CheckInScheduler struct {
	orders   port.OrderRepository
	settings port.SettingsRepository
	marks    port.CheckInMarks
	notifier port.Notifier
	logger   *zap.Logger
	tracer   trace.Tracer
	metrics  *orderMetrics

	afterFunc func(time.Duration, func()) timer
	now       func() time.Time

	mu      sync.Mutex
	timers  map[string]timer
	stopped bool
}

func NewCheckInScheduler(orders port.OrderRepository, settings port.SettingsRepository, marks port.CheckInMarks, notifier port.Notifier, logger *zap.Logger) *CheckInScheduler {
	return &CheckInScheduler{
		orders:   orders,
		settings: settings,
		marks:    marks,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("textorder/checkin"),
		metrics:  newOrderMetrics(nil),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
		now:    time.Now,
		timers: make(map[string]timer),
	}
}

// Arm schedules the check-in for a freshly paid order.
func (s *CheckInScheduler) Arm(ctx context.Context, order domain.Order) error {
	return s.arm(ctx, order, false)
}

func (s *CheckInScheduler) arm(ctx context.Context, order domain.Order, resume bool) error {
	if !order.Status.CheckInWindow() {
		return nil
	}
	settings, err := s.settings.GetSettings(ctx, order.BusinessID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !settings.CheckInEnabled {
		return nil
	}

	delay := settings.CheckInDelay
	// A resumed timer keeps the deadline it had before the restart.
	if resume && order.PaidAt != nil {
		delay -= s.now().Sub(*order.PaidAt)
		if delay < 0 {
			delay = 0
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	if existing, ok := s.timers[order.ID]; ok {
		existing.Stop()
	}
	orderID := order.ID
	s.timers[orderID] = s.afterFunc(delay, func() { s.fire(orderID) })

	s.metrics.checkIn(ctx, checkInArmed)
	s.logger.Info("check-in armed", zap.String("order_id", orderID), zap.Duration("delay", delay))
	return nil
}

// Cancel stops the timer for orderID if one is pending.
func (s *CheckInScheduler) Cancel(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[orderID]; ok {
		t.Stop()
		delete(s.timers, orderID)
	}
}

// Pending returns the number of armed timers.
func (s *CheckInScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Rearm schedules check-ins for every open order, e.g. after a restart.
func (s *CheckInScheduler) Rearm(ctx context.Context) (int, error) {
	orders, err := s.orders.ListOpenOrders(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open orders: %w", err)
	}
	armed := 0
	for _, order := range orders {
		if err := s.arm(ctx, order, true); err != nil {
			s.logger.Warn("failed to re-arm check-in", zap.String("order_id", order.ID), zap.Error(err))
			continue
		}
		armed++
	}
	return armed, nil
}

// Stop cancels every pending timer. Later Arm calls are ignored.
func (s *CheckInScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *CheckInScheduler) fire(orderID string) {
	s.mu.Lock()
	delete(s.timers, orderID)
	s.mu.Unlock()

	ctx, span := s.tracer.Start(context.Background(), "checkin.fire",
		trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("check-in lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	// The order may have been completed or removed while the timer was pending.
	if order == nil || !order.Status.CheckInWindow() {
		s.metrics.checkIn(ctx, checkInSkipped)
		s.logger.Info("check-in skipped", zap.String("order_id", orderID))
		return
	}

	if err := s.marks.MarkAwaitingCheckIn(ctx, order.BusinessID, order.CustomerIdentity, order.ID, checkInMarkTTL); err != nil {
		span.RecordError(err)
		s.logger.Error("failed to mark check-in", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	if err := s.notifier.Send(ctx, order.CustomerIdentity, checkInPrompt(*order)); err != nil {
		s.logger.Warn("check-in prompt not sent", zap.String("order_id", orderID), zap.Error(err))
		return
	}
	s.metrics.checkIn(ctx, checkInSent)
}

// ConsumeReply intercepts a message from a customer that was sent a
// check-in prompt. The mark is cleared whatever the reply says.
func (s *CheckInScheduler) ConsumeReply(ctx context.Context, businessID, identity, text string) (CheckInResult, error) {
	orderID, ok, err := s.marks.AwaitingCheckIn(ctx, businessID, identity)
	if err != nil {
		return CheckInResult{}, fmt.Errorf("read check-in mark: %w", err)
	}
	if !ok {
		return CheckInResult{}, nil
	}
	if err := s.marks.ClearCheckIn(ctx, businessID, identity); err != nil {
		return CheckInResult{}, fmt.Errorf("clear check-in mark: %w", err)
	}
	result := CheckInResult{Handled: true, Affirmative: IsAffirmative(text), OrderID: orderID}
	if result.Affirmative {
		s.metrics.checkIn(ctx, checkInConfirmed)
	} else {
		s.metrics.checkIn(ctx, checkInProblem)
	}
	return result, nil
}

func checkInPrompt(order domain.Order) string {
	greeting := "Hi"
	if order.CustomerName != "" {
		greeting = "Hi " + order.CustomerName
	}
	return fmt.Sprintf("👋 %s! Did you receive your order #%s? Reply YES if everything arrived.", greeting, order.ID)
}
