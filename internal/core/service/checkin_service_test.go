package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/textorder/textorder/internal/core/domain"
)

func TestIsAffirmative(t *testing.T) {
	tests := map[string]bool{
		"yes thanks":          true,
		"YES":                 true,
		"Got it":              true,
		"arrived, all good":   true,
		"👍":                   true,
		"Thank You!":          true,
		"no":                  false,
		"where is my food?":   false,
		"still waiting":       false,
		"":                    false,
	}
	for in, want := range tests {
		if got := IsAffirmative(in); got != want {
			t.Errorf("IsAffirmative(%q) = %v, want %v", in, got, want)
		}
	}
}

func paidOrder(t *testing.T, env *testEnv) *domain.Order {
	t.Helper()
	order := createOrder(t, env, domain.ParsedItem{Name: "coffee", Quantity: 1, Price: 450})
	paid, err := env.lifecycle.ConfirmPayment(context.Background(), domain.PaymentConfirmation{OrderID: order.ID})
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	return paid
}

func TestCheckIn_DisabledTenantArmsNothing(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	env.catalog.settings.CheckInEnabled = false

	paidOrder(t, env)

	if env.checkIns.Pending() != 0 {
		t.Errorf("expected no timers, got %d", env.checkIns.Pending())
	}
}

func TestCheckIn_UsesTenantDelay(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	env.catalog.settings.CheckInDelay = 20 * time.Minute

	paidOrder(t, env)

	if d := env.clock.last().delay; d != 20*time.Minute {
		t.Errorf("expected 20m, got %v", d)
	}
}

func TestCheckIn_FireSkipsCompletedOrder(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	order := paidOrder(t, env)

	// Merchant completes the order just as the timer fires.
	env.orders.setStatus(order.ID, domain.OrderStatusComplete)
	env.clock.fireAll()

	for _, m := range env.notifier.messages() {
		if strings.Contains(m.text, "Did you receive") {
			t.Errorf("unexpected prompt %q", m.text)
		}
	}
	if _, ok, _ := env.store.AwaitingCheckIn(context.Background(), "biz-1", customer); ok {
		t.Error("no mark expected for a completed order")
	}
}

func TestCheckIn_FirePromptsWhilePreparing(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	order := paidOrder(t, env)
	env.lifecycle.UpdateStatus(context.Background(), order.ID, domain.OrderStatusPreparing)

	env.clock.fireAll()

	id, ok, _ := env.store.AwaitingCheckIn(context.Background(), "biz-1", customer)
	if !ok || id != order.ID {
		t.Errorf("expected mark for %s, got %q (%v)", order.ID, id, ok)
	}
}

func TestCheckIn_ConsumeReplyWithoutMark(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{})

	res, err := env.checkIns.ConsumeReply(context.Background(), "biz-1", customer, "yes")
	if err != nil {
		t.Fatalf("ConsumeReply: %v", err)
	}
	if res.Handled {
		t.Error("expected unhandled without a mark")
	}
}

func TestCheckIn_ConsumeReplyClearsMark(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{})
	ctx := context.Background()
	env.store.MarkAwaitingCheckIn(ctx, "biz-1", customer, "42", time.Hour)

	res, _ := env.checkIns.ConsumeReply(ctx, "biz-1", customer, "hmm not yet")

	if !res.Handled || res.Affirmative || res.OrderID != "42" {
		t.Errorf("unexpected result %+v", res)
	}
	if _, ok, _ := env.store.AwaitingCheckIn(ctx, "biz-1", customer); ok {
		t.Error("expected mark cleared")
	}
}

func TestCheckIn_StopCancelsEverything(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	paidOrder(t, env)
	paidOrder(t, env)

	env.checkIns.Stop()

	if env.checkIns.Pending() != 0 {
		t.Errorf("expected 0 pending, got %d", env.checkIns.Pending())
	}
	if fired := env.clock.fireAll(); fired != 0 {
		t.Errorf("expected stopped timers not to fire, got %d", fired)
	}
	if err := env.checkIns.Arm(context.Background(), domain.Order{ID: "x", Status: domain.OrderStatusPaid}); err != nil {
		t.Fatalf("Arm after Stop: %v", err)
	}
	if env.checkIns.Pending() != 0 {
		t.Error("Arm after Stop must be ignored")
	}
}

func TestCheckIn_RearmKeepsDeadline(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	order := paidOrder(t, env)
	env.checkIns.Stop()

	// A new process starts ten minutes after payment.
	restarted := NewCheckInScheduler(env.orders, env.catalog, env.store, env.notifier, env.checkIns.logger)
	restarted.afterFunc = env.clock.afterFunc
	restarted.now = func() time.Time { return order.PaidAt.Add(10 * time.Minute) }
	defer restarted.Stop()

	armed, err := restarted.Rearm(context.Background())
	if err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if armed != 1 || restarted.Pending() != 1 {
		t.Fatalf("expected 1 re-armed timer, got %d", armed)
	}
	if d := env.clock.last().delay; d != 5*time.Minute {
		t.Errorf("expected 5m remaining, got %v", d)
	}
}

func TestCheckIn_RearmOverdueFiresImmediately(t *testing.T) {
	env := newTestEnv(t, cafeMenu(), map[string]int{"coffee": 5})
	order := paidOrder(t, env)

	env.checkIns.now = func() time.Time { return order.PaidAt.Add(time.Hour) }
	if _, err := env.checkIns.Rearm(context.Background()); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	if d := env.clock.last().delay; d != 0 {
		t.Errorf("expected immediate fire, got %v", d)
	}
	if env.checkIns.Pending() != 1 {
		t.Errorf("re-arming must replace the existing timer, got %d", env.checkIns.Pending())
	}
}
