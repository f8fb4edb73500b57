package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/core/domain"
)

// Mock MenuRepository + SettingsRepository + BusinessRepository
type mockCatalog struct {
	mu       sync.Mutex
	menu     domain.Menu
	stock    map[string]int
	settings domain.BusinessSettings
	business *domain.Business
	err      error
}

func newMockCatalog(menu domain.Menu, stock map[string]int) *mockCatalog {
	return &mockCatalog{
		menu:     menu,
		stock:    stock,
		settings: domain.DefaultSettings("biz-1"),
		business: &domain.Business{ID: "biz-1", Name: "Cafe", Phone: "+15550000000"},
	}
}

func (m *mockCatalog) GetMenu(ctx context.Context, businessID string) (domain.Menu, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make(domain.Menu, len(m.menu))
	for k, v := range m.menu {
		out[k] = v
	}
	return out, nil
}

func (m *mockCatalog) GetStock(ctx context.Context, businessID, item string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[item], nil
}

func (m *mockCatalog) GetStockLevels(ctx context.Context, businessID string, items []string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(items))
	for _, item := range items {
		out[item] = m.stock[item]
	}
	return out, nil
}

func (m *mockCatalog) GetSettings(ctx context.Context, businessID string) (domain.BusinessSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, nil
}

func (m *mockCatalog) GetBusiness(ctx context.Context, id string) (*domain.Business, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.business, nil
}

func (m *mockCatalog) stockOf(item string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[item]
}

// Mock OrderRepository sharing stock with the catalog
type mockOrderRepo struct {
	mu      sync.Mutex
	catalog *mockCatalog
	orders  map[string]domain.Order
	seq     int
	// beforeCAS simulates another process writing between read and commit.
	beforeCAS func(orders map[string]domain.Order)
}

func newMockOrderRepo(catalog *mockCatalog) *mockOrderRepo {
	return &mockOrderRepo{catalog: catalog, orders: make(map[string]domain.Order)}
}

func (m *mockOrderRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.catalog.mu.Lock()
	defer m.catalog.mu.Unlock()

	for _, item := range order.Items {
		if m.catalog.stock[item.Name] < item.Quantity {
			return domain.ErrInventoryConflict
		}
	}
	for _, item := range order.Items {
		m.catalog.stock[item.Name] -= item.Quantity
	}
	m.seq++
	order.CreatedAt = order.CreatedAt.Add(time.Duration(m.seq))
	m.orders[order.ID] = order
	return nil
}

func (m *mockOrderRepo) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (m *mockOrderRepo) ListOrders(ctx context.Context, businessID string) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.BusinessID == businessID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockOrderRepo) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeCAS != nil {
		m.beforeCAS(m.orders)
		m.beforeCAS = nil
	}
	order, ok := m.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	order.Status = to
	order.UpdatedAt = at
	switch to {
	case domain.OrderStatusPaid:
		order.PaidAt = &at
	case domain.OrderStatusComplete:
		order.CompletedAt = &at
	}
	m.orders[id] = order
	return true, nil
}

func (m *mockOrderRepo) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status.CheckInWindow() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) MostRecentOpenOrder(ctx context.Context, businessID, identity string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *domain.Order
	for _, o := range m.orders {
		if o.BusinessID != businessID || o.CustomerIdentity != identity || !o.Status.CheckInWindow() {
			continue
		}
		if best == nil || o.CreatedAt.After(best.CreatedAt) {
			o := o
			best = &o
		}
	}
	return best, nil
}

func (m *mockOrderRepo) ListUnpaidOrders(ctx context.Context, createdBefore time.Time) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusAwaitingPayment && o.CreatedAt.Before(createdBefore) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockOrderRepo) ReleaseUnpaidOrder(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	order, ok := m.orders[id]
	if !ok || order.Status != domain.OrderStatusAwaitingPayment {
		return false, nil
	}
	m.catalog.mu.Lock()
	for _, item := range order.Items {
		m.catalog.stock[item.Name] += item.Quantity
	}
	m.catalog.mu.Unlock()
	delete(m.orders, id)
	return true, nil
}

func (m *mockOrderRepo) setStatus(id string, status domain.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = status
	m.orders[id] = o
}

// Mock SessionStore + CheckInMarks + IdempotencyStore
type mockStore struct {
	mu          sync.Mutex
	sessions    map[string]domain.ConversationSession
	names       map[string]string
	marks       map[string]string
	idempotency map[string]bool
}

func newMockStore() *mockStore {
	return &mockStore{
		sessions:    make(map[string]domain.ConversationSession),
		names:       make(map[string]string),
		marks:       make(map[string]string),
		idempotency: make(map[string]bool),
	}
}

func (m *mockStore) GetSession(ctx context.Context, businessID, identity string) (*domain.ConversationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identityKey(businessID, identity)]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *mockStore) SaveSession(ctx context.Context, session domain.ConversationSession, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[identityKey(session.BusinessID, session.CustomerIdentity)] = session
	return nil
}

func (m *mockStore) DeleteSession(ctx context.Context, businessID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, identityKey(businessID, identity))
	return nil
}

func (m *mockStore) GetRememberedName(ctx context.Context, businessID, identity string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names[identityKey(businessID, identity)], nil
}

func (m *mockStore) RememberName(ctx context.Context, businessID, identity, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[identityKey(businessID, identity)] = name
	return nil
}

func (m *mockStore) MarkAwaitingCheckIn(ctx context.Context, businessID, identity, orderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[identityKey(businessID, identity)] = orderID
	return nil
}

func (m *mockStore) AwaitingCheckIn(ctx context.Context, businessID, identity string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.marks[identityKey(businessID, identity)]
	return id, ok, nil
}

func (m *mockStore) ClearCheckIn(ctx context.Context, businessID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.marks, identityKey(businessID, identity))
	return nil
}

func (m *mockStore) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.idempotency[key] {
		return false, nil
	}
	m.idempotency[key] = true
	return true, nil
}

func (m *mockStore) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotency, key)
	return nil
}

// Mock Notifier recording every message synchronously
type sentMessage struct {
	recipient string
	text      string
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockNotifier) Send(ctx context.Context, recipient, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{recipient: recipient, text: text})
	return m.err
}

func (m *mockNotifier) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

// Mock FulfillmentPublisher
type mockPublisher struct {
	published chan domain.Order
	err       error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{published: make(chan domain.Order, 16)}
}

func (m *mockPublisher) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	m.published <- order
	return m.err
}

// Fake timers fired by hand
type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) afterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{delay: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// fireAll runs every timer that was not stopped.
func (c *fakeClock) fireAll() int {
	c.mu.Lock()
	timers := c.timers
	c.timers = nil
	c.mu.Unlock()

	fired := 0
	for _, t := range timers {
		if !t.stopped {
			t.stopped = true
			t.f()
			fired++
		}
	}
	return fired
}

func (c *fakeClock) last() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

// Mock OrderParser
type mockFallback struct {
	result domain.ParsedOrder
	err    error
	calls  int
}

func (m *mockFallback) Parse(ctx context.Context, message string, menu domain.Menu) (domain.ParsedOrder, error) {
	m.calls++
	return m.result, m.err
}

var errBoom = errors.New("boom")

type testEnv struct {
	catalog   *mockCatalog
	orders    *mockOrderRepo
	store     *mockStore
	notifier  *mockNotifier
	publisher *mockPublisher
	clock     *fakeClock
	checkIns  *CheckInScheduler
	lifecycle *LifecycleManager
	tracker   *ConversationTracker
	intake    *IntakeService
}

func newTestEnv(t *testing.T, menu domain.Menu, stock map[string]int) *testEnv {
	t.Helper()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	env := &testEnv{
		catalog:   newMockCatalog(menu, stock),
		store:     newMockStore(),
		notifier:  &mockNotifier{},
		publisher: newMockPublisher(),
		clock:     &fakeClock{},
	}
	env.orders = newMockOrderRepo(env.catalog)

	logger := zap.NewNop()
	env.checkIns = NewCheckInScheduler(env.orders, env.catalog, env.store, env.notifier, logger)
	env.checkIns.afterFunc = env.clock.afterFunc

	env.lifecycle = NewLifecycleManager(LifecycleDeps{
		Orders:      env.orders,
		Businesses:  env.catalog,
		Idempotency: env.store,
		Notifier:    env.notifier,
		Publisher:   env.publisher,
		CheckIns:    env.checkIns,
		IDs:         node,
		Logger:      logger,
	})
	env.tracker = NewConversationTracker(env.store, DefaultSessionTimeout, DefaultNameMemoryTTL, logger)
	validator := NewInventoryValidator(env.catalog, env.catalog)
	env.intake = NewIntakeService(env.catalog, nil, validator, env.tracker, env.lifecycle, env.checkIns, logger)

	t.Cleanup(env.checkIns.Stop)
	return env
}

func (e *testEnv) send(t *testing.T, identity, text string) domain.Reply {
	t.Helper()
	reply, err := e.intake.HandleInboundMessage(context.Background(), domain.InboundMessage{
		BusinessID:       "biz-1",
		CustomerIdentity: identity,
		Text:             text,
		Channel:          domain.ChannelGateway,
	})
	if err != nil {
		t.Fatalf("HandleInboundMessage(%q): %v", text, err)
	}
	return reply
}

func cafeMenu() domain.Menu {
	return domain.Menu{"coffee": 450, "sandwich": 899}
}
