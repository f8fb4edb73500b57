package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/textorder/textorder/internal/adapter/storage"
	"github.com/textorder/textorder/internal/auth"
	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/core/service"
)

const (
	testJWTSecret     = "test-secret"
	testPaymentSecret = "pay-secret"
	testAPIKey        = "cafe-api-key"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Send(ctx context.Context, recipient, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, recipient+": "+text)
	return nil
}

type testStack struct {
	db        *storage.SQLAdapter
	intake    *service.IntakeService
	lifecycle *service.LifecycleManager
	notifier  *recordingNotifier
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	db := storage.NewSQLiteAdapter(storage.NewTestDB(t))
	hash, err := bcrypt.GenerateFromPassword([]byte(testAPIKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for _, b := range []domain.Business{
		{ID: "cafe", Name: "Cafe", Phone: "+15550000000", APIKeyHash: string(hash), CreatedAt: time.Now()},
		{ID: "bakery", Name: "Bakery", Phone: "+15550000001", CreatedAt: time.Now()},
	} {
		if err := db.SaveBusiness(ctx, b); err != nil {
			t.Fatalf("seed business: %v", err)
		}
	}
	db.UpsertMenuItem(ctx, "cafe", "coffee", 450, 10)
	db.UpsertMenuItem(ctx, "cafe", "sandwich", 899, 3)
	db.UpsertMenuItem(ctx, "bakery", "croissant", 300, 10)

	cache := storage.NewMemoryAdapter()
	menus := storage.NewCachedMenuRepository(db, cache, time.Minute, logger)
	notifier := &recordingNotifier{}
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}

	checkIns := service.NewCheckInScheduler(db, db, cache, notifier, logger)
	t.Cleanup(checkIns.Stop)

	lifecycle := service.NewLifecycleManager(service.LifecycleDeps{
		Orders:      db,
		Businesses:  db,
		Idempotency: cache,
		Notifier:    notifier,
		CheckIns:    checkIns,
		IDs:         node,
		Logger:      logger,
	})
	tracker := service.NewConversationTracker(cache, 10*time.Minute, 24*time.Hour, logger)
	validator := service.NewInventoryValidator(menus, db)
	intake := service.NewIntakeService(menus, nil, validator, tracker, lifecycle, checkIns, logger)

	return &testStack{db: db, intake: intake, lifecycle: lifecycle, notifier: notifier}
}

func setupTestServer(t *testing.T) (*httptest.Server, *testStack) {
	t.Helper()
	return setupTestServerWithMeter(t, nil)
}

func setupTestServerWithMeter(t *testing.T, mp metric.MeterProvider) (*httptest.Server, *testStack) {
	t.Helper()
	stack := newTestStack(t)
	h := NewHTTPHandler(HTTPDeps{
		Intake:        stack.intake,
		Orders:        stack.lifecycle,
		Businesses:    stack.db,
		JWTSecret:     testJWTSecret,
		PaymentSecret: testPaymentSecret,
		Logger:        zap.NewNop(),
		MeterProvider: mp,
	})
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, stack
}

func doJSON(t *testing.T, method, target, token string, body any) *http.Response {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func merchantToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, "POST", srv.URL+"/api/auth/token", "", map[string]string{"businessId": "cafe", "apiKey": testAPIKey})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	return decodeBody[tokenResponse](t, resp).Token
}

// placeOrder runs the two-message conversation over the gateway webhook.
func placeOrder(t *testing.T, srv *httptest.Server, from string) {
	t.Helper()
	for _, body := range []string{"2 coffee", "Sam"} {
		resp, err := http.PostForm(srv.URL+"/webhooks/messages/cafe", url.Values{"From": {from}, "Body": {body}})
		if err != nil {
			t.Fatalf("webhook: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Error("expected a request id header")
	}
	if got := decodeBody[map[string]string](t, resp); got["status"] != "ok" {
		t.Errorf("expected status ok, got %+v", got)
	}
}

func TestGatewayWebhook_RepliesWithTwiML(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp, err := http.PostForm(srv.URL+"/webhooks/messages/cafe", url.Values{"From": {"+15551112222"}, "Body": {"menu"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/xml" {
		t.Errorf("expected application/xml, got %q", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	body := buf.String()
	if !strings.Contains(body, "<Response><Message>") || !strings.Contains(body, "coffee - $4.50") {
		t.Errorf("unexpected TwiML: %s", body)
	}
}

func TestGatewayWebhook_CreatesOrder(t *testing.T) {
	srv, stack := setupTestServer(t)
	placeOrder(t, srv, "+15551112222")

	orders, err := stack.lifecycle.List(context.Background(), "cafe")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	order := orders[0]
	if order.CustomerName != "Sam" || order.Total != 900 || order.Channel != domain.ChannelGateway {
		t.Errorf("unexpected order: %+v", order)
	}
	if stock, _ := stack.db.GetStock(context.Background(), "cafe", "coffee"); stock != 8 {
		t.Errorf("expected stock 8, got %d", stock)
	}
}

func TestGatewayWebhook_Validation(t *testing.T) {
	srv, _ := setupTestServer(t)

	tests := []struct {
		name     string
		business string
		form     url.Values
		want     int
	}{
		{"missing sender", "cafe", url.Values{"Body": {"menu"}}, http.StatusBadRequest},
		{"unknown business", "nope", url.Values{"From": {"+1555"}, "Body": {"menu"}}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.PostForm(srv.URL+"/webhooks/messages/"+tt.business, tt.form)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestWebChat_Conversation(t *testing.T) {
	srv, stack := setupTestServer(t)

	resp := doJSON(t, "POST", srv.URL+"/api/chat/session", "", map[string]string{"businessId": "cafe"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	session := decodeBody[chatSessionResponse](t, resp)
	if !strings.HasPrefix(session.CustomerIdentity, "web:") {
		t.Errorf("expected web identity, got %q", session.CustomerIdentity)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/chat/messages", session.Token, map[string]string{"text": "1 sandwich"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if reply := decodeBody[domain.Reply](t, resp); reply.Text != "What's your name?" {
		t.Errorf("expected name prompt, got %q", reply.Text)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/chat/messages", session.Token, map[string]string{"text": "Alex"})
	reply := decodeBody[domain.Reply](t, resp)
	if reply.Order == nil {
		t.Fatalf("expected an order, got %+v", reply)
	}
	if reply.Order.CustomerIdentity != session.CustomerIdentity || reply.Order.Channel != domain.ChannelWebChat {
		t.Errorf("unexpected order: %+v", reply.Order)
	}
	if reply.Order.Total != 899 {
		t.Errorf("expected total 899, got %d", reply.Order.Total)
	}

	if _, err := stack.lifecycle.Get(context.Background(), reply.Order.ID); err != nil {
		t.Errorf("order not persisted: %v", err)
	}
}

func TestWebChat_RejectsMerchantToken(t *testing.T) {
	srv, _ := setupTestServer(t)
	token := merchantToken(t, srv)

	resp := doJSON(t, "POST", srv.URL+"/api/chat/messages", token, map[string]string{"text": "menu"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
}

func TestIssueToken(t *testing.T) {
	srv, _ := setupTestServer(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"valid", map[string]string{"businessId": "cafe", "apiKey": testAPIKey}, http.StatusOK},
		{"wrong key", map[string]string{"businessId": "cafe", "apiKey": "nope"}, http.StatusUnauthorized},
		{"no key configured", map[string]string{"businessId": "bakery", "apiKey": "anything"}, http.StatusUnauthorized},
		{"unknown business", map[string]string{"businessId": "ghost", "apiKey": testAPIKey}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"businessId": "cafe"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, "POST", srv.URL+"/api/auth/token", "", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestOrders_RequireMerchantToken(t *testing.T) {
	srv, _ := setupTestServer(t)

	resp := doJSON(t, "GET", srv.URL+"/api/orders", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	chat, _, _ := auth.GenerateChatToken(testJWTSecret, "cafe")
	resp = doJSON(t, "GET", srv.URL+"/api/orders", chat, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 with chat token, got %d", resp.StatusCode)
	}
}

func TestOrders_LifecycleOverHTTP(t *testing.T) {
	srv, stack := setupTestServer(t)
	placeOrder(t, srv, "+15551112222")
	token := merchantToken(t, srv)

	resp := doJSON(t, "GET", srv.URL+"/api/orders", token, nil)
	orders := decodeBody[[]domain.Order](t, resp)
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}
	id := orders[0].ID

	// Payment cannot be skipped.
	resp = doJSON(t, "PUT", srv.URL+"/api/orders/"+id+"/status", token, statusRequest{Status: "preparing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}

	// Only a payment confirmation marks the order paid.
	resp = doJSON(t, "PUT", srv.URL+"/api/orders/"+id+"/status", token, statusRequest{Status: "paid"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for merchant paid, got %d", resp.StatusCode)
	}
	resp = doJSON(t, "GET", srv.URL+"/api/orders/"+id, token, nil)
	if still := decodeBody[domain.Order](t, resp); still.Status != domain.OrderStatusAwaitingPayment {
		t.Errorf("expected awaiting_payment, got %s", still.Status)
	}

	resp = doJSON(t, "POST", srv.URL+"/api/payments/confirm", "", domain.PaymentConfirmation{OrderID: id, AmountPaid: 900})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without payment secret, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("POST", srv.URL+"/api/payments/confirm", strings.NewReader(`{"orderId":"`+id+`","amountPaid":9.00}`))
	req.Header.Set(paymentSecretHeader, testPaymentSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if paid := decodeBody[domain.Order](t, resp); paid.Status != domain.OrderStatusPaid {
		t.Errorf("expected paid, got %s", paid.Status)
	}

	resp = doJSON(t, "PUT", srv.URL+"/api/orders/"+id+"/status", token, statusRequest{Status: "complete"})
	if done := decodeBody[domain.Order](t, resp); done.Status != domain.OrderStatusComplete || done.CompletedAt == nil {
		t.Errorf("expected complete with timestamp, got %+v", done)
	}

	// Moving backwards is rejected.
	resp = doJSON(t, "PUT", srv.URL+"/api/orders/"+id+"/status", token, statusRequest{Status: "preparing"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}

	resp = doJSON(t, "PUT", srv.URL+"/api/orders/"+id+"/status", token, statusRequest{Status: "shipped"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown status, got %d", resp.StatusCode)
	}

	stack.notifier.mu.Lock()
	defer stack.notifier.mu.Unlock()
	if len(stack.notifier.sent) == 0 {
		t.Error("expected notifications for the transitions")
	}
}

func TestOrders_ScopedToBusiness(t *testing.T) {
	srv, _ := setupTestServer(t)
	placeOrder(t, srv, "+15551112222")
	token := merchantToken(t, srv)

	orders := decodeBody[[]domain.Order](t, doJSON(t, "GET", srv.URL+"/api/orders", token, nil))
	if len(orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(orders))
	}

	other, _ := auth.GenerateMerchantToken(testJWTSecret, "bakery")
	resp := doJSON(t, "GET", srv.URL+"/api/orders/"+orders[0].ID, other, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for another tenant, got %d", resp.StatusCode)
	}

	list := decodeBody[[]domain.Order](t, doJSON(t, "GET", srv.URL+"/api/orders", other, nil))
	if len(list) != 0 {
		t.Errorf("expected empty list for another tenant, got %d", len(list))
	}

	resp = doJSON(t, "GET", srv.URL+"/api/orders/missing", token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestConfirmPayment_UnknownOrder(t *testing.T) {
	srv, _ := setupTestServer(t)

	req, _ := http.NewRequest("POST", srv.URL+"/api/payments/confirm", strings.NewReader(`{"orderId":"nope"}`))
	req.Header.Set(paymentSecretHeader, testPaymentSecret)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRoutes_RecordRequestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	srv, _ := setupTestServerWithMeter(t, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()

	// The handler records after the response is written, so poll briefly.
	var rm metricdata.ResourceMetrics
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := reader.Collect(context.Background(), &rm); err != nil {
			t.Fatalf("collect: %v", err)
		}
		if hasScopeMetrics(rm, otelhttp.ScopeName) || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !hasScopeMetrics(rm, otelhttp.ScopeName) {
		t.Errorf("expected otelhttp server metrics, got %+v", rm.ScopeMetrics)
	}
}

func hasScopeMetrics(rm metricdata.ResourceMetrics, scope string) bool {
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name == scope && len(sm.Metrics) > 0 {
			return true
		}
	}
	return false
}
