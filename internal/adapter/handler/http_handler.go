package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/textorder/textorder/internal/auth"
	"github.com/textorder/textorder/internal/config"
	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/core/service"
	"github.com/textorder/textorder/internal/port"
)

const paymentSecretHeader = "X-Payment-Secret"

type HTTPDeps struct {
	Intake        *service.IntakeService
	Orders        *service.LifecycleManager
	Businesses    port.BusinessRepository
	JWTSecret     string
	PaymentSecret string
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider // optional, defaults to the global provider
}

type HTTPHandler struct {
	intake        *service.IntakeService
	orders        *service.LifecycleManager
	businesses    port.BusinessRepository
	jwtSecret     string
	paymentSecret string
	logger        *zap.Logger
	meterProvider metric.MeterProvider
}

type tokenRequest struct {
	BusinessID string `json:"businessId"`
	APIKey     string `json:"apiKey"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type chatSessionRequest struct {
	BusinessID string `json:"businessId"`
}

type chatSessionResponse struct {
	Token            string `json:"token"`
	CustomerIdentity string `json:"customerIdentity"`
}

type chatMessageRequest struct {
	Text string `json:"text"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func NewHTTPHandler(deps HTTPDeps) *HTTPHandler {
	mp := deps.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return &HTTPHandler{
		intake:        deps.Intake,
		orders:        deps.Orders,
		businesses:    deps.Businesses,
		jwtSecret:     deps.JWTSecret,
		paymentSecret: deps.PaymentSecret,
		logger:        deps.Logger,
		meterProvider: mp,
	}
}

// Routes registers every endpoint on a new mux.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	merchant := AuthMiddleware(h.jwtSecret, auth.RoleMerchant)
	chat := AuthMiddleware(h.jwtSecret, auth.RoleChat)

	// handle tags each span and request metric with its route pattern.
	handle := func(pattern string, handler http.Handler) {
		mux.Handle(pattern, otelhttp.WithRouteTag(pattern, handler))
	}

	handle("GET /health", http.HandlerFunc(h.HealthCheck))

	// Inbound channels.
	handle("POST /webhooks/messages/{businessID}", http.HandlerFunc(h.GatewayWebhook))
	handle("POST /api/chat/session", http.HandlerFunc(h.StartChat))
	handle("POST /api/chat/messages", chat(http.HandlerFunc(h.ChatMessage)))

	// Payment collaborator.
	handle("POST /api/payments/confirm", http.HandlerFunc(h.ConfirmPayment))

	// Merchant.
	handle("POST /api/auth/token", http.HandlerFunc(h.IssueToken))
	handle("GET /api/orders", merchant(http.HandlerFunc(h.ListOrders)))
	handle("GET /api/orders/{id}", merchant(http.HandlerFunc(h.GetOrder)))
	handle("PUT /api/orders/{id}/status", merchant(http.HandlerFunc(h.UpdateStatus)))

	return otelhttp.NewHandler(LoggingMiddleware(h.logger)(mux), config.ServiceName,
		otelhttp.WithMeterProvider(h.meterProvider),
		otelhttp.WithTracerProvider(otel.GetTracerProvider()),
	)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GatewayWebhook handles POST /webhooks/messages/{businessID}. The gateway
// posts form fields From and Body and expects TwiML back.
func (h *HTTPHandler) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	businessID := r.PathValue("businessID")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	from := strings.TrimSpace(r.PostForm.Get("From"))
	if from == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}

	if !h.businessExists(w, r, businessID) {
		return
	}

	reply, err := h.intake.HandleInboundMessage(r.Context(), domain.InboundMessage{
		BusinessID:       businessID,
		CustomerIdentity: from,
		Text:             r.PostForm.Get("Body"),
		Channel:          domain.ChannelGateway,
	})
	if err != nil {
		http.Error(w, "invalid message", http.StatusBadRequest)
		return
	}
	writeTwiML(w, reply.Text)
}

// StartChat handles POST /api/chat/session.
func (h *HTTPHandler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req chatSessionRequest
	if err := decodeJSON(r, &req); err != nil || req.BusinessID == "" {
		jsonError(w, http.StatusBadRequest, "businessId required")
		return
	}
	if !h.businessExists(w, r, req.BusinessID) {
		return
	}

	token, identity, err := auth.GenerateChatToken(h.jwtSecret, req.BusinessID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusCreated, chatSessionResponse{Token: token, CustomerIdentity: identity})
}

// ChatMessage handles POST /api/chat/messages.
func (h *HTTPHandler) ChatMessage(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req chatMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := h.intake.HandleInboundMessage(r.Context(), domain.InboundMessage{
		BusinessID:       claims.BusinessID,
		CustomerIdentity: claims.Subject,
		Text:             req.Text,
		Channel:          domain.ChannelWebChat,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// ConfirmPayment handles POST /api/payments/confirm.
func (h *HTTPHandler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	secret := r.Header.Get(paymentSecretHeader)
	if h.paymentSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.paymentSecret)) != 1 {
		jsonError(w, http.StatusUnauthorized, "invalid payment secret")
		return
	}

	var req domain.PaymentConfirmation
	if err := decodeJSON(r, &req); err != nil || req.OrderID == "" {
		jsonError(w, http.StatusBadRequest, "orderId required")
		return
	}

	order, err := h.orders.ConfirmPayment(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// IssueToken handles POST /api/auth/token.
func (h *HTTPHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BusinessID == "" || req.APIKey == "" {
		jsonError(w, http.StatusBadRequest, "businessId and apiKey required")
		return
	}

	business, err := h.businesses.GetBusiness(r.Context(), req.BusinessID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if business == nil || business.APIKeyHash == "" {
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(business.APIKeyHash), []byte(req.APIKey)); err != nil {
		h.logger.Warn("merchant login failed", zap.String("business_id", req.BusinessID), zap.String("remote", r.RemoteAddr))
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := auth.GenerateMerchantToken(h.jwtSecret, business.ID)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

// ListOrders handles GET /api/orders for the caller's business.
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	orders, err := h.orders.List(r.Context(), claims.BusinessID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder handles GET /api/orders/{id}.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.ownedOrder(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateStatus handles PUT /api/orders/{id}/status.
func (h *HTTPHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.ownedOrder(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	updated, err := h.orders.AdvanceByMerchant(r.Context(), order.ID, domain.OrderStatus(req.Status))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ownedOrder loads the path order and hides orders of other businesses.
func (h *HTTPHandler) ownedOrder(r *http.Request) (*domain.Order, error) {
	claims := GetClaims(r.Context())
	order, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if order.BusinessID != claims.BusinessID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (h *HTTPHandler) businessExists(w http.ResponseWriter, r *http.Request, businessID string) bool {
	business, err := h.businesses.GetBusiness(r.Context(), businessID)
	if err != nil {
		h.logger.Error("business lookup failed", zap.String("business_id", businessID), zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if business == nil {
		jsonError(w, http.StatusNotFound, "unknown business")
		return false
	}
	return true
}
