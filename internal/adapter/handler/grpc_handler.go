package handler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/textorder/textorder/internal/auth"
	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/core/service"
)

const grpcServiceName = "textorder.v1.OrderService"

// jsonCodec lets clients speak to the service with content-subtype "json".
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type InboundMessageRequest struct {
	CustomerIdentity string `json:"customerIdentity"`
	Text             string `json:"text"`
}

type ConfirmPaymentRequest struct {
	OrderID    string       `json:"orderId"`
	AmountPaid domain.Money `json:"amountPaid"`
}

type UpdateStatusRequest struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type GetOrderRequest struct {
	OrderID string `json:"orderId"`
}

type ListOrdersRequest struct{}

type OrderResponse struct {
	Order *domain.Order `json:"order"`
}

type ListOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

type OrderServiceServer interface {
	HandleInboundMessage(context.Context, *InboundMessageRequest) (*domain.Reply, error)
	ConfirmPayment(context.Context, *ConfirmPaymentRequest) (*OrderResponse, error)
	UpdateStatus(context.Context, *UpdateStatusRequest) (*OrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
}

// GRPCHandler serves merchants and integrations. Every call carries a
// merchant bearer token and is scoped to that business.
type GRPCHandler struct {
	intake *service.IntakeService
	orders *service.LifecycleManager
}

func NewGRPCHandler(intake *service.IntakeService, orders *service.LifecycleManager) *GRPCHandler {
	return &GRPCHandler{intake: intake, orders: orders}
}

func (h *GRPCHandler) HandleInboundMessage(ctx context.Context, req *InboundMessageRequest) (*domain.Reply, error) {
	claims := claimsFromContext(ctx)
	reply, err := h.intake.HandleInboundMessage(ctx, domain.InboundMessage{
		BusinessID:       claims.BusinessID,
		CustomerIdentity: req.CustomerIdentity,
		Text:             req.Text,
		Channel:          domain.ChannelGRPC,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &reply, nil
}

func (h *GRPCHandler) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest) (*OrderResponse, error) {
	if _, err := h.ownedOrder(ctx, req.OrderID); err != nil {
		return nil, err
	}
	order, err := h.orders.ConfirmPayment(ctx, domain.PaymentConfirmation{OrderID: req.OrderID, AmountPaid: req.AmountPaid})
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderResponse{Order: order}, nil
}

func (h *GRPCHandler) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderResponse, error) {
	if _, err := h.ownedOrder(ctx, req.OrderID); err != nil {
		return nil, err
	}
	order, err := h.orders.AdvanceByMerchant(ctx, req.OrderID, domain.OrderStatus(req.Status))
	if err != nil {
		return nil, grpcError(err)
	}
	return &OrderResponse{Order: order}, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	order, err := h.ownedOrder(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &OrderResponse{Order: order}, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, _ *ListOrdersRequest) (*ListOrdersResponse, error) {
	orders, err := h.orders.List(ctx, claimsFromContext(ctx).BusinessID)
	if err != nil {
		return nil, grpcError(err)
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

func (h *GRPCHandler) ownedOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "orderId required")
	}
	order, err := h.orders.Get(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	if order.BusinessID != claimsFromContext(ctx).BusinessID {
		return nil, status.Error(codes.NotFound, "order not found")
	}
	return order, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// UnaryAuthInterceptor requires a merchant token in the authorization metadata.
func UnaryAuthInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || !strings.HasPrefix(values[0], "Bearer ") {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := auth.ValidateRole(secret, strings.TrimPrefix(values[0], "Bearer "), auth.RoleMerchant)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(context.WithValue(ctx, claimsKey, claims), req)
	}
}

// UnaryLoggingInterceptor logs each call with its status code.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)))
		return resp, err
	}
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	if claims := GetClaims(ctx); claims != nil {
		return claims
	}
	return &auth.Claims{}
}

func unaryMethod[Req, Resp any](name string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + grpcServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(OrderServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(OrderServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var orderServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("HandleInboundMessage", OrderServiceServer.HandleInboundMessage),
		unaryMethod("ConfirmPayment", OrderServiceServer.ConfirmPayment),
		unaryMethod("UpdateStatus", OrderServiceServer.UpdateStatus),
		unaryMethod("GetOrder", OrderServiceServer.GetOrder),
		unaryMethod("ListOrders", OrderServiceServer.ListOrders),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "textorder/v1/order_service",
}

func RegisterOrderServiceServer(s grpc.ServiceRegistrar, srv OrderServiceServer) {
	s.RegisterService(&orderServiceDesc, srv)
}

// OrderServiceClient is the client side of textorder.v1.OrderService.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func (c *OrderServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype("json")}, opts...)
	return c.cc.Invoke(ctx, "/"+grpcServiceName+"/"+method, in, out, opts...)
}

func (c *OrderServiceClient) HandleInboundMessage(ctx context.Context, in *InboundMessageRequest, opts ...grpc.CallOption) (*domain.Reply, error) {
	out := new(domain.Reply)
	if err := c.invoke(ctx, "HandleInboundMessage", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ConfirmPayment(ctx context.Context, in *ConfirmPaymentRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "ConfirmPayment", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) UpdateStatus(ctx context.Context, in *UpdateStatusRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "UpdateStatus", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	if err := c.invoke(ctx, "GetOrder", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	out := new(ListOrdersResponse)
	if err := c.invoke(ctx, "ListOrders", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
