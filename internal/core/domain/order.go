package domain

import "time"

type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusPreparing       OrderStatus = "preparing"
	OrderStatusComplete        OrderStatus = "complete"
)

var statusRank = map[OrderStatus]int{
	OrderStatusAwaitingPayment: 1,
	OrderStatusPaid:            2,
	OrderStatusPreparing:       3,
	OrderStatusComplete:        4,
}

// ParseOrderStatus validates a status string.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status := OrderStatus(s)
	_, ok := statusRank[status]
	return status, ok
}

// Rank returns the position of the status in the lifecycle, 0 if unknown.
func (s OrderStatus) Rank() int {
	return statusRank[s]
}

// CanAdvanceTo reports whether moving from s to next is a forward move.
// Payment cannot be skipped: nothing leaves awaiting_payment except paid.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	if s.Rank() == 0 || next.Rank() == 0 {
		return false
	}
	if s == OrderStatusAwaitingPayment {
		return next == OrderStatusPaid
	}
	return next.Rank() > s.Rank()
}

// CheckInWindow reports whether a check-in timer may exist for the status.
func (s OrderStatus) CheckInWindow() bool {
	return s == OrderStatusPaid || s == OrderStatusPreparing
}

// Channel identifies the inbound channel an order came from.
type Channel string

const (
	ChannelGateway Channel = "gateway"
	ChannelWebChat Channel = "webchat"
	ChannelGRPC    Channel = "grpc"
)

// Order is the persisted order record.
type Order struct {
	ID               string       `json:"id"`
	BusinessID       string       `json:"businessId"`
	CustomerIdentity string       `json:"customerPhone"`
	CustomerName     string       `json:"customerName,omitempty"`
	TableNumber      string       `json:"tableNumber,omitempty"`
	Items            []ParsedItem `json:"items"`
	Total            Money        `json:"total"`
	Status           OrderStatus  `json:"status"`
	Channel          Channel      `json:"channel,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
	PaidAt           *time.Time   `json:"paidAt,omitempty"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

// PaymentConfirmation is emitted by the payment collaborator.
type PaymentConfirmation struct {
	OrderID    string `json:"orderId"`
	AmountPaid Money  `json:"amountPaid"`
}
