package port

import (
	"context"
	"time"

	"github.com/textorder/textorder/internal/core/domain"
)

type OrderRepository interface {
	// CreateOrder persists a new order and decrements stock for every item in
	// the same transaction. Returns domain.ErrInventoryConflict if any item is short.
	CreateOrder(ctx context.Context, order domain.Order) error

	// GetOrder returns nil, nil when the order does not exist
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	ListOrders(ctx context.Context, businessID string) ([]domain.Order, error)

	// TransitionStatus moves the order from one status to another only if it
	// is still in from. Returns false when another writer got there first.
	TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error)

	// ListOpenOrders returns every order in paid or preparing.
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)

	// MostRecentOpenOrder returns the newest paid/preparing order of a customer, or nil.
	MostRecentOpenOrder(ctx context.Context, businessID, identity string) (*domain.Order, error)

	// ListUnpaidOrders returns awaiting_payment orders created before cutoff.
	ListUnpaidOrders(ctx context.Context, createdBefore time.Time) ([]domain.Order, error)

	// ReleaseUnpaidOrder deletes an order still in awaiting_payment and puts
	// its stock back. Returns false when the order has moved on or is gone.
	ReleaseUnpaidOrder(ctx context.Context, id string) (bool, error)
}

type MenuRepository interface {
	GetMenu(ctx context.Context, businessID string) (domain.Menu, error)

	// GetStock returns 0 for items without a stock row
	GetStock(ctx context.Context, businessID, item string) (int, error)

	GetStockLevels(ctx context.Context, businessID string, items []string) (map[string]int, error)
}

type SettingsRepository interface {
	// GetSettings falls back to domain.DefaultSettings when the tenant has none
	GetSettings(ctx context.Context, businessID string) (domain.BusinessSettings, error)
}

type BusinessRepository interface {
	GetBusiness(ctx context.Context, id string) (*domain.Business, error)
}
