package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/textorder/textorder/internal/core/domain"
)

// SQLAdapter stores tenants, menus, stock and orders in MySQL or SQLite.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLAdapter(db *sql.DB, dialect Dialect) *SQLAdapter {
	return &SQLAdapter{db: db, dialect: dialect}
}

func NewMySQLAdapter(db *sql.DB) *SQLAdapter {
	return NewSQLAdapter(db, MySQL)
}

func NewSQLiteAdapter(db *sql.DB) *SQLAdapter {
	return NewSQLAdapter(db, SQLite)
}

func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMicro(), Valid: true}
}

// CreateOrder inserts the order and its lines and takes stock for every item.
// Nothing is written if any item is short.
func (a *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, business_id, customer_identity, customer_name, table_number,
			total_cents, status, channel, created_at, updated_at, paid_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.BusinessID, order.CustomerIdentity, order.CustomerName, order.TableNumber,
		int64(order.Total), string(order.Status), string(order.Channel),
		toMicros(order.CreatedAt), toMicros(order.UpdatedAt), nullMicros(order.PaidAt), nullMicros(order.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, name, quantity, price_cents)
			VALUES (?, ?, ?, ?, ?)`,
			order.ID, i, item.Name, item.Quantity, int64(item.Price),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		result, err := tx.ExecContext(ctx, `
			UPDATE menu_items
			SET stock = stock - ?
			WHERE business_id = ? AND name = ? AND stock >= ?`,
			item.Quantity, order.BusinessID, item.Name, item.Quantity,
		)
		if err != nil {
			return fmt.Errorf("update stock: %w", err)
		}

		rows, _ := result.RowsAffected()
		if rows == 0 {
			return fmt.Errorf("%w: %s", domain.ErrInventoryConflict, item.Name)
		}
	}

	return tx.Commit()
}

const orderColumns = `id, business_id, customer_identity, customer_name, table_number,
	total_cents, status, channel, created_at, updated_at, paid_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                   domain.Order
		total               int64
		status, channel     string
		created, updated    int64
		paidAt, completedAt sql.NullInt64
	)
	err := row.Scan(&o.ID, &o.BusinessID, &o.CustomerIdentity, &o.CustomerName, &o.TableNumber,
		&total, &status, &channel, &created, &updated, &paidAt, &completedAt)
	if err != nil {
		return nil, err
	}
	o.Total = domain.Money(total)
	o.Status = domain.OrderStatus(status)
	o.Channel = domain.Channel(channel)
	o.CreatedAt = fromMicros(created)
	o.UpdatedAt = fromMicros(updated)
	if paidAt.Valid {
		t := fromMicros(paidAt.Int64)
		o.PaidAt = &t
	}
	if completedAt.Valid {
		t := fromMicros(completedAt.Int64)
		o.CompletedAt = &t
	}
	o.Items = []domain.ParsedItem{}
	return &o, nil
}

func (a *SQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(a.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	if err := a.loadItems(ctx, []*domain.Order{order}); err != nil {
		return nil, err
	}
	return order, nil
}

func (a *SQLAdapter) ListOrders(ctx context.Context, businessID string) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE business_id = ?
		ORDER BY created_at DESC, id DESC`, businessID)
}

func (a *SQLAdapter) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN (?, ?)
		ORDER BY created_at`,
		string(domain.OrderStatusPaid), string(domain.OrderStatusPreparing))
}

func (a *SQLAdapter) MostRecentOpenOrder(ctx context.Context, businessID, identity string) (*domain.Order, error) {
	orders, err := a.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE business_id = ? AND customer_identity = ? AND status IN (?, ?)
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		businessID, identity, string(domain.OrderStatusPaid), string(domain.OrderStatusPreparing))
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

func (a *SQLAdapter) ListUnpaidOrders(ctx context.Context, createdBefore time.Time) ([]domain.Order, error) {
	return a.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = ? AND created_at < ?
		ORDER BY created_at`,
		string(domain.OrderStatusAwaitingPayment), toMicros(createdBefore))
}

// ReleaseUnpaidOrder removes an unpaid order and returns its stock in one
// transaction. The delete is guarded on the status so a payment that lands
// first keeps the order.
func (a *SQLAdapter) ReleaseUnpaidOrder(ctx context.Context, id string) (bool, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var businessID string
	err = tx.QueryRowContext(ctx,
		`SELECT business_id FROM orders WHERE id = ? AND status = ?`,
		id, string(domain.OrderStatusAwaitingPayment),
	).Scan(&businessID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query unpaid order: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT name, quantity FROM order_items WHERE order_id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("query order items: %w", err)
	}
	held := make(map[string]int)
	for rows.Next() {
		var (
			name     string
			quantity int
		)
		if err := rows.Scan(&name, &quantity); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan order item: %w", err)
		}
		held[name] += quantity
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("iterate order items: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete order items: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ? AND status = ?`,
		id, string(domain.OrderStatusAwaitingPayment))
	if err != nil {
		return false, fmt.Errorf("delete order: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return false, nil
	}

	for name, quantity := range held {
		if _, err := tx.ExecContext(ctx, `
			UPDATE menu_items SET stock = stock + ?
			WHERE business_id = ? AND name = ?`,
			quantity, businessID, name,
		); err != nil {
			return false, fmt.Errorf("restore stock: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (a *SQLAdapter) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var ptrs []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order: %w", err)
		}
		ptrs = append(ptrs, o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if err := a.loadItems(ctx, ptrs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(ptrs))
	for _, o := range ptrs {
		orders = append(orders, *o)
	}
	return orders, nil
}

func (a *SQLAdapter) loadItems(ctx context.Context, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Order, len(orders))
	args := make([]any, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		args = append(args, o.ID)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT order_id, name, quantity, price_cents FROM order_items
		WHERE order_id IN (`+placeholders(len(args))+`)
		ORDER BY order_id, line_no`, args...)
	if err != nil {
		return fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			item    domain.ParsedItem
			price   int64
		)
		if err := rows.Scan(&orderID, &item.Name, &item.Quantity, &price); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		item.Price = domain.Money(price)
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, item)
		}
	}
	return rows.Err()
}

// TransitionStatus is a compare-and-set on the current status.
func (a *SQLAdapter) TransitionStatus(ctx context.Context, id string, from, to domain.OrderStatus, at time.Time) (bool, error) {
	set := "status = ?, updated_at = ?"
	args := []any{string(to), toMicros(at)}
	switch to {
	case domain.OrderStatusPaid:
		set += ", paid_at = ?"
		args = append(args, toMicros(at))
	case domain.OrderStatusComplete:
		set += ", completed_at = ?"
		args = append(args, toMicros(at))
	}
	args = append(args, id, string(from))

	result, err := a.db.ExecContext(ctx, `UPDATE orders SET `+set+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, fmt.Errorf("update order status: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (a *SQLAdapter) GetMenu(ctx context.Context, businessID string) (domain.Menu, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT name, price_cents FROM menu_items WHERE business_id = ?`, businessID)
	if err != nil {
		return nil, fmt.Errorf("query menu: %w", err)
	}
	defer rows.Close()

	menu := make(domain.Menu)
	for rows.Next() {
		var (
			name  string
			price int64
		)
		if err := rows.Scan(&name, &price); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		menu[name] = domain.Money(price)
	}
	return menu, rows.Err()
}

func (a *SQLAdapter) GetStock(ctx context.Context, businessID, item string) (int, error) {
	var stock int
	err := a.db.QueryRowContext(ctx,
		`SELECT stock FROM menu_items WHERE business_id = ? AND name = ?`, businessID, item,
	).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

// GetStockLevels returns stock for each requested item; unknown items map to 0.
func (a *SQLAdapter) GetStockLevels(ctx context.Context, businessID string, items []string) (map[string]int, error) {
	levels := make(map[string]int, len(items))
	if len(items) == 0 {
		return levels, nil
	}

	args := []any{businessID}
	for _, item := range items {
		levels[item] = 0
		args = append(args, item)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT name, stock FROM menu_items
		WHERE business_id = ? AND name IN (`+placeholders(len(items))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query stock levels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			name  string
			stock int
		)
		if err := rows.Scan(&name, &stock); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		levels[name] = stock
	}
	return levels, rows.Err()
}

// UpsertMenuItem sets the price and stock of one menu item.
func (a *SQLAdapter) UpsertMenuItem(ctx context.Context, businessID, name string, price domain.Money, stock int) error {
	name = domain.NormalizeItemName(name)
	if _, err := a.db.ExecContext(ctx, a.dialect.upsertMenuItem, businessID, name, int64(price), stock); err != nil {
		return fmt.Errorf("upsert menu item: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetSettings(ctx context.Context, businessID string) (domain.BusinessSettings, error) {
	settings := domain.DefaultSettings(businessID)
	var (
		enabled      int
		delaySeconds int64
	)
	err := a.db.QueryRowContext(ctx, `
		SELECT checkin_enabled, checkin_delay_seconds, low_stock_threshold
		FROM business_settings WHERE business_id = ?`, businessID,
	).Scan(&enabled, &delaySeconds, &settings.LowStockThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return settings, nil
	}
	if err != nil {
		return settings, fmt.Errorf("query settings: %w", err)
	}
	settings.CheckInEnabled = enabled != 0
	settings.CheckInDelay = time.Duration(delaySeconds) * time.Second
	return settings, nil
}

func (a *SQLAdapter) SaveSettings(ctx context.Context, settings domain.BusinessSettings) error {
	enabled := 0
	if settings.CheckInEnabled {
		enabled = 1
	}
	_, err := a.db.ExecContext(ctx, a.dialect.upsertSettings,
		settings.BusinessID, enabled, int64(settings.CheckInDelay/time.Second), settings.LowStockThreshold)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func (a *SQLAdapter) GetBusiness(ctx context.Context, id string) (*domain.Business, error) {
	var (
		b       domain.Business
		created int64
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT id, name, phone, api_key_hash, created_at FROM businesses WHERE id = ?`, id,
	).Scan(&b.ID, &b.Name, &b.Phone, &b.APIKeyHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query business: %w", err)
	}
	b.CreatedAt = fromMicros(created)
	return &b, nil
}

// SaveBusiness creates or updates a tenant.
func (a *SQLAdapter) SaveBusiness(ctx context.Context, b domain.Business) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	_, err := a.db.ExecContext(ctx, a.dialect.upsertBusiness, b.ID, b.Name, b.Phone, b.APIKeyHash, toMicros(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("save business: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
