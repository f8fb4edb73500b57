package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/textorder/textorder/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/textorder"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := EnsureSchema(context.Background(), db, MySQL); err != nil {
		t.Fatalf("schema: %v", err)
	}

	return db
}

func TestMySQLCreateOrder_Concurrent(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	businessID := "test-biz-" + uuid.NewString()[:8]

	// Setup
	if err := adapter.UpsertMenuItem(ctx, businessID, "coffee", 450, 5); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer func() {
		db.ExecContext(ctx, `DELETE FROM order_items WHERE order_id IN (SELECT id FROM orders WHERE business_id = ?)`, businessID)
		db.ExecContext(ctx, `DELETE FROM orders WHERE business_id = ?`, businessID)
		db.ExecContext(ctx, `DELETE FROM menu_items WHERE business_id = ?`, businessID)
	}()

	var successCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			now := time.Now()
			order := domain.Order{
				ID:               uuid.NewString()[:32],
				BusinessID:       businessID,
				CustomerIdentity: "+15551234567",
				Items:            []domain.ParsedItem{{Name: "coffee", Quantity: 1, Price: 450}},
				Total:            450,
				Status:           domain.OrderStatusAwaitingPayment,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			err := adapter.CreateOrder(ctx, order)
			if err == nil {
				successCount.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrInventoryConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != 5 {
		t.Errorf("expected 5 successes, got %d", successCount.Load())
	}

	stock, _ := adapter.GetStock(ctx, businessID, "coffee")
	if stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}

	orders, err := adapter.ListOrders(ctx, businessID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 5 {
		t.Errorf("expected 5 orders, got %d", len(orders))
	}
}

func TestMySQLSettingsUpsert(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	businessID := "test-biz-" + uuid.NewString()[:8]
	defer db.ExecContext(ctx, `DELETE FROM business_settings WHERE business_id = ?`, businessID)

	want := domain.BusinessSettings{
		BusinessID:        businessID,
		CheckInEnabled:    true,
		CheckInDelay:      5 * time.Minute,
		LowStockThreshold: 3,
	}
	if err := adapter.SaveSettings(ctx, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want.LowStockThreshold = 1
	if err := adapter.SaveSettings(ctx, want); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := adapter.GetSettings(ctx, businessID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
