package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/textorder/textorder/internal/adapter/storage"
	"github.com/textorder/textorder/internal/config"
	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/port"
)

// menuFlag collects repeated -item "name=price:stock" values.
type menuFlag []menuItem

type menuItem struct {
	name  string
	price domain.Money
	stock int
}

func (f *menuFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, item := range *f {
		parts = append(parts, fmt.Sprintf("%s=%s:%d", item.name, item.price, item.stock))
	}
	return strings.Join(parts, ",")
}

func (f *menuFlag) Set(v string) error {
	item, err := parseMenuItem(v)
	if err != nil {
		return err
	}
	*f = append(*f, item)
	return nil
}

func parseMenuItem(v string) (menuItem, error) {
	name, rest, ok := strings.Cut(v, "=")
	name = strings.ToLower(strings.TrimSpace(name))
	if !ok || name == "" {
		return menuItem{}, fmt.Errorf("item %q: want name=price:stock", v)
	}
	priceStr, stockStr, ok := strings.Cut(rest, ":")
	if !ok {
		return menuItem{}, fmt.Errorf("item %q: want name=price:stock", v)
	}
	price, err := domain.ParseMoney(priceStr)
	if err != nil {
		return menuItem{}, fmt.Errorf("item %q: %w", v, err)
	}
	stock, err := strconv.Atoi(strings.TrimSpace(stockStr))
	if err != nil || stock < 0 {
		return menuItem{}, fmt.Errorf("item %q: invalid stock", v)
	}
	return menuItem{name: name, price: price, stock: stock}, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.RegisterFlags(flag.CommandLine)

	var items menuFlag
	var (
		businessID   = flag.String("business", "", "business id (required)")
		name         = flag.String("name", "", "business display name")
		phone        = flag.String("phone", "", "merchant phone for paid-order alerts")
		apiKey       = flag.String("api-key", "", "merchant API key (stored as a bcrypt hash)")
		checkIn      = flag.Bool("checkin", true, "send check-in messages after payment")
		checkInDelay = flag.Duration("checkin-delay", domain.DefaultCheckInDelay, "delay before the check-in message")
		lowStock     = flag.Int("low-stock", domain.DefaultLowStockThreshold, "stock level that triggers a warning")
	)
	flag.Var(&items, "item", `menu item as "name=price:stock", repeatable`)
	flag.Parse()

	if *businessID == "" {
		fmt.Fprintln(os.Stderr, "-business is required")
		os.Exit(2)
	}
	if err := seed(cfg, *businessID, *name, *phone, *apiKey, items, domain.BusinessSettings{
		BusinessID:        *businessID,
		CheckInEnabled:    *checkIn,
		CheckInDelay:      *checkInDelay,
		LowStockThreshold: *lowStock,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded %s with %d menu items\n", *businessID, len(items))
}

func seed(cfg *config.Config, businessID, name, phone, apiKey string, items []menuItem, settings domain.BusinessSettings) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dialect, err := storage.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	db, err := storage.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := storage.NewSQLAdapter(db, dialect)

	// A running server caches menus in Redis; drop the stale copy.
	var cache port.MenuCache = storage.NewMemoryAdapter()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cache = storage.NewRedisAdapter(rdb)
	}
	menus := storage.NewCachedMenuRepository(repo, cache, cfg.MenuCacheTTL, zap.NewNop())

	return seedBusiness(ctx, repo, menus, businessID, name, phone, apiKey, items, settings)
}

func seedBusiness(ctx context.Context, repo *storage.SQLAdapter, menus *storage.CachedMenuRepository, businessID, name, phone, apiKey string, items []menuItem, settings domain.BusinessSettings) error {
	business := domain.Business{ID: businessID, Name: name, Phone: phone, CreatedAt: time.Now()}
	if business.Name == "" {
		business.Name = businessID
	}
	if apiKey != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hashing api key: %w", err)
		}
		business.APIKeyHash = string(hash)
	}
	if err := repo.SaveBusiness(ctx, business); err != nil {
		return err
	}
	if err := repo.SaveSettings(ctx, settings); err != nil {
		return err
	}
	for _, item := range items {
		if err := repo.UpsertMenuItem(ctx, businessID, item.name, item.price, item.stock); err != nil {
			return err
		}
	}
	if len(items) > 0 {
		if err := menus.Invalidate(ctx, businessID); err != nil {
			return fmt.Errorf("invalidate menu cache: %w", err)
		}
	}
	return nil
}
