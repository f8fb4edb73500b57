package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/textorder/textorder/internal/adapter/storage"
	"github.com/textorder/textorder/internal/core/domain"
	"github.com/textorder/textorder/internal/core/service"
)

const (
	businessID = "loadtest-cafe"
	itemName   = "cold brew"
	itemPrice  = domain.Money(500)
)

func main() {
	var (
		initialStock  = flag.Int("stock", 20, "units of the item in stock")
		totalRequests = flag.Int("customers", 50, "concurrent customers ordering one unit each")
	)
	flag.Parse()

	ctx := context.Background()
	logger := zap.NewNop()

	dir, err := os.MkdirTemp("", "textorder-loadtest")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	db, err := storage.Open(ctx, storage.SQLite, filepath.Join(dir, "loadtest.sqlite3"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := storage.NewSQLiteAdapter(db)
	repo.SaveBusiness(ctx, domain.Business{ID: businessID, Name: "Load Test Cafe", CreatedAt: time.Now()})
	if err := repo.UpsertMenuItem(ctx, businessID, itemName, itemPrice, *initialStock); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}

	cache := storage.NewMemoryAdapter()
	node, _ := snowflake.NewNode(1)
	lifecycle := service.NewLifecycleManager(service.LifecycleDeps{
		Orders:      repo,
		Businesses:  repo,
		Idempotency: cache,
		IDs:         node,
		Logger:      logger,
	})
	tracker := service.NewConversationTracker(cache, 10*time.Minute, time.Hour, logger)
	validator := service.NewInventoryValidator(repo, repo)
	intake := service.NewIntakeService(repo, nil, validator, tracker, lifecycle, nil, logger)

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent customers
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			reply, err := intake.HandleInboundMessage(ctx, domain.InboundMessage{
				BusinessID:       businessID,
				CustomerIdentity: fmt.Sprintf("+1555%07d", n),
				Text:             "1 " + itemName + " for Guest",
				Channel:          domain.ChannelWebChat,
			})
			if err == nil && reply.Order != nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	fail := int(failCount.Load())
	wantSuccess := min(*initialStock, *totalRequests)

	fmt.Println("========== LOAD TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", *initialStock)
	fmt.Printf("Customers:        %d\n", *totalRequests)
	fmt.Printf("Orders Created:   %d\n", success)
	fmt.Printf("Turned Away:      %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("========================================")

	ok := true
	if success == wantSuccess && fail == *totalRequests-wantSuccess {
		fmt.Printf("PASS: exactly %d orders created, %d turned away\n", success, fail)
	} else {
		fmt.Printf("FAIL: expected %d created/%d turned away, got %d/%d\n",
			wantSuccess, *totalRequests-wantSuccess, success, fail)
		ok = false
	}

	finalStock, _ := repo.GetStock(ctx, businessID, itemName)
	fmt.Printf("Final Stock:      %d\n", finalStock)
	if finalStock == *initialStock-wantSuccess {
		fmt.Println("PASS: stock never oversold")
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", *initialStock-wantSuccess, finalStock)
		ok = false
	}

	if !ok {
		os.Exit(1)
	}
}
