package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/textorder/textorder/internal/adapter/handler"
	"github.com/textorder/textorder/internal/adapter/llm"
	"github.com/textorder/textorder/internal/adapter/messaging"
	"github.com/textorder/textorder/internal/adapter/storage"
	"github.com/textorder/textorder/internal/config"
	"github.com/textorder/textorder/internal/core/service"
	"github.com/textorder/textorder/internal/platform/observability"
	"github.com/textorder/textorder/internal/port"
)

// cacheStore is everything the services keep in Redis or in memory.
type cacheStore interface {
	port.SessionStore
	port.CheckInMarks
	port.IdempotencyStore
	port.MenuCache
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownLogging, err := observability.SetupLoggingSDK(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
	}
	logger := observability.NewLogger(cfg.OtelEndpoint != "")
	defer logger.Sync()

	var tracerProvider trace.TracerProvider
	tp, shutdownTracing, err := observability.SetupTracingSDK(ctx, cfg)
	if err != nil {
		logger.Warn("tracing exporter disabled", zap.Error(err))
	}
	if tp != nil {
		tracerProvider = tp
	}
	shutdownMetrics, err := observability.SetupMetricsSDK(ctx, cfg)
	if err != nil {
		logger.Warn("metrics exporter disabled", zap.Error(err))
	}

	if cfg.JWTSecret == "" {
		cfg.JWTSecret = randomSecret()
		logger.Warn("JWT_SECRET not set, generated an ephemeral key; tokens will not survive a restart")
	}

	// Initialize database
	dialect, err := storage.DialectFor(cfg.DBDriver)
	if err != nil {
		logger.Fatal("unsupported database", zap.Error(err))
	}
	db, err := storage.Open(ctx, dialect, cfg.DBDSN)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if dialect.Name == "mysql" {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	sqlAdapter := storage.NewSQLAdapter(db, dialect)
	logger.Info("connected to database", zap.String("driver", dialect.Name))

	// Initialize Redis, or keep ephemeral state in process
	var (
		cache cacheStore
		rdb   *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		cache = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		cache = storage.NewMemoryAdapter()
		logger.Info("REDIS_ADDR not set, keeping sessions in memory")
	}
	menus := storage.NewCachedMenuRepository(sqlAdapter, cache, cfg.MenuCacheTTL, logger)

	// Outbound messaging
	var outbound port.Notifier = messaging.NewLogNotifier(logger)
	var publisher port.FulfillmentPublisher = messaging.NewLogPublisher(logger)
	var closers []func() error
	if cfg.KafkaBroker != "" {
		notifyWriter, err := messaging.NewWriter(cfg.KafkaBroker, config.CustomerNotificationsTopic, tracerProvider)
		if err != nil {
			logger.Fatal("failed to create notification writer", zap.Error(err))
		}
		paidWriter, err := messaging.NewWriter(cfg.KafkaBroker, config.OrderPaidTopic, tracerProvider)
		if err != nil {
			logger.Fatal("failed to create order writer", zap.Error(err))
		}
		outbound = messaging.NewKafkaNotifier(notifyWriter, logger)
		publisher = messaging.NewKafkaPublisher(paidWriter, logger)
		closers = append(closers, notifyWriter.Close, paidWriter.Close)
		logger.Info("kafka enabled", zap.String("broker", cfg.KafkaBroker))
	}
	notifier := service.NewAsyncNotifier(outbound, cfg.NotifyQueueSize, cfg.NotifyWorkers, logger)

	// Initialize services
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		logger.Fatal("invalid node id", zap.Error(err))
	}
	checkIns := service.NewCheckInScheduler(sqlAdapter, sqlAdapter, cache, notifier, logger)
	lifecycle := service.NewLifecycleManager(service.LifecycleDeps{
		Orders:      sqlAdapter,
		Businesses:  sqlAdapter,
		Idempotency: cache,
		Notifier:    notifier,
		Publisher:   publisher,
		CheckIns:    checkIns,
		IDs:         node,
		Logger:      logger,
	})
	tracker := service.NewConversationTracker(cache, cfg.SessionTimeout, cfg.NameMemoryTTL, logger)
	validator := service.NewInventoryValidator(menus, sqlAdapter)

	var fallback port.OrderParser
	if cfg.LLMAPIKey != "" {
		model, err := openai.New(openai.WithToken(cfg.LLMAPIKey), openai.WithModel(cfg.LLMModel))
		if err != nil {
			logger.Fatal("failed to create llm client", zap.Error(err))
		}
		fallback = llm.NewParser(model, logger)
		logger.Info("llm fallback parser enabled", zap.String("model", cfg.LLMModel))
	}
	intake := service.NewIntakeService(menus, fallback, validator, tracker, lifecycle, checkIns, logger)

	// Resume check-ins for orders paid before the restart
	if n, err := checkIns.Rearm(ctx); err != nil {
		logger.Error("failed to rearm check-ins", zap.Error(err))
	} else {
		logger.Info("rearmed check-ins", zap.Int("count", n))
	}

	// Give back stock held by orders nobody paid for
	go lifecycle.RunUnpaidSweeper(ctx, cfg.SweepInterval, cfg.PaymentTimeout)

	// Payment confirmations from Kafka
	consumerDone := make(chan struct{})
	if cfg.KafkaBroker != "" {
		reader, err := messaging.NewReader(cfg.KafkaBroker, config.PaymentConfirmedTopic)
		if err != nil {
			logger.Fatal("failed to create payment reader", zap.Error(err))
		}
		closers = append(closers, reader.Close)
		consumer := messaging.NewPaymentConsumer(reader, lifecycle, logger)
		go func() {
			defer close(consumerDone)
			if err := consumer.Start(ctx); err != nil {
				logger.Error("payment consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryLoggingInterceptor(logger),
		handler.UnaryAuthInterceptor(cfg.JWTSecret),
	))
	handler.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(intake, lifecycle))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(handler.HTTPDeps{
		Intake:        intake,
		Orders:        lifecycle,
		Businesses:    sqlAdapter,
		JWTSecret:     cfg.JWTSecret,
		PaymentSecret: cfg.PaymentSecret,
		Logger:        logger,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	cancel()
	<-consumerDone
	checkIns.Stop()
	notifier.Close()
	logger.Info("workers stopped")

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info("connections closed")

	if shutdownMetrics != nil {
		shutdownMetrics(shutdownCtx)
	}
	if shutdownTracing != nil {
		shutdownTracing(shutdownCtx)
	}
	if shutdownLogging != nil {
		shutdownLogging(shutdownCtx)
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
