package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	ServiceName    = "textorder"
	ServiceVersion = "0.1.0"
)

const (
	PaymentConfirmedTopic      = "PaymentConfirmed"
	OrderPaidTopic             = "OrderPaid"
	CustomerNotificationsTopic = "CustomerNotifications"
	GroupID                    = "textorder-group"
	BatchTimeout               = 10 * time.Millisecond
	BatchSize                  = 100
)

const (
	LogsPath       = "/otlp/v1/logs"
	TracesPath     = "/otlp/v1/traces"
	MetricsPath    = "/otlp/v1/metrics"
	ExportTimeout  = 30 * time.Second
	MetricInterval = 15 * time.Second
	MaxQueueSize   = 2048
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver  string
	DBDSN     string
	RedisAddr string

	KafkaBroker string

	SessionTimeout time.Duration
	NameMemoryTTL  time.Duration
	MenuCacheTTL   time.Duration

	// Unpaid orders older than PaymentTimeout are dropped and their stock
	// returned; the sweep runs every SweepInterval.
	PaymentTimeout time.Duration
	SweepInterval  time.Duration

	JWTSecret     string
	PaymentSecret string

	LLMAPIKey string
	LLMModel  string

	OtelEndpoint   string
	OtelAuthHeader string

	NodeID          int64
	NotifyWorkers   int
	NotifyQueueSize int
}

// LoadConfig reads the configuration from the environment, falling back to
// defaults for anything unset.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:       getenv("GRPC_ADDR", ":50051"),
		DBDriver:       getenv("DB_DRIVER", "sqlite"),
		DBDSN:          getenv("DB_DSN", "textorder.sqlite3"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		PaymentSecret:  os.Getenv("PAYMENT_SECRET"),
		LLMAPIKey:      os.Getenv("LLM_API_KEY"),
		LLMModel:       getenv("LLM_MODEL", "gpt-4o-mini"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
	}

	var err error
	if cfg.SessionTimeout, err = getDuration("SESSION_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.NameMemoryTTL, err = getDuration("NAME_MEMORY_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.MenuCacheTTL, err = getDuration("MENU_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.PaymentTimeout, err = getDuration("PAYMENT_TIMEOUT", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = getInt("NOTIFY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", 1000); err != nil {
		return nil, err
	}
	nodeID, err := getInt("NODE_ID", 1)
	if err != nil {
		return nil, err
	}
	cfg.NodeID = int64(nodeID)

	return cfg, nil
}

// RegisterFlags binds command-line overrides for the most common settings.
// Values already loaded from the environment become the flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.HTTPAddr, "a", c.HTTPAddr, "HTTP listen address (shorthand)")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC listen address")
	fs.StringVar(&c.DBDriver, "db-driver", c.DBDriver, "database driver (sqlite or mysql)")
	fs.StringVar(&c.DBDSN, "db", c.DBDSN, "database DSN or SQLite file path")
	fs.StringVar(&c.DBDSN, "d", c.DBDSN, "database DSN or SQLite file path (shorthand)")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address (empty keeps state in memory)")
	fs.StringVar(&c.KafkaBroker, "kafka", c.KafkaBroker, "Kafka broker (empty disables Kafka)")
	fs.StringVar(&c.JWTSecret, "jwt-secret", c.JWTSecret, "JWT signing key (auto-generated if empty)")
	fs.Int64Var(&c.NodeID, "node", c.NodeID, "snowflake node id")
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "mysql" {
		return fmt.Errorf("DB_DRIVER must be sqlite or mysql, got %q", c.DBDriver)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("SESSION_TIMEOUT must be positive")
	}
	if c.PaymentTimeout <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("PAYMENT_TIMEOUT and SWEEP_INTERVAL must be positive")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("NODE_ID must be between 0 and 1023, got %d", c.NodeID)
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 {
		return fmt.Errorf("NOTIFY_WORKERS and NOTIFY_QUEUE_SIZE must be positive")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
