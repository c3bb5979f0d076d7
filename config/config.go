// config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Gateway    GatewayConfig
	JWT        JWTConfig
	Ledger     LedgerConfig
	Reconciler ReconcilerConfig
	RateLimit  RateLimitConfig
}

type ServerConfig struct {
	Port            string
	GRPCAddr        string
	Env             string
	AllowedOrigins  []string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// DSN returns a pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Enabled bool
}

type GatewayConfig struct {
	Provider         string // "paygate" or "sandbox"
	BaseURL          string
	APIKey           string
	APISecret        string
	Timeout          time.Duration
	WebhookSecret    string
	WebhookTolerance time.Duration
}

type JWTConfig struct {
	PublicKeyPath string
	Issuer        string
	Audience      string
}

type LedgerConfig struct {
	PlatformFeePercent decimal.Decimal
	Currency           string
	StoreDriver        string // "postgres" or "memory"
	BalanceCacheTTL    time.Duration
	IdentityCacheTTL   time.Duration
}

type ReconcilerConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type RateLimitConfig struct {
	Limit  int
	Window time.Duration
	Block  time.Duration
}

func (c *Config) IsProduction() bool { return c.Server.Env == "production" }

// Load reads configuration from the environment. Call godotenv.Load beforehand to pick up .env files.
func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			GRPCAddr:        getEnv("GRPC_ADDR", ":9090"),
			Env:             getEnv("ENVIRONMENT", "development"),
			AllowedOrigins:  getEnvSlice("ALLOWED_ORIGINS", []string{"*"}),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "contracts"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASS", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:   getEnv("KAFKA_TOPIC", "contract-events"),
			Enabled: getEnvBool("KAFKA_ENABLED", false),
		},
		Gateway: GatewayConfig{
			Provider:         getEnv("GATEWAY_PROVIDER", "sandbox"),
			BaseURL:          getEnv("GATEWAY_BASE_URL", "https://api.paygate.example"),
			APIKey:           getEnv("GATEWAY_API_KEY", ""),
			APISecret:        getEnv("GATEWAY_API_SECRET", ""),
			Timeout:          getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
			WebhookSecret:    getEnv("GATEWAY_WEBHOOK_SECRET", ""),
			WebhookTolerance: getEnvDuration("GATEWAY_WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		JWT: JWTConfig{
			PublicKeyPath: getEnv("JWT_PUBLIC_KEY_PATH", "secrets/jwt_public.pem"),
			Issuer:        getEnv("JWT_ISSUER", ""),
			Audience:      getEnv("JWT_AUDIENCE", ""),
		},
		Ledger: LedgerConfig{
			Currency:         strings.ToUpper(getEnv("LEDGER_CURRENCY", "USD")),
			StoreDriver:      getEnv("STORE_DRIVER", "postgres"),
			BalanceCacheTTL:  getEnvDuration("BALANCE_CACHE_TTL", 30*time.Second),
			IdentityCacheTTL: getEnvDuration("IDENTITY_CACHE_TTL", 10*time.Minute),
		},
		Reconciler: ReconcilerConfig{
			Enabled:    getEnvBool("RECONCILER_ENABLED", true),
			Interval:   getEnvDuration("RECONCILER_INTERVAL", time.Minute),
			StaleAfter: getEnvDuration("RECONCILER_STALE_AFTER", 2*time.Minute),
			BatchSize:  getEnvInt("RECONCILER_BATCH_SIZE", 100),
		},
		RateLimit: RateLimitConfig{
			Limit:  getEnvInt("RATE_LIMIT", 120),
			Window: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
			Block:  getEnvDuration("RATE_LIMIT_BLOCK", time.Minute),
		},
	}

	fee, err := decimal.NewFromString(getEnv("PLATFORM_FEE_PERCENT", "10"))
	if err != nil {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT: %w", err)
	}
	cfg.Ledger.PlatformFeePercent = fee

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("configuration loaded",
			zap.String("env", cfg.Server.Env),
			zap.String("port", cfg.Server.Port),
			zap.String("store_driver", cfg.Ledger.StoreDriver),
			zap.String("gateway", cfg.Gateway.Provider),
			zap.Bool("kafka", cfg.Kafka.Enabled),
			zap.Bool("redis", cfg.Redis.Enabled),
			zap.Duration("reconcile_interval", cfg.Reconciler.Interval))
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.IsProduction() && c.Ledger.StoreDriver == "postgres" && c.Database.Password == "" {
		errs = append(errs, errors.New("DB_PASSWORD is required in production"))
	}
	if c.Ledger.PlatformFeePercent.IsNegative() || c.Ledger.PlatformFeePercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errs = append(errs, errors.New("PLATFORM_FEE_PERCENT must be in [0, 100)"))
	}
	if len(c.Ledger.Currency) != 3 {
		errs = append(errs, errors.New("LEDGER_CURRENCY must be a 3-letter code"))
	}
	switch c.Ledger.StoreDriver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.Ledger.StoreDriver))
	}
	switch c.Gateway.Provider {
	case "paygate", "sandbox":
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_PROVIDER %q is not supported", c.Gateway.Provider))
	}
	if c.Gateway.Provider == "paygate" && (c.Gateway.APIKey == "" || c.Gateway.APISecret == "") {
		errs = append(errs, errors.New("GATEWAY_API_KEY and GATEWAY_API_SECRET are required for paygate"))
	}
	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.Reconciler.Interval <= 0 || c.Reconciler.StaleAfter <= 0 {
		errs = append(errs, errors.New("RECONCILER_INTERVAL and RECONCILER_STALE_AFTER must be positive"))
	}
	if c.Reconciler.StaleAfter < c.Gateway.Timeout {
		errs = append(errs, errors.New("RECONCILER_STALE_AFTER must not be shorter than GATEWAY_TIMEOUT"))
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT and RATE_LIMIT_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
