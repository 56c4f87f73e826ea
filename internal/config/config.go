package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	base "github.com/phutaneomkar/Coin-sub000/libs/config"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	// AdminUser, when set, opens a second pool used only for the
	// privileged holding cleanup.
	AdminUser     string
	AdminPassword string
}

type KafkaTopics struct {
	OrdersAccepted  string
	OrdersCancelled string
	TradesExecuted  string
	DeadLetter      string
}

type KafkaConfig struct {
	Brokers []string
	Topics  KafkaTopics
}

type FeedConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ScannerConfig struct {
	Interval       time.Duration
	BackoffCeiling time.Duration
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Kafka     KafkaConfig
	Feed      FeedConfig
	Redis     RedisConfig
	Scanner   ScannerConfig
	JWTSecret string
	FeeRate   decimal.Decimal
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

func (c DBConfig) AdminDSN() string {
	if c.AdminUser == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.AdminUser, c.AdminPassword, c.Host, c.Port, c.Name, c.SSLMode)
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("COIN_CONFIG"))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("COIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := os.Getenv("COIN_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.orders_accepted", "orders.accepted")
	v.SetDefault("kafka.topics.orders_cancelled", "orders.cancelled")
	v.SetDefault("kafka.topics.trades_executed", "trades.executed")
	v.SetDefault("kafka.topics.dead_letter", "dead_letter")
	v.SetDefault("feed.base_url", "http://localhost:8090")
	v.SetDefault("feed.timeout", "3s")
	v.SetDefault("feed.cache_ttl", "2s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("scanner.interval", "10s")
	v.SetDefault("scanner.backoff_ceiling", "60s")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("fee_rate", "0.001")

	feeRate, err := decimal.NewFromString(envString("FEE_RATE", v.GetString("fee_rate")))
	if err != nil || feeRate.IsNegative() {
		return nil, fmt.Errorf("fee_rate must be a non-negative decimal")
	}

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Host:          envString("DB_HOST", envString("POSTGRES_HOST", "localhost")),
			Port:          envInt("DB_PORT", envInt("POSTGRES_PORT", 5432)),
			Name:          envString("DB_NAME", envString("POSTGRES_DB", "coin_trading")),
			User:          envString("DB_USER", envString("POSTGRES_USER", "coin")),
			Password:      envString("DB_PASSWORD", envString("POSTGRES_PASSWORD", "coin")),
			SSLMode:       envString("DB_SSLMODE", envString("POSTGRES_SSLMODE", "disable")),
			AdminUser:     envString("DB_ADMIN_USER", ""),
			AdminPassword: envString("DB_ADMIN_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers: envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			Topics: KafkaTopics{
				OrdersAccepted:  envString("KAFKA_ORDERS_ACCEPTED_TOPIC", v.GetString("kafka.topics.orders_accepted")),
				OrdersCancelled: envString("KAFKA_ORDERS_CANCELLED_TOPIC", v.GetString("kafka.topics.orders_cancelled")),
				TradesExecuted:  envString("KAFKA_TRADES_TOPIC", v.GetString("kafka.topics.trades_executed")),
				DeadLetter:      envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
		Feed: FeedConfig{
			BaseURL:  envString("FEED_BASE_URL", v.GetString("feed.base_url")),
			Timeout:  envDuration("FEED_TIMEOUT", v.GetDuration("feed.timeout")),
			CacheTTL: envDuration("FEED_CACHE_TTL", v.GetDuration("feed.cache_ttl")),
		},
		Redis: RedisConfig{
			Addr:     envString("REDIS_ADDR", v.GetString("redis.addr")),
			Password: envString("REDIS_PASSWORD", v.GetString("redis.password")),
			DB:       envInt("REDIS_DB", v.GetInt("redis.db")),
		},
		Scanner: ScannerConfig{
			Interval:       envDuration("SCANNER_INTERVAL", v.GetDuration("scanner.interval")),
			BackoffCeiling: envDuration("SCANNER_BACKOFF_CEILING", v.GetDuration("scanner.backoff_ceiling")),
		},
		JWTSecret: envString("JWT_SECRET", v.GetString("jwt_secret")),
		FeeRate:   feeRate,
	}

	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if cfg.Feed.BaseURL == "" {
		return nil, fmt.Errorf("feed base url required")
	}
	if cfg.Scanner.Interval <= 0 {
		return nil, fmt.Errorf("scanner interval must be positive")
	}
	if cfg.Scanner.BackoffCeiling < cfg.Scanner.Interval {
		return nil, fmt.Errorf("scanner backoff ceiling must be at least the interval")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv("COIN_" + key); v != "" {
		return v
	}
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv("COIN_" + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv("COIN_" + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	for _, name := range []string{"COIN_" + key, key} {
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
