package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"development"`

	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"50052"`

	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Ledger LedgerConfig
	Stream StreamConfig
	HTTP   HTTPConfig
}

type DBConfig struct {
	DSN             string        `env:"LEDGER_DSN"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type LedgerConfig struct {
	RulesFile            string        `env:"RULES_FILE" envDefault:"rules.yaml"`
	SettlementInterval   time.Duration `env:"SETTLEMENT_INTERVAL" envDefault:"1h"`
	SettleOnOrder        bool          `env:"SETTLE_ON_ORDER" envDefault:"false"`
	AutoPayoutOnApproval bool          `env:"AUTO_PAYOUT_ON_APPROVAL" envDefault:"true"`
	RulesCacheTTL        time.Duration `env:"RULES_CACHE_TTL" envDefault:"1m"`
}

type StreamConfig struct {
	Enabled  bool   `env:"ORDER_STREAM_ENABLED" envDefault:"false"`
	Name     string `env:"ORDER_STREAM" envDefault:"orders:completed"`
	Group    string `env:"ORDER_GROUP" envDefault:"commission-ledger"`
	Consumer string `env:"ORDER_CONSUMER" envDefault:"ledger-1"`
}

type HTTPConfig struct {
	RateLimit      string   `env:"RATE_LIMIT" envDefault:"60-M"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

// LoadConfig reads .env when present and parses the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if c.DB.DSN == "" {
		return fmt.Errorf("LEDGER_DSN is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Stream.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("ORDER_STREAM_ENABLED requires REDIS_ENABLED")
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}
