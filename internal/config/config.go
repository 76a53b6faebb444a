// Package config loads service configuration from a YAML file, an optional
// .env file and RAFFLE_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no path is given and RAFFLE_CONFIG is unset.
const DefaultPath = "config/raffle.yaml"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Raffle   RaffleConfig   `yaml:"raffle"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Keeper   KeeperConfig   `yaml:"keeper"`
	Events   EventsConfig   `yaml:"events"`
	Auth     AuthConfig     `yaml:"auth"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" env:"RAFFLE_SERVER_HOST"`
	Port         int           `yaml:"port" env:"RAFFLE_SERVER_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"RAFFLE_SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"RAFFLE_SERVER_WRITE_TIMEOUT"`
}

// DatabaseConfig selects Postgres persistence. An empty DSN keeps state in memory.
type DatabaseConfig struct {
	Driver          string `yaml:"driver" env:"RAFFLE_DATABASE_DRIVER"`
	DSN             string `yaml:"dsn" env:"RAFFLE_DATABASE_DSN"`
	MaxOpenConns    int    `yaml:"max_open_conns" env:"RAFFLE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `yaml:"max_idle_conns" env:"RAFFLE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" env:"RAFFLE_DATABASE_CONN_MAX_LIFETIME"` // seconds
	Migrate         bool   `yaml:"migrate" env:"RAFFLE_DATABASE_MIGRATE"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"RAFFLE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"RAFFLE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"RAFFLE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"RAFFLE_LOG_FILE_PREFIX"`
	MaxSizeMB  int    `yaml:"max_size_mb" env:"RAFFLE_LOG_MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" env:"RAFFLE_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" env:"RAFFLE_LOG_MAX_AGE_DAYS"`
}

type RaffleConfig struct {
	EntranceFee string        `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval    time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	BlockTime   time.Duration `yaml:"block_time" env:"RAFFLE_BLOCK_TIME"`
}

// OracleConfig selects and configures the randomness source.
type OracleConfig struct {
	Mode             string        `yaml:"mode" env:"RAFFLE_ORACLE_MODE"` // local or http
	Endpoint         string        `yaml:"endpoint" env:"RAFFLE_ORACLE_ENDPOINT"`
	APIKey           string        `yaml:"api_key" env:"RAFFLE_ORACLE_API_KEY"`
	Secret           string        `yaml:"secret" env:"RAFFLE_ORACLE_SECRET"`
	Manual           bool          `yaml:"manual" env:"RAFFLE_ORACLE_MANUAL"`
	KeyHash          string        `yaml:"key_hash" env:"RAFFLE_ORACLE_KEY_HASH"`
	SubscriptionID   uint64        `yaml:"subscription_id" env:"RAFFLE_ORACLE_SUBSCRIPTION_ID"`
	Confirmations    uint16        `yaml:"confirmations" env:"RAFFLE_ORACLE_CONFIRMATIONS"`
	CallbackGasLimit uint32        `yaml:"callback_gas_limit" env:"RAFFLE_ORACLE_CALLBACK_GAS_LIMIT"`
	NumWords         uint32        `yaml:"num_words" env:"RAFFLE_ORACLE_NUM_WORDS"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"RAFFLE_ORACLE_POLL_INTERVAL"`
}

type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RAFFLE_KEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"RAFFLE_KEEPER_SCHEDULE"`
}

type EventsConfig struct {
	Buffer       int    `yaml:"buffer" env:"RAFFLE_EVENTS_BUFFER"`
	RedisAddr    string `yaml:"redis_addr" env:"RAFFLE_EVENTS_REDIS_ADDR"`
	RedisChannel string `yaml:"redis_channel" env:"RAFFLE_EVENTS_REDIS_CHANNEL"`
}

// AuthConfig guards operator and oracle endpoints with HS256 tokens.
type AuthConfig struct {
	JWTSecret      string  `yaml:"jwt_secret" env:"RAFFLE_AUTH_JWT_SECRET"`
	EntryRateLimit float64 `yaml:"entry_rate_limit" env:"RAFFLE_AUTH_ENTRY_RATE_LIMIT"` // requests per second per client
	EntryBurst     int     `yaml:"entry_burst" env:"RAFFLE_AUTH_ENTRY_BURST"`
}

// Default returns a configuration that runs entirely in memory with the local oracle.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Raffle: RaffleConfig{
			EntranceFee: "0.01",
			Interval:    30 * time.Second,
			BlockTime:   12 * time.Second,
		},
		Oracle: OracleConfig{
			Mode:             "local",
			Confirmations:    3,
			CallbackGasLimit: 500000,
			NumWords:         1,
			PollInterval:     2 * time.Second,
		},
		Keeper: KeeperConfig{Enabled: true, Schedule: "@every 1s"},
		Events: EventsConfig{Buffer: 256, RedisChannel: "raffle.events"},
		Auth:   AuthConfig{EntryRateLimit: 5, EntryBurst: 10},
	}
}

// Load builds the configuration from defaults, the YAML file at path, a .env
// file in the working directory and the process environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = strings.TrimSpace(os.Getenv("RAFFLE_CONFIG"))
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EntranceFee parses the configured fee.
func (c *Config) EntranceFee() (decimal.Decimal, error) {
	fee, err := decimal.NewFromString(strings.TrimSpace(c.Raffle.EntranceFee))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("raffle.entrance_fee: %w", err)
	}
	return fee, nil
}

// Validate reports the first configuration problem.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	fee, err := c.EntranceFee()
	if err != nil {
		return err
	}
	if !fee.IsPositive() {
		return fmt.Errorf("raffle.entrance_fee must be positive")
	}
	if c.Raffle.Interval <= 0 {
		return fmt.Errorf("raffle.interval must be positive")
	}

	switch strings.ToLower(strings.TrimSpace(c.Oracle.Mode)) {
	case "local":
	case "http":
		if strings.TrimSpace(c.Oracle.Endpoint) == "" {
			return fmt.Errorf("oracle.endpoint is required in http mode")
		}
	default:
		return fmt.Errorf("oracle.mode must be local or http, got %q", c.Oracle.Mode)
	}
	if c.Oracle.NumWords == 0 || c.Oracle.NumWords > 500 {
		return fmt.Errorf("oracle.num_words must be between 1 and 500")
	}

	if c.Database.DSN != "" {
		if c.Database.Driver == "" {
			c.Database.Driver = "postgres"
		}
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("database.driver %q not supported", c.Database.Driver)
		}
	}
	if c.Auth.EntryRateLimit < 0 || c.Auth.EntryBurst < 0 {
		return fmt.Errorf("auth rate limits cannot be negative")
	}
	return nil
}
