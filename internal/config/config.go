package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Payout gateway modes.
const (
	ModeSimulation = "simulation"
	ModeLive       = "live"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
	Rental    RentalConfig    `yaml:"rental"`
	Payout    PayoutConfig    `yaml:"payout"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// RentalConfig points at the rental service that owns unpaid revenue.
type RentalConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PayoutConfig drives the monthly run and the gateway preconditions.
type PayoutConfig struct {
	Enabled             bool            `yaml:"enabled"`
	Mode                string          `yaml:"mode"`
	MinimumAmount       decimal.Decimal `yaml:"-"`
	MinimumAmountRaw    string          `yaml:"minimum_amount"`
	Workers             int             `yaml:"workers"`
	RunTimeout          time.Duration   `yaml:"run_timeout"`
	GatewayRPS          float64         `yaml:"gateway_rps"`
	LockTTL             time.Duration   `yaml:"lock_ttl"`
	DestinationCacheTTL time.Duration   `yaml:"destination_cache_ttl"`
	Timezone            string          `yaml:"timezone"`
}

type GatewayConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// Location resolves the configured timezone used for billing windows.
func (p PayoutConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes yaml bytes, applies env overrides and fills defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if key := os.Getenv("PAYOUT_GATEWAY_API_KEY"); key != "" {
		cfg.Gateway.APIKey = key
	}
	if u := os.Getenv("RENTAL_SERVICE_URL"); u != "" {
		cfg.Rental.BaseURL = u
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Rental.Timeout <= 0 {
		c.Rental.Timeout = 30 * time.Second
	}
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}

	p := &c.Payout
	switch p.Mode {
	case "":
		p.Mode = ModeSimulation
	case ModeSimulation, ModeLive:
	default:
		return fmt.Errorf("payout.mode %q: want %q or %q", p.Mode, ModeSimulation, ModeLive)
	}
	if p.MinimumAmountRaw == "" {
		p.MinimumAmount = decimal.NewFromInt(10)
	} else {
		minAmt, err := decimal.NewFromString(p.MinimumAmountRaw)
		if err != nil {
			return fmt.Errorf("payout.minimum_amount: %w", err)
		}
		p.MinimumAmount = minAmt
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}
	if p.RunTimeout <= 0 {
		p.RunTimeout = 30 * time.Minute
	}
	if p.GatewayRPS <= 0 {
		p.GatewayRPS = 5
	}
	if p.LockTTL <= 0 {
		p.LockTTL = time.Hour
	}
	if p.DestinationCacheTTL <= 0 {
		p.DestinationCacheTTL = 5 * time.Minute
	}
	if _, err := p.Location(); err != nil {
		return fmt.Errorf("payout.timezone: %w", err)
	}
	return nil
}
