// Package config loads coordinator and authority configuration from a YAML
// file with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Authority AuthorityConfig `yaml:"authority"`
}

// ServerConfig configures the coordinator HTTP server.
type ServerConfig struct {
	Listen             string `yaml:"listen"`
	JWTSecret          string `yaml:"jwt_secret"`
	RateLimitPerSecond int    `yaml:"rate_limit_per_second"`
	RateLimitBurst     int    `yaml:"rate_limit_burst"`
}

// DatabaseConfig configures PostgreSQL persistence. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig configures the optional entry read cache.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// LedgerConfig configures the ledger RPC client used for callback dispatch.
type LedgerConfig struct {
	RPCURL      string        `yaml:"rpc_url"`
	Timeout     time.Duration `yaml:"timeout"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// AuthorityConfig configures the fulfillment authority.
type AuthorityConfig struct {
	// PublicKey is the registered authority key, base58.
	PublicKey string `yaml:"public_key"`

	// SigningKey is the authority's ed25519 seed, base58. Only the
	// authority daemon sets it.
	SigningKey string `yaml:"signing_key"`

	// CoordinatorURL is the coordinator API base URL the daemon submits to.
	CoordinatorURL string `yaml:"coordinator_url"`

	// PollInterval drives the pending-request polling fallback.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SweepSchedule is the cron spec for the reconciliation sweep.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:             ":8090",
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Ledger: LedgerConfig{
			Timeout:     30 * time.Second,
			WaitTimeout: 2 * time.Minute,
		},
		Authority: AuthorityConfig{
			CoordinatorURL: "http://localhost:8090",
			PollInterval:   5 * time.Second,
			SweepSchedule:  "@every 1m",
		},
	}
}

// Load reads the config file at path when it exists, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Listen, "RL_LISTEN")
	setString(&cfg.Server.JWTSecret, "RL_JWT_SECRET")
	setInt(&cfg.Server.RateLimitPerSecond, "RL_RATE_LIMIT")
	setInt(&cfg.Server.RateLimitBurst, "RL_RATE_LIMIT_BURST")
	setString(&cfg.Database.URL, "RL_DATABASE_URL")
	setString(&cfg.Redis.Addr, "RL_REDIS_ADDR")
	setString(&cfg.Redis.Password, "RL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RL_REDIS_DB")
	setString(&cfg.Ledger.RPCURL, "RL_LEDGER_RPC_URL")
	setString(&cfg.Authority.PublicKey, "RL_AUTHORITY_PUBLIC_KEY")
	setString(&cfg.Authority.SigningKey, "RL_AUTHORITY_SIGNING_KEY")
	setString(&cfg.Authority.CoordinatorURL, "RL_COORDINATOR_URL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
