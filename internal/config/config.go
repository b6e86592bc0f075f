// Package config defines the top-level configuration for the wager ledger
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by WAGERD_* environment variables.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Settlement SettlementConfig `toml:"settlement"`
	Notify     NotifyConfig     `toml:"notify"`
	Events     EventsConfig     `toml:"events"`
	Archive    ArchiveConfig    `toml:"archive"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ServerConfig holds the HTTP API parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  string   `toml:"rate_window"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty Host
// disables persistence; the engine then runs memory-only.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	Enabled       bool   `toml:"enabled"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Enabled    bool   `toml:"enabled"`
}

// S3Config holds object storage parameters for the cold archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Enabled        bool   `toml:"enabled"`
}

// SettlementConfig selects and configures the funds backend.
type SettlementConfig struct {
	// Backend is "bank" for the in-memory ledger or "erc20" for on-chain
	// token settlement.
	Backend string `toml:"backend"`

	// Bank seeds initial balances in bank mode, keyed by account.
	Seed map[string]int64 `toml:"seed"`

	// ERC-20 parameters.
	RPC           string `toml:"rpc"`
	Token         string `toml:"token"`
	PrivateKey    string `toml:"private_key"`
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`
	WaitTimeout   string `toml:"wait_timeout"`
}

// NotifyConfig holds chat announcement parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// EventsConfig names the pub/sub channel and the catch-up stream the engine
// publishes committed events to.
type EventsConfig struct {
	Channel string `toml:"channel"`
	Stream  string `toml:"stream"`
}

// ArchiveConfig controls the cold archive export.
type ArchiveConfig struct {
	RetentionDays int `toml:"retention_days"`
}

var validModes = map[string]bool{
	"serve":    true,
	"announce": true,
	"archive":  true,
	"full":     true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  0,
			RateWindow: "1s",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerd",
			User:          "wagerd",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			Enabled:       false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Enabled:    false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerd-archive",
			ForcePathStyle: true,
			Enabled:        false,
		},
		Settlement: SettlementConfig{
			Backend:     "bank",
			WaitTimeout: "90s",
		},
		Events: EventsConfig{
			Channel: "wagerd:events",
			Stream:  "wagerd:events:stream",
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, announce, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	switch strings.ToLower(c.Settlement.Backend) {
	case "bank":
		for account, amount := range c.Settlement.Seed {
			if amount < 0 {
				errs = append(errs, fmt.Sprintf("settlement: seed balance for %q must not be negative", account))
			}
		}
	case "erc20":
		if c.Settlement.RPC == "" {
			errs = append(errs, "settlement: rpc is required for erc20 backend")
		}
		if c.Settlement.Token == "" {
			errs = append(errs, "settlement: token is required for erc20 backend")
		}
		if c.Settlement.PrivateKey == "" && c.Settlement.SealedKeyPath == "" {
			errs = append(errs, "settlement: either private_key or sealed_key_path must be set for erc20 backend")
		}
		if c.Settlement.SealedKeyPath != "" && c.Settlement.KeyPassword == "" {
			errs = append(errs, "settlement: key_password is required when sealed_key_path is set")
		}
	default:
		errs = append(errs, fmt.Sprintf("settlement: unknown backend %q (valid: bank, erc20)", c.Settlement.Backend))
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	mode := strings.ToLower(c.Mode)
	if (mode == "archive" || mode == "full") && !c.S3.Enabled {
		errs = append(errs, "s3: must be enabled for mode "+mode)
	}
	if (mode == "announce" || mode == "full") && !c.Redis.Enabled {
		errs = append(errs, "redis: must be enabled for mode "+mode)
	}
	if c.Archive.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("archive: retention_days must be >= 1, got %d", c.Archive.RetentionDays))
	}

	if c.Events.Channel == "" {
		errs = append(errs, "events: channel must not be empty")
	}
	if c.Events.Stream == "" {
		errs = append(errs, "events: stream must not be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
