// Package config loads and sanitizes server configuration from defaults, an
// optional YAML file, and RELAYCHAT_-prefixed environment variables.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig defines the per-connection inbound frame rate limit.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refillInterval"`
}

// ServerConfig holds the transport-facing settings.
type ServerConfig struct {
	Addr            string          `mapstructure:"addr"`
	AllowedOrigins  []string        `mapstructure:"allowedOrigins"`
	MaxMessageSize  int64           `mapstructure:"maxMessageSize"`
	SendQueueSize   int             `mapstructure:"sendQueueSize"`
	PongWait        time.Duration   `mapstructure:"pongWait"`
	WriteWait       time.Duration   `mapstructure:"writeWait"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdownTimeout"`
	RateLimit       RateLimitConfig `mapstructure:"rateLimit"`
}

// AuthConfig selects and parameterizes the authenticator.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// TypingConfig bounds the lifetime of typing indicators. Timeout is the
// server-side expiry window for a typing state without refreshes; it is a
// policy constant independent of any client-side debounce.
type TypingConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

// HistoryConfig selects the history store backend.
type HistoryConfig struct {
	Backend   string `mapstructure:"backend"` // "memory" or "redis"
	Limit     int    `mapstructure:"limit"`   // messages sent to a newly joined client
	Retention int    `mapstructure:"retention"`
	RedisAddr string `mapstructure:"redisAddr"`
}

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Typing  TypingConfig  `mapstructure:"typing"`
	History HistoryConfig `mapstructure:"history"`
}

// Load reads configuration from an optional file and environment variables
// layered over defaults, then sanitizes the result.
func Load(logger *slog.Logger, fileName string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:8080"})
	v.SetDefault("server.maxMessageSize", 4096)
	v.SetDefault("server.sendQueueSize", 256)
	v.SetDefault("server.pongWait", "60s")
	v.SetDefault("server.writeWait", "10s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.rateLimit.burst", 10)
	v.SetDefault("server.rateLimit.refillInterval", "1s")
	v.SetDefault("auth.jwtSecret", "default-secret-key-change-me")
	v.SetDefault("typing.timeout", "5s")
	v.SetDefault("typing.sweepInterval", "1s")
	v.SetDefault("history.backend", "memory")
	v.SetDefault("history.limit", 50)
	v.SetDefault("history.retention", 1000)
	v.SetDefault("history.redisAddr", "localhost:6379")

	v.SetConfigName(fileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RELAYCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		logger.Warn("config file not found, relying on defaults and environment")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	sanitize(&cfg)
	return &cfg, nil
}

// Default returns the sanitized default configuration, without touching
// files or the environment. Tests build on this.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
		},
	}
	sanitize(cfg)
	return cfg
}

func sanitize(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = 4096
	}
	if cfg.Server.SendQueueSize <= 0 {
		cfg.Server.SendQueueSize = 256
	}
	if cfg.Server.PongWait <= 0 {
		cfg.Server.PongWait = 60 * time.Second
	}
	if cfg.Server.WriteWait <= 0 {
		cfg.Server.WriteWait = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Server.RateLimit.Burst <= 0 {
		cfg.Server.RateLimit.Burst = 10
	}
	if cfg.Server.RateLimit.RefillInterval <= 0 {
		cfg.Server.RateLimit.RefillInterval = time.Second
	}
	if cfg.Typing.Timeout <= 0 {
		cfg.Typing.Timeout = 5 * time.Second
	}
	if cfg.Typing.SweepInterval <= 0 {
		cfg.Typing.SweepInterval = time.Second
	}
	if cfg.History.Backend == "" {
		cfg.History.Backend = "memory"
	}
	if cfg.History.Limit <= 0 {
		cfg.History.Limit = 50
	}
	if cfg.History.Retention <= 0 {
		cfg.History.Retention = 1000
	}
	if cfg.History.RedisAddr == "" {
		cfg.History.RedisAddr = "localhost:6379"
	}
}
