package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the optional Redis cache backend.
type RedisConfig struct {
	Addr          string        `env:"REDIS_ADDR" json:"addr"`
	Password      string        `env:"REDIS_PASSWORD" json:"-"`
	DB            int           `env:"REDIS_DB" json:"db"`
	KeyPrefix     string        `env:"REDIS_KEY_PREFIX" json:"key_prefix"`
	MaxRetries    int           `env:"REDIS_MAX_RETRIES" json:"max_retries"`
	DialTimeout   time.Duration `env:"REDIS_DIAL_TIMEOUT" json:"dial_timeout"`
	ReadTimeout   time.Duration `env:"REDIS_READ_TIMEOUT" json:"read_timeout"`
	WriteTimeout  time.Duration `env:"REDIS_WRITE_TIMEOUT" json:"write_timeout"`
	PoolSize      int           `env:"REDIS_POOL_SIZE" json:"pool_size"`
	TLSEnabled    bool          `env:"REDIS_TLS" json:"tls_enabled"`
	TLSSkipVerify bool          `env:"REDIS_TLS_SKIP_VERIFY" json:"tls_skip_verify"`
}

// DefaultRedisConfig returns a local single-node configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		KeyPrefix:    "consulta:",
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// LoadRedisConfigFromEnv reads REDIS_* variables.
func LoadRedisConfigFromEnv() *RedisConfig {
	c := DefaultRedisConfig()
	c.Addr = getEnv("REDIS_ADDR", c.Addr)
	c.Password = getEnv("REDIS_PASSWORD", c.Password)
	c.DB = getEnvInt("REDIS_DB", c.DB)
	c.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.KeyPrefix)
	c.MaxRetries = getEnvInt("REDIS_MAX_RETRIES", c.MaxRetries)
	c.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", c.DialTimeout)
	c.ReadTimeout = getEnvDuration("REDIS_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("REDIS_WRITE_TIMEOUT", c.WriteTimeout)
	c.PoolSize = getEnvInt("REDIS_POOL_SIZE", c.PoolSize)
	c.TLSEnabled = getEnvBool("REDIS_TLS", c.TLSEnabled)
	c.TLSSkipVerify = getEnvBool("REDIS_TLS_SKIP_VERIFY", c.TLSSkipVerify)
	return c
}

// Options converts the configuration to go-redis options.
func (c *RedisConfig) Options() *redis.Options {
	opts := &redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		MaxRetries:   c.MaxRetries,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
		PoolSize:     c.PoolSize,
	}
	if c.TLSEnabled {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: c.TLSSkipVerify} //nolint:gosec // opt-in
	}
	return opts
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, c *RedisConfig, logger *zap.Logger) (*redis.Client, error) {
	if c == nil {
		c = DefaultRedisConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(c.Options())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", c.Addr, err)
	}

	logger.Info("Redis connected", zap.String("addr", c.Addr), zap.Int("db", c.DB))
	return client, nil
}
