// Package config loads settings from the environment, optionally seeded
// from a .env file.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Config groups every settings block.
type Config struct {
	App      *AppConfig
	Database *DatabaseConfig
	AI       *AIConfig
	Redis    *RedisConfig
	Auth     *AuthConfig
}

// Load reads envFile (if present) and then the process environment.
func Load(envFile string) (*Config, error) {
	if err := LoadEnv(envFile); err != nil {
		return nil, err
	}
	app, err := LoadAppConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("app config: %w", err)
	}
	db, err := LoadDatabaseConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("database config: %w", err)
	}
	ai, err := LoadAIConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("llm config: %w", err)
	}
	auth, err := LoadAuthConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("auth config: %w", err)
	}
	return &Config{
		App:      app,
		Database: db,
		AI:       ai,
		Redis:    LoadRedisConfigFromEnv(),
		Auth:     auth,
	}, nil
}

// Log writes a secret-free summary.
func (c *Config) Log(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.String("env", c.App.Env),
		zap.Int("port", c.App.Port),
		zap.String("cache_backend", c.App.CacheBackend),
		zap.Duration("cache_ttl", c.App.CacheTTL),
		zap.Strings("tenants", c.Database.TenantSlugs()),
		zap.Bool("admin_auth", c.Auth.Enabled()))
	c.AI.LogConfig(logger)
}

// NewLogger returns the development logger when APP_ENV is development and
// the production logger otherwise. Both write to stderr.
func NewLogger() (*zap.Logger, error) {
	if os.Getenv("APP_ENV") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
