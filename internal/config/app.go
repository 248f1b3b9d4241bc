package config

import (
	"errors"
	"fmt"
	"time"
)

// AppConfig holds HTTP server and pipeline settings.
type AppConfig struct {
	Env  string `env:"APP_ENV" json:"env"`
	Port int    `env:"PORT" json:"port"`
	// Mode is the gin mode: debug, release or test.
	Mode string `env:"GIN_MODE" json:"mode"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" json:"read_timeout"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" json:"write_timeout"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" json:"shutdown_timeout"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" json:"request_timeout"`

	CacheBackend string        `env:"CACHE_BACKEND" json:"cache_backend"`
	CacheTTL     time.Duration `env:"CACHE_TTL" json:"cache_ttl"`
	MemorySize   int           `env:"MEMORY_MAX_INTERACTIONS" json:"memory_size"`
	// MemorySessions caps the conversations kept in memory; the least
	// recently used one is dropped first.
	MemorySessions int           `env:"MEMORY_MAX_SESSIONS" json:"memory_sessions"`
	MemoryIdleTTL  time.Duration `env:"MEMORY_IDLE_TTL" json:"memory_idle_ttl"`

	SchemaDir      string `env:"SCHEMA_DIR" json:"schema_dir"`
	DefaultTenant  string `env:"DEFAULT_TENANT" json:"default_tenant"`
	IncludeDetails bool   `env:"INCLUDE_ERROR_DETAILS" json:"include_details"`

	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" json:"rate_limit_rps"`
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" json:"rate_limit_burst"`
	CORSOrigins    []string `env:"CORS_ORIGINS" json:"cors_origins"`
}

// DefaultAppConfig returns development defaults.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Env:             "development",
		Port:            8080,
		Mode:            "debug",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		RequestTimeout:  90 * time.Second,
		CacheBackend:    "memory",
		CacheTTL:        30 * time.Minute,
		MemorySize:      10,
		MemorySessions:  1000,
		MemoryIdleTTL:   30 * time.Minute,
		SchemaDir:       "schemas",
		DefaultTenant:   DefaultTenantSlug,
		RateLimitRPS:    5,
		RateLimitBurst:  10,
		CORSOrigins:     []string{"*"},
	}
}

// LoadAppConfigFromEnv reads the server variables.
func LoadAppConfigFromEnv() (*AppConfig, error) {
	c := DefaultAppConfig()
	c.Env = getEnv("APP_ENV", c.Env)
	c.Port = getEnvInt("PORT", c.Port)
	c.Mode = getEnv("GIN_MODE", c.Mode)
	c.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.ReadTimeout)
	c.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.WriteTimeout)
	c.ShutdownTimeout = getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", c.RequestTimeout)
	c.CacheBackend = getEnv("CACHE_BACKEND", c.CacheBackend)
	c.CacheTTL = getEnvDuration("CACHE_TTL", c.CacheTTL)
	c.MemorySize = getEnvInt("MEMORY_MAX_INTERACTIONS", c.MemorySize)
	c.MemorySessions = getEnvInt("MEMORY_MAX_SESSIONS", c.MemorySessions)
	c.MemoryIdleTTL = getEnvDuration("MEMORY_IDLE_TTL", c.MemoryIdleTTL)
	c.SchemaDir = getEnv("SCHEMA_DIR", c.SchemaDir)
	c.DefaultTenant = getEnv("DEFAULT_TENANT", c.DefaultTenant)
	c.IncludeDetails = getEnvBool("INCLUDE_ERROR_DETAILS", c.IncludeDetails)
	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
	if origins := getEnvList("CORS_ORIGINS"); len(origins) > 0 {
		c.CORSOrigins = origins
	}
	if c.Env == "production" && getEnv("GIN_MODE", "") == "" {
		c.Mode = "release"
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// Address is the listen address.
func (c *AppConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate checks ranges and enumerations.
func (c *AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	switch c.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("invalid GIN_MODE %q", c.Mode)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q", c.CacheBackend)
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	if c.MemorySize <= 0 {
		return errors.New("MEMORY_MAX_INTERACTIONS must be positive")
	}
	if c.MemorySessions <= 0 || c.MemoryIdleTTL <= 0 {
		return errors.New("MEMORY_MAX_SESSIONS and MEMORY_IDLE_TTL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limit settings cannot be negative")
	}
	return nil
}
