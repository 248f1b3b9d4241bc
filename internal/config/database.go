package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

// DefaultTenantSlug is used when a request names no tenant.
const DefaultTenantSlug = "default"

// TenantConfig points a tenant slug at its database.
type TenantConfig struct {
	Slug    string `json:"slug"`
	DSN     string `json:"-"`
	Company int    `json:"company"`
	// Schema is the schema slug used for validation, defaults to Slug.
	Schema string `json:"schema"`
}

// DatabaseConfig holds pool tuning shared by every tenant pool and the
// tenant list itself.
type DatabaseConfig struct {
	// Connection used for the default tenant when no TENANT_DEFAULT_DSN is set.
	Host     string `env:"DB_HOST" envDefault:"localhost" json:"host"`
	Port     int    `env:"DB_PORT" envDefault:"5432" json:"port"`
	User     string `env:"DB_USER" envDefault:"postgres" json:"user"`
	Password string `env:"DB_PASSWORD" json:"-"`
	Database string `env:"DB_NAME" envDefault:"postgres" json:"database"`
	SSLMode  string `env:"DB_SSL_MODE" envDefault:"prefer" json:"ssl_mode"`

	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"10" json:"max_conns"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"0" json:"min_conns"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h" json:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE" envDefault:"30m" json:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m" json:"health_check_period"`

	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"10s" json:"connect_timeout"`
	QueryTimeout   time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"30s" json:"query_timeout"`

	LogLevel        string `env:"DB_LOG_LEVEL" envDefault:"warn" json:"log_level"`
	ApplicationName string `env:"DB_APPLICATION_NAME" envDefault:"consulta-go" json:"application_name"`

	Tenants map[string]TenantConfig `json:"tenants"`
}

// DefaultDatabaseConfig returns development defaults with no tenants.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:              "localhost",
		Port:              5432,
		User:              "postgres",
		Database:          "postgres",
		SSLMode:           "prefer",
		MaxConns:          10,
		MinConns:          0,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
		ConnectTimeout:    10 * time.Second,
		QueryTimeout:      30 * time.Second,
		LogLevel:          "warn",
		ApplicationName:   "consulta-go",
		Tenants:           map[string]TenantConfig{},
	}
}

// LoadDatabaseConfigFromEnv reads DB_* pool settings and one tenant per
// TENANT_<SLUG>_DSN variable. DATABASE_URL, or DB_HOST and friends, feed the
// default tenant when it is not declared explicitly.
func LoadDatabaseConfigFromEnv() (*DatabaseConfig, error) {
	c := DefaultDatabaseConfig()
	c.Host = getEnv("DB_HOST", c.Host)
	c.Port = getEnvInt("DB_PORT", c.Port)
	c.User = getEnv("DB_USER", c.User)
	c.Password = getEnv("DB_PASSWORD", c.Password)
	c.Database = getEnv("DB_NAME", c.Database)
	c.SSLMode = getEnv("DB_SSL_MODE", c.SSLMode)
	c.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.MaxConns)))
	c.MinConns = int32(getEnvInt("DB_MIN_CONNS", int(c.MinConns)))
	c.MaxConnLifetime = getEnvDuration("DB_MAX_CONN_LIFETIME", c.MaxConnLifetime)
	c.MaxConnIdleTime = getEnvDuration("DB_MAX_CONN_IDLE", c.MaxConnIdleTime)
	c.HealthCheckPeriod = getEnvDuration("DB_HEALTH_CHECK_PERIOD", c.HealthCheckPeriod)
	c.ConnectTimeout = getEnvDuration("DB_CONNECT_TIMEOUT", c.ConnectTimeout)
	c.QueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", c.QueryTimeout)
	c.LogLevel = getEnv("DB_LOG_LEVEL", c.LogLevel)
	c.ApplicationName = getEnv("DB_APPLICATION_NAME", c.ApplicationName)

	c.Tenants = tenantsFromEnviron(os.Environ())
	if _, ok := c.Tenants[DefaultTenantSlug]; !ok {
		dsn := getEnv("DATABASE_URL", "")
		if dsn == "" && getEnv("DB_HOST", "") != "" {
			dsn = c.GetConnectionString()
		}
		if dsn != "" {
			c.Tenants[DefaultTenantSlug] = TenantConfig{
				Slug:    DefaultTenantSlug,
				DSN:     dsn,
				Company: getEnvInt("DB_EMPRESA", 1),
				Schema:  DefaultTenantSlug,
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// tenantsFromEnviron collects TENANT_<SLUG>_DSN entries. Slugs are
// lower-cased: TENANT_ACME_SUL_DSN declares tenant "acme_sul".
func tenantsFromEnviron(environ []string) map[string]TenantConfig {
	tenants := make(map[string]TenantConfig)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "TENANT_") || !strings.HasSuffix(key, "_DSN") {
			continue
		}
		upper := strings.TrimSuffix(strings.TrimPrefix(key, "TENANT_"), "_DSN")
		if upper == "" || strings.TrimSpace(value) == "" {
			continue
		}
		slug := strings.ToLower(upper)
		company := 1
		if v, err := strconv.Atoi(getEnv("TENANT_"+upper+"_EMPRESA", "1")); err == nil {
			company = v
		}
		tenants[slug] = TenantConfig{
			Slug:    slug,
			DSN:     strings.TrimSpace(value),
			Company: company,
			Schema:  strings.ToLower(getEnv("TENANT_"+upper+"_SCHEMA", slug)),
		}
	}
	return tenants
}

// GetConnectionString builds a key/value DSN from the DB_* fields.
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s application_name=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.ApplicationName, int(c.ConnectTimeout.Seconds()),
	)
}

// TenantSlugs returns the configured slugs in order.
func (c *DatabaseConfig) TenantSlugs() []string {
	slugs := make([]string, 0, len(c.Tenants))
	for slug := range c.Tenants {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Validate checks pool settings and every tenant entry.
func (c *DatabaseConfig) Validate() error {
	if c.MaxConns <= 0 {
		return errors.New("DB_MAX_CONNS must be positive")
	}
	if c.MinConns < 0 {
		return errors.New("DB_MIN_CONNS cannot be negative")
	}
	if c.MinConns > c.MaxConns {
		return errors.New("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if c.QueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	for slug, t := range c.Tenants {
		if t.DSN == "" {
			return fmt.Errorf("tenant %s: empty DSN", slug)
		}
		if t.Company <= 0 {
			return fmt.Errorf("tenant %s: company code must be positive", slug)
		}
	}
	return nil
}

// GetPoolConfig parses dsn and applies the shared pool settings. pgx trace
// output goes to logger at LogLevel.
func (c *DatabaseConfig) GetPoolConfig(dsn string, logger *zap.Logger) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	poolConfig.MaxConns = c.MaxConns
	poolConfig.MinConns = c.MinConns
	poolConfig.MaxConnLifetime = c.MaxConnLifetime
	poolConfig.MaxConnIdleTime = c.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = c.HealthCheckPeriod
	if c.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	if c.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = c.ApplicationName
	}

	pgxLogger := NewPgxZapLogger(logger, c.LogLevel)
	poolConfig.ConnConfig.Tracer = &tracelog.TraceLog{
		Logger:   pgxLogger,
		LogLevel: pgxLogger.GetLogLevel(),
	}
	return poolConfig, nil
}
