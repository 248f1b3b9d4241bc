package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"consulta-go/internal/config"
)

// ErrTenantNotConfigured is returned for a slug without a DSN.
var ErrTenantNotConfigured = errors.New("tenant not configured")

// Conn is a connection borrowed from a tenant pool. Release returns it.
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Release()
}

// PoolFactory opens a pool; tests replace it.
type PoolFactory func(ctx context.Context, cfg *pgxpool.Config) (*pgxpool.Pool, error)

// Manager keeps one pgx pool per tenant. Pools open on first use.
type Manager struct {
	config  *config.DatabaseConfig
	factory PoolFactory
	logger  *zap.Logger

	mu      sync.Mutex
	pools   map[string]*pgxpool.Pool
	opening singleflight.Group
}

// NewManager creates a manager; no connection is made until Acquire.
func NewManager(dbConfig *config.DatabaseConfig, logger *zap.Logger) (*Manager, error) {
	if dbConfig == nil {
		return nil, errors.New("database config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		config:  dbConfig,
		factory: pgxpool.NewWithConfig,
		logger:  logger,
		pools:   make(map[string]*pgxpool.Pool),
	}, nil
}

// WithPoolFactory replaces how pools are opened.
func (m *Manager) WithPoolFactory(f PoolFactory) *Manager {
	m.factory = f
	return m
}

// Tenant returns the configuration of slug.
func (m *Manager) Tenant(slug string) (config.TenantConfig, error) {
	t, ok := m.config.Tenants[slug]
	if !ok || t.DSN == "" {
		return config.TenantConfig{}, fmt.Errorf("%w: %s", ErrTenantNotConfigured, slug)
	}
	if t.Slug == "" {
		t.Slug = slug
	}
	if t.Schema == "" {
		t.Schema = slug
	}
	return t, nil
}

// Tenants returns the configured slugs, sorted.
func (m *Manager) Tenants() []string {
	return m.config.TenantSlugs()
}

// Pool returns the pool of slug, opening it on first use. Concurrent first
// uses of one tenant share a single connect; other tenants are not blocked.
func (m *Manager) Pool(ctx context.Context, slug string) (*pgxpool.Pool, error) {
	tenant, err := m.Tenant(slug)
	if err != nil {
		return nil, err
	}
	if pool, ok := m.cachedPool(slug); ok {
		return pool, nil
	}

	v, err, _ := m.opening.Do(slug, func() (any, error) {
		if pool, ok := m.cachedPool(slug); ok {
			return pool, nil
		}
		pool, err := m.open(ctx, tenant)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.pools[slug] = pool
		m.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*pgxpool.Pool), nil
}

func (m *Manager) cachedPool(slug string) (*pgxpool.Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pool, ok := m.pools[slug]
	return pool, ok
}

func (m *Manager) open(ctx context.Context, tenant config.TenantConfig) (*pgxpool.Pool, error) {
	slug := tenant.Slug
	poolConfig, err := m.config.GetPoolConfig(tenant.DSN, m.logger)
	if err != nil {
		return nil, fmt.Errorf("pool config for tenant %s: %w", slug, err)
	}
	// the connect is shared by every waiter, so it outlives one caller's cancel
	connectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.ConnectTimeout)
	defer cancel()
	pool, err := m.factory(connectCtx, poolConfig)
	if err != nil {
		m.logger.Error("failed to open tenant pool", zap.String("tenant", slug), zap.Error(err))
		return nil, fmt.Errorf("open pool for tenant %s: %w", slug, err)
	}

	m.logger.Info("tenant pool opened",
		zap.String("tenant", slug),
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns))
	return pool, nil
}

// Acquire borrows a connection from the tenant pool. The caller must
// Release it.
func (m *Manager) Acquire(ctx context.Context, slug string) (Conn, error) {
	pool, err := m.Pool(ctx, slug)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for tenant %s: %w", slug, err)
	}
	return conn, nil
}

func (m *Manager) openPools() map[string]*pgxpool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*pgxpool.Pool, len(m.pools))
	for slug, pool := range m.pools {
		out[slug] = pool
	}
	return out
}

// HealthCheck pings every open pool concurrently and returns the failures
// by tenant. Pools that were never opened are not checked.
func (m *Manager) HealthCheck(ctx context.Context) map[string]error {
	pools := m.openPools()
	failures := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for slug, pool := range pools {
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(gctx, 5*time.Second)
			defer cancel()
			if err := pool.Ping(checkCtx); err != nil {
				m.logger.Warn("tenant pool health check failed", zap.String("tenant", slug), zap.Error(err))
				mu.Lock()
				failures[slug] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}

// Stats returns pool statistics of every open pool.
func (m *Manager) Stats() map[string]*PoolStats {
	pools := m.openPools()
	out := make(map[string]*PoolStats, len(pools))
	for slug, pool := range pools {
		out[slug] = m.statsOf(pool)
	}
	return out
}

func (m *Manager) statsOf(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:        stat.TotalConns(),
		IdleConns:         stat.IdleConns(),
		AcquiredConns:     stat.AcquiredConns(),
		ConstructingConns: stat.ConstructingConns(),
		AcquireCount:      stat.AcquireCount(),
		AcquireDuration:   stat.AcquireDuration(),
		MaxConns:          m.config.MaxConns,
		MinConns:          m.config.MinConns,
		MaxLifetime:       m.config.MaxConnLifetime,
		MaxIdleTime:       m.config.MaxConnIdleTime,
	}
}

// OpenTenants returns the slugs whose pools are open, sorted.
func (m *Manager) OpenTenants() []string {
	pools := m.openPools()
	slugs := make([]string, 0, len(pools))
	for slug := range pools {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs
}

// Close closes every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for slug, pool := range m.pools {
		pool.Close()
		m.logger.Info("tenant pool closed", zap.String("tenant", slug))
	}
	m.pools = make(map[string]*pgxpool.Pool)
}

// PoolStats pool runtime state and the configured limits.
type PoolStats struct {
	TotalConns        int32         `json:"total_conns"`
	IdleConns         int32         `json:"idle_conns"`
	AcquiredConns     int32         `json:"acquired_conns"`
	ConstructingConns int32         `json:"constructing_conns"`
	AcquireCount      int64         `json:"acquire_count"`
	AcquireDuration   time.Duration `json:"acquire_duration"`

	MaxConns    int32         `json:"max_conns"`
	MinConns    int32         `json:"min_conns"`
	MaxLifetime time.Duration `json:"max_lifetime"`
	MaxIdleTime time.Duration `json:"max_idle_time"`
}

// GetUtilization returns acquired connections over the maximum (0.0-1.0).
func (ps *PoolStats) GetUtilization() float64 {
	if ps.MaxConns <= 0 {
		return 0.0
	}
	return float64(ps.AcquiredConns) / float64(ps.MaxConns)
}

// IsHealthy is false above 90% utilization or with the pool exhausted.
func (ps *PoolStats) IsHealthy() bool {
	if ps.GetUtilization() > 0.9 {
		return false
	}
	if ps.IdleConns == 0 && ps.TotalConns >= ps.MaxConns {
		return false
	}
	return true
}

func (ps *PoolStats) String() string {
	return fmt.Sprintf(
		"Pool Stats - Total: %d, Idle: %d, Acquired: %d, Utilization: %.1f%%",
		ps.TotalConns, ps.IdleConns, ps.AcquiredConns, ps.GetUtilization()*100,
	)
}
