package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"consulta-go/internal/config"
)

// PoolChecker is the view of database.Manager used by health checks.
type PoolChecker interface {
	HealthCheck(ctx context.Context) map[string]error
	OpenTenants() []string
	Tenants() []string
}

// HealthServiceInterface is implemented by HealthService; handlers depend
// on it so tests can stub it.
type HealthServiceInterface interface {
	CheckHealth(ctx context.Context) *HealthCheckResult
	CheckReadiness(ctx context.Context) *ReadinessResult
	GetVersionInfo() map[string]any
}

// HealthService reports liveness and readiness.
type HealthService struct {
	pools       PoolChecker
	redisClient redis.UniversalClient
	appInfo     *config.AppInfo
	logger      *zap.Logger

	// slowThreshold marks a component degraded.
	slowThreshold time.Duration
}

// NewHealthService creates the service. redisClient may be nil when the
// answer cache lives in memory.
func NewHealthService(pools PoolChecker, redisClient redis.UniversalClient, appInfo *config.AppInfo, logger *zap.Logger) *HealthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if appInfo == nil {
		appInfo = config.NewAppInfo("consulta-go", "development")
	}
	return &HealthService{
		pools:         pools,
		redisClient:   redisClient,
		appInfo:       appInfo,
		logger:        logger,
		slowThreshold: 2 * time.Second,
	}
}

// HealthStatus of a component or of the whole service.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusDegraded  HealthStatus = "degraded"
)

// ComponentStatus one checked dependency.
type ComponentStatus struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration,omitempty"`
}

// HealthCheckResult is the /health payload.
type HealthCheckResult struct {
	Status      HealthStatus               `json:"status"`
	Timestamp   time.Time                  `json:"timestamp"`
	Service     string                     `json:"service"`
	Version     string                     `json:"version"`
	Environment string                     `json:"environment"`
	Components  map[string]ComponentStatus `json:"components"`
	BuildInfo   map[string]any             `json:"build_info,omitempty"`
}

// ReadinessResult is the /ready payload.
type ReadinessResult struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentStatus `json:"components"`
}

// CheckHealth never fails the process: broken dependencies only degrade it.
func (h *HealthService) CheckHealth(ctx context.Context) *HealthCheckResult {
	components := h.checkAll(ctx)
	status := HealthStatusHealthy
	for _, c := range components {
		if c.Status != HealthStatusHealthy {
			status = HealthStatusDegraded
			break
		}
	}
	return &HealthCheckResult{
		Status:      status,
		Timestamp:   time.Now(),
		Service:     h.appInfo.Name,
		Version:     h.appInfo.Version,
		Environment: h.appInfo.Environment,
		Components:  components,
		BuildInfo:   h.appInfo.GetBuildInfo(),
	}
}

// CheckReadiness is unhealthy when any open tenant pool or the Redis cache
// is unhealthy.
func (h *HealthService) CheckReadiness(ctx context.Context) *ReadinessResult {
	components := h.checkAll(ctx)
	status := HealthStatusHealthy
	for _, c := range components {
		if c.Status == HealthStatusUnhealthy {
			status = HealthStatusUnhealthy
			break
		}
	}
	return &ReadinessResult{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
	}
}

// GetVersionInfo returns build information.
func (h *HealthService) GetVersionInfo() map[string]any {
	return h.appInfo.GetBuildInfo()
}

func (h *HealthService) checkAll(ctx context.Context) map[string]ComponentStatus {
	components := h.checkDatabases(ctx)
	if h.redisClient != nil {
		components["redis"] = h.checkRedis(ctx)
	}
	return components
}

// checkDatabases reports one component per open tenant pool, named
// "database:<slug>". With no pool open yet the database is reported healthy
// since pools open on first use.
func (h *HealthService) checkDatabases(ctx context.Context) map[string]ComponentStatus {
	components := make(map[string]ComponentStatus)
	if h.pools == nil {
		components["database"] = ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   "nenhum banco configurado",
			Timestamp: time.Now(),
		}
		return components
	}

	open := h.pools.OpenTenants()
	if len(open) == 0 {
		components["database"] = ComponentStatus{
			Status:    HealthStatusHealthy,
			Message:   fmt.Sprintf("%d tenants configurados, nenhum pool aberto", len(h.pools.Tenants())),
			Timestamp: time.Now(),
		}
		return components
	}

	start := time.Now()
	failures := h.pools.HealthCheck(ctx)
	duration := time.Since(start)

	sort.Strings(open)
	for _, slug := range open {
		status := ComponentStatus{
			Status:    HealthStatusHealthy,
			Message:   "conexão ok",
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
		if err, failed := failures[slug]; failed {
			h.logger.Error("tenant database health check failed", zap.String("tenant", slug), zap.Error(err))
			status.Status = HealthStatusUnhealthy
			status.Message = fmt.Sprintf("falha de conexão: %v", err)
		} else if duration > h.slowThreshold {
			status.Status = HealthStatusDegraded
			status.Message = "banco respondendo lentamente"
		}
		components["database:"+slug] = status
	}
	return components
}

func (h *HealthService) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	err := h.redisClient.Ping(timeoutCtx).Err()
	duration := time.Since(start)
	if err != nil {
		h.logger.Error("redis health check failed", zap.Error(err))
		return ComponentStatus{
			Status:    HealthStatusUnhealthy,
			Message:   fmt.Sprintf("falha de conexão: %v", err),
			Timestamp: time.Now(),
			Duration:  duration.String(),
		}
	}
	status := HealthStatusHealthy
	message := "conexão ok"
	if duration > time.Second {
		status = HealthStatusDegraded
		message = "redis respondendo lentamente"
	}
	return ComponentStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Duration:  duration.String(),
	}
}
