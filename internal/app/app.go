// Package app assembles the answering pipeline from configuration. The HTTP
// server and the MCP server share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"consulta-go/internal/ai"
	"consulta-go/internal/cache"
	"consulta-go/internal/config"
	"consulta-go/internal/database"
	"consulta-go/internal/memory"
	"consulta-go/internal/metrics"
	"consulta-go/internal/schema"
	"consulta-go/internal/service"
)

// Name is reported in build info and health payloads.
const Name = "consulta-go"

// App holds the long-lived components.
type App struct {
	Config    *config.Config
	Info      *config.AppInfo
	Databases *database.Manager
	Schemas   *schema.Loader
	Cache     cache.Store
	Metrics   *metrics.PrometheusMetrics
	Consulta  *service.ConsultaService
	Health    *service.HealthService

	redis  *redis.Client
	logger *zap.Logger
}

// New wires every component. No database connection is opened until the
// first question for a tenant.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config: cfg,
		Info:   config.NewAppInfo(Name, cfg.App.Env),
		logger: logger,
	}

	manager, err := database.NewManager(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database manager: %w", err)
	}
	a.Databases = manager

	store, err := a.newCache(ctx)
	if err != nil {
		manager.Close()
		return nil, err
	}
	a.Cache = store

	a.Schemas = schema.NewLoader(cfg.App.SchemaDir, logger)
	if _, err := a.Schemas.Load(config.DefaultTenantSlug); err != nil {
		a.Schemas.Register(config.DefaultTenantSlug, schema.Default())
		logger.Info("using built-in schema for default tenant", zap.String("reason", err.Error()))
	}

	a.Metrics = metrics.NewPrometheusMetrics(nil, logger)
	a.Metrics.Registry().MustRegister(metrics.NewPoolCollector(metrics.DefaultMetricsConfig().Namespace, manager, a.Info))

	conversations := memory.NewManager(&memory.Config{
		MaxInteractions: cfg.App.MemorySize,
		MaxSessions:     cfg.App.MemorySessions,
		IdleTTL:         cfg.App.MemoryIdleTTL,
	}, logger)

	consulta, err := service.NewConsultaService(service.Dependencies{
		Cache:     store,
		Memory:    conversations,
		Schemas:   a.Schemas,
		Tenants:   manager,
		Generator: ai.NewGenerator(a.newLLM(), nil, cfg.AI, logger),
		Executor: service.NewSQLExecutor(manager, &service.SQLExecutorConfig{
			QueryTimeout: cfg.Database.QueryTimeout,
			MaxRows:      service.DefaultSQLExecutorConfig().MaxRows,
		}, logger),
		Metrics: a.Metrics,
	}, &service.ConsultaConfig{
		DefaultTenant:  cfg.App.DefaultTenant,
		IncludeDetails: cfg.App.IncludeDetails,
		SummaryEnabled: cfg.AI.SummaryEnabled,
		MemoryRows:     service.DefaultConsultaConfig().MemoryRows,
	}, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("consulta service: %w", err)
	}
	a.Consulta = consulta

	var redisClient redis.UniversalClient
	if a.redis != nil {
		redisClient = a.redis
	}
	a.Health = service.NewHealthService(manager, redisClient, a.Info, logger)
	return a, nil
}

func (a *App) newCache(ctx context.Context) (cache.Store, error) {
	cfg := a.Config
	if cfg.App.CacheBackend != "redis" {
		return cache.NewMemoryStore(cfg.App.CacheTTL, nil, a.logger), nil
	}
	client, err := config.NewRedisClient(ctx, cfg.Redis, a.logger)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.redis = client
	return cache.NewRedisStore(client, &cache.Config{
		Backend:   "redis",
		TTL:       cfg.App.CacheTTL,
		KeyPrefix: cfg.Redis.KeyPrefix + "cache:",
	}, a.logger), nil
}

// newLLM returns nil when the LLM tier is disabled or cannot be created;
// questions are then answered from templates.
func (a *App) newLLM() ai.TextGenerator {
	if !a.Config.AI.Enabled {
		a.logger.Info("LLM tier disabled, answering from templates only")
		return nil
	}
	client, err := ai.NewLLMClient(a.Config.AI, a.logger)
	if err != nil {
		a.logger.Warn("LLM client unavailable, answering from templates only", zap.Error(err))
		return nil
	}
	return client
}

// Close releases pools and the Redis connection.
func (a *App) Close() {
	if a.Databases != nil {
		a.Databases.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close Redis client", zap.Error(err))
		}
	}
}
