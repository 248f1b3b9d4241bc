package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"consulta-go/internal/config"
	"consulta-go/internal/schema"
	"consulta-go/internal/service"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	app := config.DefaultAppConfig()
	app.SchemaDir = t.TempDir()
	ai := config.DefaultAIConfig()
	ai.Enabled = false
	return &config.Config{
		App:      app,
		Database: config.DefaultDatabaseConfig(),
		AI:       ai,
		Redis:    config.DefaultRedisConfig(),
		Auth:     config.DefaultAuthConfig(),
	}
}

func TestNew_InMemory(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Consulta)
	require.NotNil(t, a.Health)
	assert.Equal(t, Name, a.Info.Name)

	slugs, err := a.Consulta.Schemas()
	require.NoError(t, err)
	assert.Contains(t, slugs, config.DefaultTenantSlug)

	n, err := a.Cache.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	health := a.Health.CheckHealth(context.Background())
	assert.Equal(t, service.HealthStatusHealthy, health.Status)
}

func TestNew_PrefersSchemaFile(t *testing.T) {
	cfg := testConfig(t)
	d := schema.NewDescriptor(config.DefaultTenantSlug, map[string]*schema.Table{
		"pedidosvenda": {Columns: []schema.Column{{Name: "pedi_empr", Type: "integer"}}},
	})
	data, err := schema.Encode(d)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.App.SchemaDir, config.DefaultTenantSlug+".json"), data, 0o644))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	loaded, err := a.Consulta.Schema(config.DefaultTenantSlug)
	require.NoError(t, err)
	assert.Equal(t, []string{"pedidosvenda"}, loaded.TableNames())
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.CacheBackend = "redis"
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.Redis.MaxRetries = -1

	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis cache")
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), nil, nil)
	assert.Error(t, err)
}
