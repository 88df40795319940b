package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/model-control-plane/config"
	"github.com/upb/model-control-plane/internal/observability"
	"github.com/upb/model-control-plane/models"
	"github.com/upb/model-control-plane/services/modelsource"
	"github.com/upb/model-control-plane/services/registry"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
)

type versionOnly struct{}

type versionHandle string

func (h versionHandle) Describe() modelsource.Descriptor {
	return modelsource.Descriptor{Source: "test", Version: string(h)}
}

func (versionOnly) ResolveVersion(ctx context.Context, key models.ModelKey, params models.LoadParams) (modelsource.Handle, error) {
	if key.VersionOrAlias == "broken" {
		return nil, modelsource.ErrNotReady
	}
	return versionHandle(key.VersionOrAlias), nil
}

func (versionOnly) ResolveAlias(ctx context.Context, key models.ModelKey, params models.LoadParams) (modelsource.Handle, error) {
	return nil, modelsource.ErrNotReady
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			Path:   filepath.Join(dir, "control_plane.db"),
		},
		Auth: config.AuthConfig{
			AdminUsername: "root",
			AdminPassword: "Sup3rSecret",
			TokenTTL:      30 * time.Minute,
			BcryptCost:    bcrypt.MinCost,
		},
		Registry: config.RegistryConfig{
			CacheDir:             filepath.Join(dir, "cache"),
			LoadWorkers:          1,
			LoadQueueSize:        4,
			LoadTimeout:          time.Minute,
			RehydrateConcurrency: 2,
			RehydrateTimeout:     time.Minute,
		},
		Storage: config.StorageConfig{
			DataDirectory:          filepath.Join(dir, "data"),
			VariableStoreDirectory: filepath.Join(dir, "variables"),
		},
		Environment: "test",
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t), WithModelSource(versionOnly{}))
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Infrastructure
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Users)
		assert.NotNil(t, deps.AuditLogs)
		assert.NotNil(t, deps.TxManager)
		assert.IsType(t, observability.NopMetrics{}, deps.Metrics)
		assert.Nil(t, deps.Prometheus)

		// Wiring
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.Gate)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.ModelHandler)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("default model source", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.IsType(t, &modelsource.Router{}, deps.ModelSource)
	})

	t.Run("prometheus metrics when enabled", func(t *testing.T) {
		ctx := context.Background()
		cfg := testConfig(t)
		cfg.Observability.MetricsEnabled = true

		deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t), WithModelSource(versionOnly{}))
		require.NoError(t, err)
		defer deps.Close(ctx)

		assert.NotNil(t, deps.Prometheus)
	})

	t.Run("database connection failure", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "postgres"
		cfg.Database.ConnectionString = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

		deps, err := NewDependencies(context.Background(), cfg, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), "failed to initialize database")
	})
}

func TestDependencies_Start(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	cache, err := registry.NewCache(cfg.Registry.CacheFile())
	require.NoError(t, err)
	require.NoError(t, cache.Write([]models.CacheRecord{
		{Name: "churn", Flavor: models.FlavorSklearn, VersionOrAlias: "3", Requirements: "scikit-learn"},
		{Name: "sentiment", Flavor: models.FlavorHFHub, VersionOrAlias: "broken"},
	}))

	deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t), WithModelSource(versionOnly{}))
	require.NoError(t, err)
	require.NoError(t, deps.Start(ctx))

	t.Run("bootstrap admin exists", func(t *testing.T) {
		role, err := deps.Authenticator.VerifyPassword(ctx, "root", "Sup3rSecret")
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, role)
	})

	t.Run("cache is replayed and failures dropped", func(t *testing.T) {
		assert.Equal(t, 1, deps.Registry.Len())
		assert.Equal(t, []models.ModelKey{{Name: "churn", Flavor: models.FlavorSklearn, VersionOrAlias: "3"}}, deps.Registry.Keys())
	})

	t.Run("restart keeps the admin", func(t *testing.T) {
		require.NoError(t, deps.Close(ctx))

		again, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t), WithModelSource(versionOnly{}))
		require.NoError(t, err)
		require.NoError(t, again.Start(ctx))
		defer again.Close(ctx)

		list, err := again.UserService.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestDependenciesClose(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), zaptest.NewLogger(t), WithModelSource(versionOnly{}))
	require.NoError(t, err)
	require.NoError(t, deps.Start(ctx))

	assert.NoError(t, deps.Close(ctx))
	// A second close is a no-op
	assert.NoError(t, deps.Close(ctx))
}
