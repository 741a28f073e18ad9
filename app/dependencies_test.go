package app

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/config"
	"github.com/upb/rag-gateway/repositories/postgres"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Environment: "test",
		Server:      config.ServerConfig{Port: 8080, ShutdownTimeout: 2 * time.Second},
		Database:    config.DatabaseConfig{ConnectionString: "postgres://test@localhost/test?sslmode=disable"},
		RateLimit: config.RateLimitConfig{
			Store:            "postgres",
			WindowSeconds:    3600,
			PlanCeilings:     config.DefaultPlanCeilings(),
			SuspendedCeiling: 5,
		},
		Embedding: config.EmbeddingConfig{
			BaseURL:        "http://127.0.0.1:1",
			Model:          "text-embedding-3-small",
			Dimensions:     1536,
			PageDimensions: 1024,
			Timeout:        time.Second,
		},
		Reranker:  config.RerankerConfig{ContentChars: 1000},
		Retrieval: config.RetrievalConfig{TopK: 5, OverFetchFactor: 3, MaxCandidates: 50, PageMinSimilarity: 0.3, PageLimit: 5},
		Router: config.RouterConfig{
			DefaultModel: "claude-sonnet-4-20250514",
			MaxAttempts:  3,
			Backoff:      []time.Duration{time.Millisecond},
			MaxTokens:    1024,
		},
		Usage:         config.UsageConfig{BufferSize: 16, WorkerCount: 1},
		Auth:          config.AuthConfig{JWTSecret: "test-secret"},
		Observability: config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console", MetricsEnabled: true},
	}
}

func mockDB(t *testing.T) (*postgres.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return postgres.Wrap(db, zap.NewNop()), mock
}

func TestNewDependenciesWithDB(t *testing.T) {
	t.Run("wires every service", func(t *testing.T) {
		db, _ := mockDB(t)

		deps, err := NewDependenciesWithDB(testConfig(t), db, zaptest.NewLogger(t))
		require.NoError(t, err)

		assert.NotNil(t, deps.Repos.Documents)
		assert.NotNil(t, deps.Repos.Tenants)
		assert.NotNil(t, deps.Repos.RateLimits)
		assert.NotNil(t, deps.Repos.Usage)
		assert.NotNil(t, deps.Usage)
		assert.NotNil(t, deps.TextEmbedder)
		assert.NotNil(t, deps.Reranker)
		assert.NotNil(t, deps.RateLimiter)
		assert.NotNil(t, deps.Retriever)
		assert.NotNil(t, deps.Router)
		assert.NotNil(t, deps.Agent)
		assert.NotNil(t, deps.AuthMiddleware)
		assert.NotNil(t, deps.Gatherer)

		assert.Nil(t, deps.Redis)
		assert.Nil(t, deps.PageEmbedder, "page embedder needs its own key")
	})

	t.Run("providers registered only with keys", func(t *testing.T) {
		db, _ := mockDB(t)
		cfg := testConfig(t)
		cfg.Providers.Anthropic.APIKey = "sk-ant"

		deps, err := NewDependenciesWithDB(cfg, db, zap.NewNop())
		require.NoError(t, err)

		_, err = deps.Models.GetProvider("anthropic")
		assert.NoError(t, err)
		_, err = deps.Models.GetProvider("openai")
		assert.Error(t, err)
	})

	t.Run("page embedder with key", func(t *testing.T) {
		db, _ := mockDB(t)
		cfg := testConfig(t)
		cfg.Embedding.PageAPIKey = "pa-key"

		deps, err := NewDependenciesWithDB(cfg, db, zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, deps.PageEmbedder)
		assert.Equal(t, 1024, deps.PageEmbedder.Dimensions())
	})

	t.Run("redis rate limit store", func(t *testing.T) {
		mr := miniredis.RunT(t)
		db, _ := mockDB(t)
		cfg := testConfig(t)
		cfg.RateLimit.Store = "redis"
		cfg.Redis.Addr = mr.Addr()

		deps, err := NewDependenciesWithDB(cfg, db, zap.NewNop())
		require.NoError(t, err)
		require.NotNil(t, deps.Redis)

		checks := deps.ReadinessChecks()
		require.Contains(t, checks, "redis")
		assert.NoError(t, checks["redis"](context.Background()))

		mr.Close()
		err = checks["redis"](context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis health check failed")

		assert.NoError(t, deps.Close(context.Background()))
		assert.Nil(t, deps.Redis)
	})

	t.Run("unknown default model", func(t *testing.T) {
		db, _ := mockDB(t)
		cfg := testConfig(t)
		cfg.Router.DefaultModel = "gpt-5-turbo"

		deps, err := NewDependenciesWithDB(cfg, db, zap.NewNop())
		require.Error(t, err)
		assert.Nil(t, deps)
		assert.Contains(t, err.Error(), `unknown default model "gpt-5-turbo"`)
		assert.Contains(t, err.Error(), "claude-sonnet-4-20250514")
	})

	t.Run("missing pricing file", func(t *testing.T) {
		db, _ := mockDB(t)
		cfg := testConfig(t)
		cfg.Usage.PricingFile = "testdata/does-not-exist.yaml"

		_, err := NewDependenciesWithDB(cfg, db, zap.NewNop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load pricing")
	})
}

func TestNewDependencies_DatabaseUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.ConnectionString = "postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	deps, err := NewDependencies(ctx, cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
	assert.Nil(t, deps)
	assert.Contains(t, err.Error(), "failed to initialize database")
}

func TestDependencies_ReadinessChecks(t *testing.T) {
	db, mock := mockDB(t)

	deps, err := NewDependenciesWithDB(testConfig(t), db, zap.NewNop())
	require.NoError(t, err)

	checks := deps.ReadinessChecks()
	require.Len(t, checks, 1)

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.NoError(t, checks["database"](context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDependencies_StartAndClose(t *testing.T) {
	db, _ := mockDB(t)

	deps, err := NewDependenciesWithDB(testConfig(t), db, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, deps.Start())
	assert.Error(t, deps.Start(), "usage writers start once")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, deps.Close(ctx))

	// second close is a no-op
	assert.NoError(t, deps.Close(context.Background()))
}
