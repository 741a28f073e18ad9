package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			envVars: map[string]string{
				"ENVIRONMENT": "development",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "development", cfg.Environment)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.False(t, cfg.Server.TLS.Enabled)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, "postgres", cfg.RateLimit.Store)
				assert.Equal(t, 3600, cfg.RateLimit.WindowSeconds)
				assert.Equal(t, 5, cfg.RateLimit.SuspendedCeiling)
				assert.Equal(t, 0.01, cfg.RateLimit.GCProbability)
				assert.Equal(t, 20, cfg.RateLimit.PlanCeilings["free"])
				assert.Equal(t, 1536, cfg.Embedding.Dimensions)
				assert.Equal(t, 5, cfg.Retrieval.TopK)
				assert.Equal(t, 3, cfg.Retrieval.OverFetchFactor)
				assert.Equal(t, 50, cfg.Retrieval.MaxCandidates)
				assert.Equal(t, 3, cfg.Router.MaxAttempts)
				assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, cfg.Router.Backoff)
			},
		},
		{
			name: "redis store with address",
			envVars: map[string]string{
				"RATE_LIMIT_STORE": "redis",
				"REDIS_ADDR":       "localhost:6379",
				"REDIS_DB":         "2",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.RateLimit.Store)
				assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
				assert.Equal(t, 2, cfg.Redis.DB)
			},
		},
		{
			name: "redis store without address",
			envVars: map[string]string{
				"RATE_LIMIT_STORE": "redis",
			},
			wantErr: true,
		},
		{
			name: "unknown store",
			envVars: map[string]string{
				"RATE_LIMIT_STORE": "memcached",
			},
			wantErr: true,
		},
		{
			name: "custom backoff schedule",
			envVars: map[string]string{
				"ROUTER_BACKOFF":      "100ms, 200ms",
				"ROUTER_MAX_ATTEMPTS": "2",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, cfg.Router.Backoff)
				assert.Equal(t, 2, cfg.Router.MaxAttempts)
			},
		},
		{
			name: "invalid backoff falls back to default",
			envVars: map[string]string{
				"ROUTER_BACKOFF": "soon",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Len(t, cfg.Router.Backoff, 3)
			},
		},
		{
			name: "embedding key falls back to OpenAI key",
			envVars: map[string]string{
				"OPENAI_API_KEY": "sk-test",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
			},
		},
		{
			name: "PORT env var takes precedence",
			envVars: map[string]string{
				"PORT":        "9443",
				"SERVER_PORT": "9000",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9443, cfg.Server.Port)
			},
		},
		{
			name: "production with providers and secret",
			envVars: map[string]string{
				"ENVIRONMENT":       "production",
				"ANTHROPIC_API_KEY": "sk-ant",
				"OPENAI_API_KEY":    "sk-oai",
				"JWT_SECRET":        "secret",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.IsProduction())
				assert.False(t, cfg.IsDevelopment())
			},
		},
		{
			name: "production without secondary provider",
			envVars: map[string]string{
				"ENVIRONMENT":       "production",
				"ANTHROPIC_API_KEY": "sk-ant",
				"JWT_SECRET":        "secret",
			},
			wantErr: true,
		},
		{
			name: "production without jwt secret",
			envVars: map[string]string{
				"ENVIRONMENT":       "production",
				"ANTHROPIC_API_KEY": "sk-ant",
				"OPENAI_API_KEY":    "sk-oai",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}

			cfg, err := New(context.Background())

			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestNew_PlanOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  free: 10\n  enterprise: 2000\n"), 0o600))

	os.Clearenv()
	os.Setenv("RATE_LIMIT_PLANS_FILE", path)

	cfg, err := New(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.RateLimit.PlanCeilings["free"])
	assert.Equal(t, 100, cfg.RateLimit.PlanCeilings["family"])
	assert.Equal(t, 2000, cfg.RateLimit.PlanCeilings["enterprise"])
}

func TestNew_PlanOverridesMissingFile(t *testing.T) {
	os.Clearenv()
	os.Setenv("RATE_LIMIT_PLANS_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	_, err := New(context.Background())
	assert.Error(t, err)
}

func TestLoadPricing(t *testing.T) {
	dir := t.TempDir()

	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(dir, "prices.yaml")
		content := "prices:\n" +
			"  - provider: openai\n    model: gpt-4o\n    input_per_1k: 0.0025\n    output_per_1k: 0.01\n" +
			"  - provider: cohere\n    model: rerank-v3.5\n    per_request: 0.002\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		prices, err := LoadPricing(path)
		require.NoError(t, err)
		require.Len(t, prices, 2)
		assert.Equal(t, 0.0025, prices[0].InputPer1K)
		assert.Equal(t, 0.002, prices[1].PerRequest)
	})

	t.Run("entry without model", func(t *testing.T) {
		path := filepath.Join(dir, "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("prices:\n  - provider: openai\n"), 0o600))

		_, err := LoadPricing(path)
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(dir, "broken.yaml")
		require.NoError(t, os.WriteFile(path, []byte("prices: [\n"), 0o600))

		_, err := LoadPricing(path)
		assert.Error(t, err)
	})
}

func validConfig() *Config {
	return &Config{
		Environment: "development",
		Database: DatabaseConfig{
			Host:     "localhost",
			User:     "user",
			Database: "db",
		},
		RateLimit: RateLimitConfig{
			Store:         "postgres",
			WindowSeconds: 60,
			GCProbability: 0.01,
		},
		Embedding: EmbeddingConfig{
			Dimensions:     1536,
			PageDimensions: 1024,
		},
		Router: RouterConfig{
			MaxAttempts: 3,
			Backoff:     []time.Duration{time.Second},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{name: "valid development config", mutate: func(*Config) {}},
		{
			name:    "missing database host",
			mutate:  func(c *Config) { c.Database.Host = "" },
			wantErr: true,
			errMsg:  "database configuration required",
		},
		{
			name:    "missing database user",
			mutate:  func(c *Config) { c.Database.User = "" },
			wantErr: true,
			errMsg:  "database user is required",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimit.WindowSeconds = 0 },
			wantErr: true,
			errMsg:  "window must be positive",
		},
		{
			name:    "gc probability out of range",
			mutate:  func(c *Config) { c.RateLimit.GCProbability = 1.5 },
			wantErr: true,
			errMsg:  "GC probability",
		},
		{
			name:    "zero embedding dimensions",
			mutate:  func(c *Config) { c.Embedding.Dimensions = 0 },
			wantErr: true,
			errMsg:  "embedding dimensions",
		},
		{
			name:    "no attempts",
			mutate:  func(c *Config) { c.Router.MaxAttempts = 0 },
			wantErr: true,
			errMsg:  "max attempts",
		},
		{
			name:    "empty backoff",
			mutate:  func(c *Config) { c.Router.Backoff = nil },
			wantErr: true,
			errMsg:  "backoff",
		},
		{
			name:    "missing log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "" },
			wantErr: true,
			errMsg:  "log level is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	assert.Equal(t, expected, cfg.DSN())

	withURL := DatabaseConfig{ConnectionString: "postgres://u:p@db.internal:6543/rag?sslmode=require"}
	assert.Equal(t, withURL.ConnectionString, withURL.DSN())
	assert.Equal(t, "host=db.internal port=6543 database=rag", withURL.LogString())
}

func TestServerConfig_Address(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		value        string
		defaultValue int
		want         int
	}{
		{"valid int", "42", 10, 42},
		{"empty value", "", 10, 10},
		{"invalid int", "not-a-number", 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			if tt.value != "" {
				os.Setenv("TEST_INT", tt.value)
			}
			assert.Equal(t, tt.want, getEnvAsInt("TEST_INT", tt.defaultValue))
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	os.Clearenv()
	os.Setenv("TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, getEnvAsFloat("TEST_FLOAT", 1))
	assert.Equal(t, 1.0, getEnvAsFloat("MISSING_FLOAT", 1))
}
