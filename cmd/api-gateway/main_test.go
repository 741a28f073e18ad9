package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/config"
)

func TestMain(m *testing.M) {
	os.Setenv("ENVIRONMENT", "test")
	os.Setenv("LOG_LEVEL", "error")

	os.Exit(m.Run())
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "json logger", level: "info", format: "json"},
		{name: "console logger", level: "debug", format: "console"},
		{name: "upper case level", level: "WARN", format: "json"},
		{name: "invalid level", level: "loud", format: "json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Observability: config.ObservabilityConfig{LogLevel: tt.level, LogFormat: tt.format}}

			logger, err := initLogger(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				assert.Contains(t, err.Error(), "invalid log level")
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         9090,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 120 * time.Second,
	}}

	srv := newServer(cfg, http.NotFoundHandler())

	assert.Equal(t, "127.0.0.1:9090", srv.Addr)
	assert.Equal(t, 10*time.Second, srv.ReadTimeout)
	assert.Equal(t, 120*time.Second, srv.WriteTimeout)
	assert.Equal(t, 20*time.Second, srv.IdleTimeout)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("RATE_LIMIT_STORE", "memcached")

	err := run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
}
