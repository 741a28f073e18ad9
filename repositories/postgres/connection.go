package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/rag-gateway/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return Wrap(db, logger), nil
}

// Wrap adapts an existing pool, e.g. a sqlmock connection in tests
func Wrap(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}

	return nil
}

// InitSchema creates the tables this service reads and writes.
// Embedding columns are sized from configuration so a dimension change
// fails loudly at insert time on the ingestion side.
func (db *DB) InitSchema(ctx context.Context, textDims, pageDims int) error {
	schema := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS tenants (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			plan VARCHAR(50) NOT NULL DEFAULT 'free',
			status VARCHAR(50) NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			title VARCHAR(500) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			category VARCHAR(100) NOT NULL DEFAULT '',
			visibility VARCHAR(20) NOT NULL DEFAULT 'everyone',
			assigned_to UUID,
			key_data JSONB,
			embedding vector(%d),
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS document_pages (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			tenant_id UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
			page_number INTEGER NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			ocr_text TEXT NOT NULL DEFAULT '',
			embedding vector(%d)
		);

		CREATE TABLE IF NOT EXISTS rate_limit_windows (
			tenant_id UUID NOT NULL,
			endpoint VARCHAR(100) NOT NULL,
			window_start TIMESTAMP NOT NULL,
			request_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (tenant_id, endpoint, window_start)
		);

		CREATE TABLE IF NOT EXISTS usage_records (
			id UUID PRIMARY KEY,
			tenant_id UUID,
			request_id VARCHAR(255),
			provider VARCHAR(100) NOT NULL,
			operation VARCHAR(50) NOT NULL,
			model VARCHAR(100) NOT NULL,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			units INTEGER NOT NULL DEFAULT 0,
			cost_usd DECIMAL(12, 8) NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_documents_tenant_id ON documents(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_documents_embedding ON documents USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS idx_document_pages_document_id ON document_pages(document_id);
		CREATE INDEX IF NOT EXISTS idx_document_pages_embedding ON document_pages USING hnsw (embedding vector_cosine_ops);
		CREATE INDEX IF NOT EXISTS idx_rate_limit_windows_start ON rate_limit_windows(window_start);
		CREATE INDEX IF NOT EXISTS idx_usage_records_tenant_id ON usage_records(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_usage_records_created_at ON usage_records(created_at);
	`, textDims, pageDims)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.logger.Info("database schema initialized successfully",
		zap.Int("text_dimensions", textDims),
		zap.Int("page_dimensions", pageDims))
	return nil
}
