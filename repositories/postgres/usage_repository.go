package postgres

import (
	"context"
	"fmt"

	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

// UsageRepository implements the repositories.UsageRepository interface
type UsageRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *DB, logger *zap.Logger) repositories.UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
	}
}

// Insert appends a usage record
func (r *UsageRepository) Insert(ctx context.Context, rec *models.UsageRecord) error {
	query := `
		INSERT INTO usage_records (
			id, tenant_id, request_id, provider, operation, model,
			input_tokens, output_tokens, units, cost_usd, latency_ms,
			success, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.TenantID,
		rec.RequestID,
		rec.Provider,
		rec.Operation,
		rec.Model,
		rec.InputTokens,
		rec.OutputTokens,
		rec.Units,
		rec.CostUSD,
		rec.LatencyMs,
		rec.Success,
		rec.ErrorMessage,
		rec.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	r.logger.Debug("usage record inserted",
		zap.String("id", rec.ID.String()),
		zap.String("operation", string(rec.Operation)))
	return nil
}
