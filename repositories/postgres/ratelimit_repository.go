package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

// RateLimitRepository implements repositories.RateLimitStore on the
// rate_limit_windows table
type RateLimitRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewRateLimitRepository creates a new rate-limit window repository
func NewRateLimitRepository(db *DB, logger *zap.Logger) repositories.RateLimitStore {
	return &RateLimitRepository{
		db:     db,
		logger: logger,
	}
}

// Increment upserts the window row and returns the new count.
// Concurrent callers serialize on the primary key.
func (r *RateLimitRepository) Increment(ctx context.Context, tenantID uuid.UUID, endpoint string, windowStart time.Time, windowSeconds int) (int, error) {
	query := `
		INSERT INTO rate_limit_windows (tenant_id, endpoint, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, endpoint, window_start)
		DO UPDATE SET request_count = rate_limit_windows.request_count + 1
		RETURNING request_count
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, tenantID, endpoint, windowStart.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit window: %w", err)
	}

	r.logger.Debug("rate limit window incremented",
		zap.String("tenant_id", tenantID.String()),
		zap.String("endpoint", endpoint),
		zap.Int("count", count))
	return count, nil
}

// DeleteBefore removes windows that started before cutoff
func (r *RateLimitRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_windows WHERE window_start < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired rate limit windows: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Debug("expired rate limit windows removed", zap.Int64("removed", removed))
	return removed, nil
}
