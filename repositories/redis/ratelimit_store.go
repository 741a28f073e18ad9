package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/rag-gateway/repositories"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit"

var _ repositories.RateLimitStore = (*RateLimitStore)(nil)

// RateLimitStore implements repositories.RateLimitStore on Redis counters.
// Each window is its own key and expires one window after it closes, so no
// sweep is needed.
type RateLimitStore struct {
	client goredis.UniversalClient
	logger *zap.Logger
}

// NewRateLimitStore creates a Redis-backed rate-limit store
func NewRateLimitStore(client goredis.UniversalClient, logger *zap.Logger) *RateLimitStore {
	return &RateLimitStore{
		client: client,
		logger: logger,
	}
}

// NewClient builds a client from connection settings
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func windowKey(tenantID uuid.UUID, endpoint string, windowStart time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, tenantID, endpoint, windowStart.Unix())
}

// Increment bumps the window counter and sets its expiry in one MULTI/EXEC
func (s *RateLimitStore) Increment(ctx context.Context, tenantID uuid.UUID, endpoint string, windowStart time.Time, windowSeconds int) (int, error) {
	key := windowKey(tenantID, endpoint, windowStart)
	expireAt := windowStart.Add(2 * time.Duration(windowSeconds) * time.Second)

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireAt(ctx, key, expireAt)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment rate limit window: %w", err)
	}

	count := int(incr.Val())
	s.logger.Debug("rate limit window incremented",
		zap.String("key", key),
		zap.Int("count", count))
	return count, nil
}

// DeleteBefore is a no-op; window keys expire on their own
func (s *RateLimitStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

// Ping checks connectivity; /readyz reports it as "redis"
func (s *RateLimitStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
