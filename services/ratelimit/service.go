package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"github.com/upb/rag-gateway/services"
	"go.uber.org/zap"
)

// EndpointQuery is the rate-limited endpoint of the query pipeline
const EndpointQuery = "query"

// Decision is the outcome of an admission check
type Decision struct {
	Allowed       bool
	Remaining     int
	RetryAfter    int
	Limit         int
	WindowSeconds int
	Count         int
	Plan          string
}

// Options configures the rate limiter
type Options struct {
	WindowSeconds int
	GCProbability float64
	Plans         *PlanTable
}

// Service enforces fixed-window per-tenant request ceilings
type Service struct {
	store   repositories.RateLimitStore
	opts    Options
	metrics *observability.Metrics
	logger  *zap.Logger

	now    func() time.Time
	random func() float64
}

// NewService creates a new rate limiter over store
func NewService(store repositories.RateLimitStore, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if opts.Plans == nil {
		opts.Plans = DefaultPlanTable()
	}
	return &Service{
		store:   store,
		opts:    opts,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		random:  rand.Float64,
	}
}

// SetClock overrides the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetRandom overrides the random source used to trigger GC
func (s *Service) SetRandom(random func() float64) {
	s.random = random
}

// CheckTenant resolves the tenant's ceiling and admits or rejects one request
func (s *Service) CheckTenant(ctx context.Context, tenant *models.Tenant, endpoint string) (*Decision, error) {
	limit := s.opts.Plans.Ceiling(tenant)
	decision, err := s.CheckAndIncrement(ctx, tenant.ID, endpoint, limit, s.opts.WindowSeconds)
	if err != nil {
		return nil, err
	}

	decision.Plan = string(tenant.Plan)
	if !decision.Allowed {
		s.metrics.RecordRateLimitRejection(decision.Plan)
	}
	return decision, nil
}

// CheckAndIncrement counts one request against the current window.
// The request is rejected once the post-increment count exceeds maxRequests.
func (s *Service) CheckAndIncrement(ctx context.Context, tenantID uuid.UUID, endpoint string, maxRequests, windowSeconds int) (*Decision, error) {
	if windowSeconds <= 0 {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration, "rate limit window must be positive", nil)
	}

	now := s.now()
	windowStart := models.WindowStart(now, windowSeconds)

	count, err := s.store.Increment(ctx, tenantID, endpoint, windowStart, windowSeconds)
	if err != nil {
		return nil, services.WrapInternal("rate limit check failed", err)
	}

	s.maybeCollect(ctx, windowStart, windowSeconds)

	decision := &Decision{
		Limit:         maxRequests,
		WindowSeconds: windowSeconds,
		Count:         count,
	}

	if count > maxRequests {
		decision.RetryAfter = retryAfter(now, windowStart, windowSeconds)
		s.logger.Info("rate limit exceeded",
			zap.String("tenant_id", tenantID.String()),
			zap.String("endpoint", endpoint),
			zap.Int("count", count),
			zap.Int("limit", maxRequests),
			zap.Int("retry_after", decision.RetryAfter))
		return decision, nil
	}

	decision.Allowed = true
	decision.Remaining = maxRequests - count
	return decision, nil
}

// retryAfter is the number of seconds until the window closes, in [1, windowSeconds]
func retryAfter(now, windowStart time.Time, windowSeconds int) int {
	secs := int(windowStart.Unix() + int64(windowSeconds) - now.Unix())
	if secs < 1 {
		return 1
	}
	if secs > windowSeconds {
		return windowSeconds
	}
	return secs
}

// maybeCollect removes windows older than the previous one with probability
// GCProbability. Failures are logged only.
func (s *Service) maybeCollect(ctx context.Context, windowStart time.Time, windowSeconds int) {
	if s.opts.GCProbability <= 0 || s.random() >= s.opts.GCProbability {
		return
	}

	cutoff := windowStart.Add(-time.Duration(windowSeconds) * time.Second)
	removed, err := s.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		s.logger.Warn("rate limit window cleanup failed", zap.Error(err))
		return
	}

	if removed > 0 {
		s.logger.Debug("rate limit windows collected",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
	}
}
