package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/services/providers"
	"github.com/upb/rag-gateway/services/usage"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when every attempt on the primary
// provider was rate limited
var ErrRetriesExhausted = errors.New("primary provider retries exhausted")

// CheapModelThreshold is the top relevance above which single-shot
// generation uses the cheap model
const CheapModelThreshold = 0.7

// Config holds configuration for the routing service
type Config struct {
	// MaxAttempts on the primary provider, including the first
	MaxAttempts int

	// Backoff delays indexed by attempt; the last entry repeats
	Backoff []time.Duration

	// MaxTokens applied when a request does not set one
	MaxTokens int
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second},
		MaxTokens:   1024,
	}
}

// Sleeper waits for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Route is the model assignment for one query. It becomes sticky on the
// secondary provider once a fallback happens.
type Route struct {
	Model    providers.ModelInfo
	Fallback bool
}

// Label is the model name reported to callers
func (r *Route) Label() string {
	if r.Fallback {
		return r.Model.ID + " (fallback)"
	}
	return r.Model.ID
}

// Result wraps a completion with routing metadata
type Result struct {
	*providers.CompletionResponse

	// Label is the served model, suffixed " (fallback)" after a fallback
	Label string

	// Attempts made across providers for this call
	Attempts int

	// FellBack is true when this call triggered the fallback
	FellBack bool
}

// Service selects models and drives generation calls
type Service struct {
	config   Config
	registry *providers.Registry
	recorder usage.Recorder
	metrics  *observability.Metrics
	logger   *zap.Logger
	sleep    Sleeper
}

// NewService creates a new routing service
func NewService(config Config, registry *providers.Registry, recorder usage.Recorder, metrics *observability.Metrics, logger *zap.Logger) *Service {
	defaults := DefaultConfig()
	if config.MaxAttempts < 1 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if len(config.Backoff) == 0 {
		config.Backoff = defaults.Backoff
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaults.MaxTokens
	}

	return &Service{
		config:   config,
		registry: registry,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// SetSleeper replaces the backoff sleeper
func (s *Service) SetSleeper(sleep Sleeper) {
	s.sleep = sleep
}

// SelectForRelevance picks the model for single-shot generation from the
// top retrieval relevance
func (s *Service) SelectForRelevance(top float64) providers.ModelInfo {
	tier := providers.TierCapable
	if top > CheapModelThreshold {
		tier = providers.TierCheap
	}
	if m, ok := s.registry.ByTier(providers.RolePrimary, tier); ok {
		return m
	}
	return s.registry.Resolve("")
}

// NewRoute resolves the requested model into a fresh route
func (s *Service) NewRoute(requested string) *Route {
	return &Route{Model: s.registry.Resolve(requested)}
}

// Generate runs req on the route's model. Rate-limited primary calls are
// retried; once retries are exhausted the route switches to the cheapest
// secondary model for the rest of the query.
func (s *Service) Generate(ctx context.Context, route *Route, req *providers.CompletionRequest) (*Result, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = s.config.MaxTokens
	}

	if route.Fallback || route.Model.Role == providers.RoleSecondary {
		call := req
		if route.Fallback {
			call = stripTools(req)
		}
		resp, err := s.callOnce(ctx, route.Model, call)
		if err != nil {
			return nil, err
		}
		return &Result{CompletionResponse: resp, Label: route.Label(), Attempts: 1}, nil
	}

	resp, attempts, err := s.callWithRetry(ctx, route.Model, req)
	if err == nil {
		return &Result{CompletionResponse: resp, Label: route.Label(), Attempts: attempts}, nil
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		return nil, err
	}

	secondary, ok := s.registry.Cheapest(providers.RoleSecondary)
	if !ok {
		return nil, err
	}

	s.logger.Warn("primary provider exhausted, falling back",
		zap.String("primary", route.Model.ID),
		zap.String("fallback", secondary.ID),
		zap.Int("attempts", attempts))
	s.metrics.RecordFallback()

	route.Model = secondary
	route.Fallback = true

	resp, err = s.callOnce(ctx, secondary, stripTools(req))
	if err != nil {
		return nil, err
	}
	return &Result{CompletionResponse: resp, Label: route.Label(), Attempts: attempts + 1, FellBack: true}, nil
}

// callWithRetry retries only rate-limited errors, sleeping Backoff[attempt-1]
// between attempts
func (s *Service) callWithRetry(ctx context.Context, model providers.ModelInfo, req *providers.CompletionRequest) (*providers.CompletionResponse, int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		resp, err := s.callOnce(ctx, model, req)
		if err == nil {
			return resp, attempt, nil
		}
		if !providers.IsRateLimited(err) {
			return nil, attempt, err
		}
		lastErr = err

		if attempt == s.config.MaxAttempts {
			break
		}

		delay := s.backoff(attempt)
		s.logger.Debug("primary provider rate limited, backing off",
			zap.String("model", model.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))
		if err := s.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}

	return nil, s.config.MaxAttempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.config.MaxAttempts, lastErr)
}

func (s *Service) backoff(attempt int) time.Duration {
	i := attempt - 1
	if i >= len(s.config.Backoff) {
		i = len(s.config.Backoff) - 1
	}
	return s.config.Backoff[i]
}

// callOnce issues a single request and accounts for it
func (s *Service) callOnce(ctx context.Context, model providers.ModelInfo, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	provider, err := s.registry.GetProvider(model.Provider)
	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("no provider registered for model %s", model.ID), err)
	}

	call := *req
	call.Model = model.ID

	startTime := time.Now()
	resp, err := provider.Complete(ctx, &call)
	latency := time.Since(startTime)

	rec := models.NewUsageRecord(model.Provider, models.UsageOperationGeneration, model.ID, latency)
	switch {
	case err == nil:
		rec.WithTokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)
		s.metrics.RecordProviderRequest(model.Provider, model.ID, "success", latency)
	case providers.IsRateLimited(err):
		rec.WithError(err)
		s.metrics.RecordProviderRequest(model.Provider, model.ID, "rate_limited", latency)
	default:
		rec.WithError(err)
		s.metrics.RecordProviderRequest(model.Provider, model.ID, "error", latency)
		s.logger.Warn("generation call failed",
			zap.String("provider", model.Provider),
			zap.String("model", model.ID),
			zap.Error(err))
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, rec)
	}

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// stripTools returns a copy of req without tool declarations, with tool
// turns rewritten as plain text
func stripTools(req *providers.CompletionRequest) *providers.CompletionRequest {
	out := *req
	out.Tools = nil
	out.ToolChoice = ""
	out.Messages = FlattenToolTurns(req.Messages)
	return &out
}

// FlattenToolTurns rewrites assistant tool calls and tool results as text
// messages so a provider without the original tool context can read them
func FlattenToolTurns(messages []providers.Message) []providers.Message {
	out := make([]providers.Message, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.Role == providers.RoleTool:
			out = append(out, providers.Message{
				Role:    providers.RoleUser,
				Content: "Tool result:\n" + msg.Content,
			})
		case len(msg.ToolCalls) > 0:
			var b strings.Builder
			b.WriteString(msg.Content)
			for _, call := range msg.ToolCalls {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				fmt.Fprintf(&b, "[called %s with %s]", call.Name, string(call.Arguments))
			}
			out = append(out, providers.Message{Role: providers.RoleAssistant, Content: b.String()})
		default:
			out = append(out, providers.Message{Role: msg.Role, Content: msg.Content})
		}
	}
	return out
}
