package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/rag-gateway/config"
	"github.com/upb/rag-gateway/internal/auth"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/middleware"
	"github.com/upb/rag-gateway/repositories"
	"github.com/upb/rag-gateway/repositories/postgres"
	redisstore "github.com/upb/rag-gateway/repositories/redis"
	"github.com/upb/rag-gateway/services/agent"
	"github.com/upb/rag-gateway/services/embedding"
	"github.com/upb/rag-gateway/services/providers"
	"github.com/upb/rag-gateway/services/providers/anthropic"
	"github.com/upb/rag-gateway/services/providers/openai"
	"github.com/upb/rag-gateway/services/ratelimit"
	"github.com/upb/rag-gateway/services/rerank"
	"github.com/upb/rag-gateway/services/retrieval"
	"github.com/upb/rag-gateway/services/routing"
	"github.com/upb/rag-gateway/services/usage"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Redis   *goredis.Client // nil unless RATE_LIMIT_STORE=redis
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Gatherer backs /metrics
	Gatherer prometheus.Gatherer

	// Repositories
	Repos *repositories.Repositories

	// Services
	Usage        *usage.Service
	TextEmbedder *embedding.Client
	PageEmbedder *embedding.Client
	Reranker     *rerank.Service
	Models       *providers.Registry
	RateLimiter  *ratelimit.Service
	Retriever    *retrieval.Service
	Router       *routing.Service
	Agent        *agent.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware

	factory *postgres.RepositoryFactory
	// Redis window store, nil with the postgres store
	redisWindows *redisstore.RateLimitStore
	started      bool
}

// NewDependencies opens the database and wires every service on top of it
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.InitSchema {
		if err := factory.GetDB().InitSchema(ctx, cfg.Embedding.Dimensions, cfg.Embedding.PageDimensions); err != nil {
			_ = factory.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	deps, err := NewDependenciesWithDB(cfg, factory.GetDB(), logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	deps.factory = factory
	return deps, nil
}

// NewDependenciesWithDB wires services over an already-open database
func NewDependenciesWithDB(cfg *config.Config, db *postgres.DB, logger *zap.Logger) (*Dependencies, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := &Dependencies{
		Config:   cfg,
		DB:       db,
		Logger:   logger,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
	}

	deps.initRepositories()

	if err := deps.initServices(); err != nil {
		if deps.Redis != nil {
			_ = deps.Redis.Close()
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initAuth()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initRepositories creates the Postgres repositories and swaps in the
// Redis window store when configured
func (d *Dependencies) initRepositories() {
	d.Repos = postgres.NewRepositoryFactoryFromDB(d.DB, d.Logger).NewRepositories()

	if d.Config.RateLimit.Store == "redis" {
		d.Redis = redisstore.NewClient(d.Config.Redis.Addr, d.Config.Redis.Password, d.Config.Redis.DB)
		d.redisWindows = redisstore.NewRateLimitStore(d.Redis, d.Logger)
		d.Repos.RateLimits = d.redisWindows
		d.Logger.Info("rate limit windows stored in redis",
			zap.String("addr", d.Config.Redis.Addr))
	}

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initServices() error {
	cfg := d.Config

	prices := usage.DefaultPriceTable()
	if cfg.Usage.PricingFile != "" {
		entries, err := config.LoadPricing(cfg.Usage.PricingFile)
		if err != nil {
			return fmt.Errorf("failed to load pricing: %w", err)
		}
		prices = usage.NewPriceTable(entries)
	}
	d.Usage = usage.NewService(d.Repos.Usage, prices, d.Metrics, d.Logger, usage.Config{
		BufferSize:  cfg.Usage.BufferSize,
		WorkerCount: cfg.Usage.WorkerCount,
	})

	d.TextEmbedder = embedding.NewClient(embedding.Config{
		Provider:   "openai",
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Timeout:    cfg.Embedding.Timeout,
	}, d.Usage, d.Logger)

	// Page vectors live in the multimodal space; without a key page search
	// falls back to the text embedder and fails on dimensions if they differ
	var pageEmbedder embedding.Embedder
	if cfg.Embedding.PageAPIKey != "" {
		d.PageEmbedder = embedding.NewClient(embedding.Config{
			Provider:   "voyage",
			BaseURL:    cfg.Embedding.PageBaseURL,
			APIKey:     cfg.Embedding.PageAPIKey,
			Model:      cfg.Embedding.PageModel,
			Dimensions: cfg.Embedding.PageDimensions,
			Timeout:    cfg.Embedding.Timeout,
			Multimodal: true,
		}, d.Usage, d.Logger)
		pageEmbedder = d.PageEmbedder
	} else {
		d.Logger.Warn("page embedding not configured, visual search uses the text embedder")
	}

	var scorer rerank.Scorer
	if cfg.Reranker.APIKey != "" {
		scorer = rerank.NewCohereClient(rerank.CohereConfig{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  cfg.Reranker.APIKey,
			Model:   cfg.Reranker.Model,
			Timeout: cfg.Reranker.Timeout,
		})
	} else {
		d.Logger.Warn("reranker not configured, relevance derived from vector distance")
	}
	d.Reranker = rerank.NewService(scorer, rerank.Options{ContentChars: cfg.Reranker.ContentChars}, d.Usage, d.Metrics, d.Logger)

	d.Models = providers.NewRegistry(providers.DefaultModels(), cfg.Router.DefaultModel)
	if err := d.Models.Validate(); err != nil {
		return fmt.Errorf("invalid router config: %w", err)
	}
	d.Logger.Info("model catalogue loaded",
		zap.String("default_model", cfg.Router.DefaultModel),
		zap.Strings("models", d.Models.ListModels()))
	d.initProviders()

	d.RateLimiter = ratelimit.NewService(d.Repos.RateLimits, ratelimit.Options{
		WindowSeconds: cfg.RateLimit.WindowSeconds,
		GCProbability: cfg.RateLimit.GCProbability,
		Plans:         ratelimit.NewPlanTable(cfg.RateLimit.PlanCeilings, cfg.RateLimit.SuspendedCeiling),
	}, d.Metrics, d.Logger)

	d.Retriever = retrieval.NewService(d.Repos.Documents, d.TextEmbedder, pageEmbedder, d.Reranker, retrieval.Options{
		TopK:              cfg.Retrieval.TopK,
		OverFetchFactor:   cfg.Retrieval.OverFetchFactor,
		MaxCandidates:     cfg.Retrieval.MaxCandidates,
		PageMinSimilarity: cfg.Retrieval.PageMinSimilarity,
		PageLimit:         cfg.Retrieval.PageLimit,
	}, d.Metrics, d.Logger)

	d.Router = routing.NewService(routing.Config{
		MaxAttempts: cfg.Router.MaxAttempts,
		Backoff:     cfg.Router.Backoff,
		MaxTokens:   cfg.Router.MaxTokens,
	}, d.Models, d.Usage, d.Metrics, d.Logger)

	d.Agent = agent.NewService(d.Repos.Tenants, d.RateLimiter, d.Retriever, d.Router, agent.Options{
		TopK:      cfg.Retrieval.TopK,
		PageLimit: cfg.Retrieval.PageLimit,
	}, d.Metrics, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initProviders registers the generation services that have credentials
func (d *Dependencies) initProviders() {
	cfg := d.Config.Providers

	if cfg.Anthropic.APIKey != "" {
		_ = d.Models.RegisterProvider(anthropic.NewAnthropicAdapter(providers.ProviderConfig{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
			Timeout: cfg.Anthropic.Timeout,
		}))
		d.Logger.Info("registered Anthropic provider")
	} else {
		d.Logger.Warn("primary provider not configured")
	}

	if cfg.OpenAI.APIKey != "" {
		_ = d.Models.RegisterProvider(openai.NewOpenAIAdapter(providers.ProviderConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Timeout: cfg.OpenAI.Timeout,
		}))
		d.Logger.Info("registered OpenAI provider")
	} else {
		d.Logger.Warn("secondary provider not configured, fallback disabled")
	}
}

func (d *Dependencies) initAuth() {
	if d.Config.Auth.JWTSecret == "" {
		d.Logger.Warn("JWT_SECRET not set, protected routes will reject every request")
	}
	validator := auth.NewValidator(d.Config.Auth.JWTSecret, d.Config.Auth.Issuer)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
}

// Start launches background workers
func (d *Dependencies) Start() error {
	if err := d.Usage.Start(); err != nil {
		return err
	}
	d.started = true
	return nil
}

// ProbeEmbeddings verifies the configured embedding dimensions against the
// live models
func (d *Dependencies) ProbeEmbeddings(ctx context.Context) error {
	if err := d.TextEmbedder.ProbeDimensions(ctx); err != nil {
		return err
	}
	if d.PageEmbedder != nil {
		return d.PageEmbedder.ProbeDimensions(ctx)
	}
	return nil
}

// ReadinessChecks returns the dependencies /readyz reports on
func (d *Dependencies) ReadinessChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"database": d.DB.HealthCheck,
	}
	if d.redisWindows != nil {
		checks["redis"] = d.redisWindows.Ping
	}
	return checks
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.started {
		timeout := d.Config.Server.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := d.Usage.Stop(timeout); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain usage records: %w", err))
		}
		d.started = false
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if d.factory != nil {
		if err := d.factory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
		d.factory = nil
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
