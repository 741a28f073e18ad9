package agent

import (
	"context"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/services/providers"
	"github.com/upb/rag-gateway/services/ratelimit"
	"github.com/upb/rag-gateway/services/retrieval"
	"github.com/upb/rag-gateway/services/routing"
)

// RateLimiter admits or rejects a tenant's request
type RateLimiter interface {
	CheckTenant(ctx context.Context, tenant *models.Tenant, endpoint string) (*ratelimit.Decision, error)
}

// Retriever runs document and page searches for a viewer
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]models.RetrievalResult, error)
	SearchPages(ctx context.Context, q retrieval.PageQuery) ([]models.PageResult, error)
}

// Router drives generation calls over a per-query route
type Router interface {
	NewRoute(requested string) *routing.Route
	SelectForRelevance(top float64) providers.ModelInfo
	Generate(ctx context.Context, route *routing.Route, req *providers.CompletionRequest) (*routing.Result, error)
}

// Turn is one prior conversation message supplied by the caller
type Turn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// Request is a single query against a tenant's documents
type Request struct {
	Message   string
	TenantID  uuid.UUID
	SessionID string
	History   []Turn
	Viewer    models.Viewer
	Model     string

	// SingleShot skips the tool loop: one implicit search, one generation
	// call. Without an explicit Model the top relevance picks the tier.
	SingleShot bool
}

// ToolCallSummary names a tool the model invoked and its query
type ToolCallSummary struct {
	Name  string `json:"name"`
	Query string `json:"query"`
}

// RateLimitInfo reports the caller's remaining budget
type RateLimitInfo struct {
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Window    int    `json:"window"`
	Plan      string `json:"plan"`
}

// Result is the answer to a query with its supporting sources
type Result struct {
	Answer      string                   `json:"answer"`
	Sources     []models.RetrievalResult `json:"sources"`
	PageSources []models.PageResult      `json:"page_sources"`
	ToolCalls   []ToolCallSummary        `json:"tool_calls"`
	Confidence  float64                  `json:"confidence"`
	SessionID   string                   `json:"session_id"`
	Model       string                   `json:"model"`
	RateLimit   RateLimitInfo            `json:"rate_limit"`
}
