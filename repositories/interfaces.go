package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/models"
)

// ErrNotFound is returned by point lookups when no row matches
var ErrNotFound = errors.New("record not found")

// DocumentSearch describes a tenant-scoped nearest-neighbour query over
// document text embeddings
type DocumentSearch struct {
	TenantID  uuid.UUID
	Embedding []float32
	Viewer    models.Viewer
	Limit     int
}

// PageSearch describes a nearest-neighbour query over page image embeddings
type PageSearch struct {
	TenantID      uuid.UUID
	Embedding     []float32
	Viewer        models.Viewer
	DocumentID    *uuid.UUID
	MinSimilarity float64
	Limit         int
}

// DocumentRepository is the read-only document store
type DocumentRepository interface {
	// SearchDocuments returns candidates ordered by ascending cosine distance.
	// Only documents the viewer may see are returned.
	SearchDocuments(ctx context.Context, q DocumentSearch) ([]*models.DocumentMatch, error)

	// SearchPages returns page hits ordered by descending similarity, at or
	// above MinSimilarity, whose parent document the viewer may see.
	SearchPages(ctx context.Context, q PageSearch) ([]*models.PageMatch, error)

	// GetByID retrieves a document of the tenant. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Document, error)
}

// TenantRepository handles tenant lookups
type TenantRepository interface {
	// GetByID retrieves a tenant by ID. Returns ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// RateLimitStore persists fixed-window counters
type RateLimitStore interface {
	// Increment atomically creates or bumps the (tenant, endpoint, window) counter
	// and returns the post-increment count in one round trip.
	Increment(ctx context.Context, tenantID uuid.UUID, endpoint string, windowStart time.Time, windowSeconds int) (int, error)

	// DeleteBefore removes windows that started before cutoff and returns how many were removed
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UsageRepository is the append-only usage sink
type UsageRepository interface {
	// Insert appends a usage record
	Insert(ctx context.Context, rec *models.UsageRecord) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Documents  DocumentRepository
	Tenants    TenantRepository
	RateLimits RateLimitStore
	Usage      UsageRepository
}
