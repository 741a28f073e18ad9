package shared

import (
	"context"

	"github.com/google/uuid"
)

// Context keys for request-scoped data. Keep types unexported to avoid collisions.
type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request-id"
	ctxKeyTenantID  ctxKey = "tenant-id"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

// WithTenantID tags the context so that usage records written deep in the
// call stack can be attributed to the tenant.
func WithTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, id)
}

func TenantID(ctx context.Context) (uuid.UUID, bool) {
	v, ok := ctx.Value(ctxKeyTenantID).(uuid.UUID)
	return v, ok
}
