package middleware

import (
	"context"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/upb/rag-gateway/internal/auth"
	"github.com/upb/rag-gateway/internal/shared"
)

// Context key type to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the verified caller
	PrincipalKey contextKey = "principal"
)

// RequestIDHeader is echoed on every response
const RequestIDHeader = "X-Request-ID"

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	return shared.RequestID(ctx)
}

// GetPrincipalFromContext retrieves the verified caller from context
func GetPrincipalFromContext(ctx context.Context) *auth.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if p, ok := val.(*auth.Principal); ok {
			return p
		}
	}
	return nil
}

// WithPrincipal adds the verified caller to the context and tags the
// context with its tenant
func WithPrincipal(ctx context.Context, p *auth.Principal) context.Context {
	ctx = context.WithValue(ctx, PrincipalKey, p)
	return shared.WithTenantID(ctx, p.TenantID)
}

// RequestID copies chi's request id into the shared request context so
// services and usage records can see it. Must run after chi's RequestID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chimw.GetReqID(r.Context())
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(shared.WithRequestID(r.Context(), id)))
	})
}
