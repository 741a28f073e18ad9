package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/internal/auth"
	"github.com/upb/rag-gateway/internal/shared"
	"github.com/upb/rag-gateway/models"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*auth.Principal, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.Principal), args.Error(1)
}

func TestRequireAuth(t *testing.T) {
	logger := zap.NewNop()

	t.Run("valid token puts principal and tenant in context", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		memberID := uuid.New()
		principal := &auth.Principal{
			Subject:  "user-123",
			TenantID: uuid.New(),
			Viewer:   models.Viewer{MemberType: models.MemberTypeChild, MemberID: &memberID},
		}
		mockValidator.On("ValidateToken", mock.Anything, "valid-token").Return(principal, nil)

		called := false
		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			got := GetPrincipalFromContext(r.Context())
			require.NotNil(t, got)
			assert.Equal(t, principal.Viewer, got.Viewer)

			tenantID, ok := shared.TenantID(r.Context())
			assert.True(t, ok)
			assert.Equal(t, principal.TenantID, tenantID)
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodPost, "/api/v1/query", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.True(t, called)
		assert.Equal(t, http.StatusOK, w.Code)
		mockValidator.AssertExpectations(t)
	})

	t.Run("lowercase scheme accepted", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)
		mockValidator.On("ValidateToken", mock.Anything, "tok").Return(&auth.Principal{TenantID: uuid.New()}, nil)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "bearer tok")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	rejected := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "no token", header: "InvalidFormat"},
	}
	for _, tt := range rejected {
		t.Run(tt.name+" returns 401", func(t *testing.T) {
			mockValidator := new(MockTokenValidator)
			middleware := NewAuthMiddleware(mockValidator, logger)

			handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			mockValidator.AssertNotCalled(t, "ValidateToken")
		})
	}

	t.Run("expired token returns 401", func(t *testing.T) {
		mockValidator := new(MockTokenValidator)
		middleware := NewAuthMiddleware(mockValidator, logger)

		mockValidator.On("ValidateToken", mock.Anything, "expired-token").
			Return(nil, auth.ErrTokenExpired)

		handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		}))

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Authorization", "Bearer expired-token")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		mockValidator.AssertExpectations(t)
	})
}

func TestRequireAuth_RealValidator(t *testing.T) {
	tenantID := uuid.New()
	token, err := auth.Sign("secret", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		TenantID:         tenantID.String(),
		MemberType:       "admin",
	})
	require.NoError(t, err)

	middleware := NewAuthMiddleware(auth.NewValidator("secret", ""), zap.NewNop())
	handler := middleware.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipalFromContext(r.Context())
		require.NotNil(t, p)
		assert.Equal(t, tenantID, p.TenantID)
		assert.True(t, p.Viewer.IsAdmin())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestID(t *testing.T) {
	var seen string
	handler := chimw.RequestID(RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestIDFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set(RequestIDHeader, "req-abc")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, "req-abc", seen)
	assert.Equal(t, "req-abc", w.Header().Get(RequestIDHeader))
}

func TestGetPrincipalFromContext_Missing(t *testing.T) {
	assert.Nil(t, GetPrincipalFromContext(context.Background()))
}
