package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/utils"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{
			name:            "not found error",
			err:             services.ErrTenantNotFound,
			expectedStatus:  http.StatusNotFound,
			expectedError:   "not_found",
			expectedMessage: "tenant not found",
		},
		{
			name:            "validation error",
			err:             services.ErrEmptyQuery,
			expectedStatus:  http.StatusBadRequest,
			expectedError:   "bad_request",
			expectedMessage: "query cannot be empty",
		},
		{
			name:           "unauthorized error",
			err:            services.NewDomainError(services.ErrorTypeUnauthorized, "unauthorized", nil),
			expectedStatus: http.StatusUnauthorized,
			expectedError:  "unauthorized",
		},
		{
			name:           "forbidden error",
			err:            services.NewDomainError(services.ErrorTypeForbidden, "access forbidden", nil),
			expectedStatus: http.StatusForbidden,
			expectedError:  "forbidden",
		},
		{
			name:            "external error hides cause",
			err:             services.WrapExternal("generation provider unavailable", errors.New("dial tcp: refused")),
			expectedStatus:  http.StatusBadGateway,
			expectedError:   "bad_gateway",
			expectedMessage: "generation provider unavailable",
		},
		{
			name:            "configuration error",
			err:             services.ErrDimensionMismatch,
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "An internal error occurred",
		},
		{
			name:            "internal error",
			err:             services.WrapInternal("failed to load tenant", errors.New("conn reset")),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "An internal error occurred",
		},
		{
			name:            "unknown error",
			err:             errors.New("boom"),
			expectedStatus:  http.StatusInternalServerError,
			expectedError:   "internal_error",
			expectedMessage: "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			if tt.expectedMessage != "" {
				assert.Equal(t, tt.expectedMessage, response.Message)
			}
		})
	}
}

func TestHandleServiceError_RateLimit(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, services.NewRateLimitError(1200, 100, 3600, "family"), zap.NewNop())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1200", w.Header().Get("Retry-After"))

	var response utils.RateLimitResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, utils.RateLimitResponse{
		Error:      "rate_limit_exceeded",
		RetryAfter: 1200,
		Limit:      100,
		Window:     3600,
		Plan:       "family",
	}, response)
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()
	HandleServiceError(w, nil, zap.NewNop())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHandleValidationError(t *testing.T) {
	t.Run("field errors become details", func(t *testing.T) {
		w := httptest.NewRecorder()
		err := &utils.ValidationError{Message: "Validation failed", Fields: map[string]string{"message": "message is required"}}

		HandleValidationError(w, err, zap.NewNop())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "message is required", response.Details["message"])
	})

	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()

		HandleValidationError(w, errors.New("bad json"), zap.NewNop())

		var response utils.ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "bad json", response.Message)
	})
}
