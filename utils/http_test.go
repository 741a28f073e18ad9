package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		w := httptest.NewRecorder()
		data := map[string]string{"message": "test"}

		err := WriteJSON(w, http.StatusOK, data)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response map[string]string
		err = json.NewDecoder(w.Body).Decode(&response)
		require.NoError(t, err)
		assert.Equal(t, "test", response["message"])
	})

	t.Run("nil data", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteJSON(w, http.StatusNoContent, nil)
		require.NoError(t, err)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}

func TestWriteOK(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"answer": "ABC123456"}

	err := WriteOK(w, data)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, w.Code)

	var response SuccessResponse
	err = json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)

	dataMap := response.Data.(map[string]interface{})
	assert.Equal(t, "ABC123456", dataMap["answer"])
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]interface{}{"message": "message is required"}

	err := WriteBadRequest(w, "Validation failed", details)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response ErrorResponse
	err = json.NewDecoder(w.Body).Decode(&response)
	require.NoError(t, err)

	assert.Equal(t, "bad_request", response.Error)
	assert.Equal(t, "Validation failed", response.Message)
	assert.Equal(t, "message is required", response.Details["message"])
}

func TestWriteDefaultMessages(t *testing.T) {
	tests := []struct {
		name    string
		write   func(w http.ResponseWriter) error
		status  int
		errType string
		message string
	}{
		{
			name:    "unauthorized",
			write:   func(w http.ResponseWriter) error { return WriteUnauthorized(w, "") },
			status:  http.StatusUnauthorized,
			errType: "unauthorized",
			message: "Authentication required",
		},
		{
			name:    "forbidden",
			write:   func(w http.ResponseWriter) error { return WriteForbidden(w, "") },
			status:  http.StatusForbidden,
			errType: "forbidden",
			message: "Access forbidden",
		},
		{
			name:    "not found",
			write:   func(w http.ResponseWriter) error { return WriteNotFound(w, "") },
			status:  http.StatusNotFound,
			errType: "not_found",
			message: "Resource not found",
		},
		{
			name:    "bad gateway",
			write:   func(w http.ResponseWriter) error { return WriteBadGateway(w, "") },
			status:  http.StatusBadGateway,
			errType: "bad_gateway",
			message: "Upstream service unavailable",
		},
		{
			name:    "internal",
			write:   func(w http.ResponseWriter) error { return WriteInternalServerError(w, "") },
			status:  http.StatusInternalServerError,
			errType: "internal_error",
			message: "Internal server error",
		},
		{
			name:    "custom message kept",
			write:   func(w http.ResponseWriter) error { return WriteNotFound(w, "tenant not found") },
			status:  http.StatusNotFound,
			errType: "not_found",
			message: "tenant not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			require.NoError(t, tt.write(w))

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.errType, response.Error)
			assert.Equal(t, tt.message, response.Message)
		})
	}
}

func TestWriteTooManyRequests(t *testing.T) {
	t.Run("flat body and Retry-After header", func(t *testing.T) {
		w := httptest.NewRecorder()

		err := WriteTooManyRequests(w, RateLimitResponse{RetryAfter: 1800, Limit: 100, Window: 3600, Plan: "family"})
		require.NoError(t, err)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1800", w.Header().Get("Retry-After"))

		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "rate_limit_exceeded", response["error"])
		assert.Equal(t, float64(1800), response["retry_after"])
		assert.Equal(t, float64(100), response["limit"])
		assert.Equal(t, float64(3600), response["window"])
		assert.Equal(t, "family", response["plan"])
	})

	t.Run("no header without retry after", func(t *testing.T) {
		w := httptest.NewRecorder()

		require.NoError(t, WriteTooManyRequests(w, RateLimitResponse{}))
		assert.Empty(t, w.Header().Get("Retry-After"))
	})
}

func TestWriteServiceUnavailable(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteServiceUnavailable(w, "not ready", map[string]interface{}{"database": "down"})
	require.NoError(t, err)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "service_unavailable", response.Error)
	assert.Equal(t, "down", response.Details["database"])
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name              string
		status            int
		expectedErrorType string
	}{
		{name: "bad request", status: http.StatusBadRequest, expectedErrorType: "bad_request"},
		{name: "unauthorized", status: http.StatusUnauthorized, expectedErrorType: "unauthorized"},
		{name: "forbidden", status: http.StatusForbidden, expectedErrorType: "forbidden"},
		{name: "not found", status: http.StatusNotFound, expectedErrorType: "not_found"},
		{name: "rate limit", status: http.StatusTooManyRequests, expectedErrorType: "rate_limit_exceeded"},
		{name: "bad gateway", status: http.StatusBadGateway, expectedErrorType: "bad_gateway"},
		{name: "unavailable", status: http.StatusServiceUnavailable, expectedErrorType: "service_unavailable"},
		{name: "unknown status defaults to internal error", status: http.StatusTeapot, expectedErrorType: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			err := WriteError(w, tt.status, "message", nil)
			require.NoError(t, err)

			assert.Equal(t, tt.status, w.Code)

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedErrorType, response.Error)
			assert.Equal(t, "message", response.Message)
		})
	}
}
