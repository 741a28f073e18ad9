package handlers

import (
	"errors"
	"net/http"

	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	details := services.GetErrorDetails(err)
	message := clientMessage(err)

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, message)

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, message, details)

	case services.IsUnauthorizedError(err):
		writeErr = utils.WriteUnauthorized(w, message)

	case services.IsForbiddenError(err):
		writeErr = utils.WriteForbidden(w, message)

	case services.IsRateLimitError(err):
		writeErr = utils.WriteTooManyRequests(w, utils.RateLimitResponse{
			RetryAfter: intDetail(details, "retry_after"),
			Limit:      intDetail(details, "limit"),
			Window:     intDetail(details, "window"),
			Plan:       stringDetail(details, "plan"),
		})

	case services.IsExternalError(err):
		logger.Warn("upstream service error", zap.Error(err))
		writeErr = utils.WriteBadGateway(w, message)

	case services.IsConfigurationError(err), services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}

// clientMessage returns the domain message without the wrapped cause
func clientMessage(err error) string {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

func intDetail(details map[string]interface{}, key string) int {
	switch v := details[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringDetail(details map[string]interface{}, key string) string {
	s, _ := details[key].(string)
	return s
}
