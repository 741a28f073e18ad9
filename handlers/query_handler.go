package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/upb/rag-gateway/middleware"
	"github.com/upb/rag-gateway/services/agent"
	"github.com/upb/rag-gateway/services/events"
	"github.com/upb/rag-gateway/utils"
	"go.uber.org/zap"
)

const maxQueryBodyBytes = 256 << 10

// QueryRequest is the body of POST /api/v1/query. Tenant and member come
// from the verified token, never from here.
type QueryRequest struct {
	Message             string       `json:"message" validate:"required,max=8000"`
	SessionID           string       `json:"session_id,omitempty" validate:"max=128"`
	ConversationHistory []agent.Turn `json:"conversation_history,omitempty" validate:"max=50,dive"`
	Model               string       `json:"model,omitempty" validate:"max=100"`
	Stream              *bool        `json:"stream,omitempty"`
	SingleShot          bool         `json:"single_shot,omitempty"`
}

// Streaming reports whether the caller wants SSE. Defaults to true.
func (r *QueryRequest) Streaming() bool {
	return r.Stream == nil || *r.Stream
}

// QueryService runs the query pipeline
type QueryService interface {
	HandleQuery(ctx context.Context, req *agent.Request, emitter events.Emitter) (*agent.Result, error)
}

// QueryHandler handles query requests
type QueryHandler struct {
	service QueryService
	logger  *zap.Logger
}

// NewQueryHandler creates a new QueryHandler
func NewQueryHandler(service QueryService, logger *zap.Logger) *QueryHandler {
	return &QueryHandler{
		service: service,
		logger:  logger,
	}
}

// HandleQuery handles POST /api/v1/query
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	principal := middleware.GetPrincipalFromContext(ctx)
	if principal == nil {
		h.logger.Error("missing principal in context",
			zap.String("request_id", requestID))
		_ = utils.WriteUnauthorized(w, "Missing tenant information")
		return
	}

	var body QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQueryBodyBytes)).Decode(&body); err != nil {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&body); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	req := &agent.Request{
		Message:    body.Message,
		TenantID:   principal.TenantID,
		SessionID:  body.SessionID,
		History:    body.ConversationHistory,
		Viewer:     principal.Viewer,
		Model:      body.Model,
		SingleShot: body.SingleShot,
	}

	h.logger.Debug("processing query",
		zap.String("request_id", requestID),
		zap.String("tenant_id", principal.TenantID.String()),
		zap.String("model", body.Model),
		zap.Bool("stream", body.Streaming()))

	if body.Streaming() {
		h.stream(ctx, w, req, requestID)
		return
	}

	result, err := h.service.HandleQuery(ctx, req, nil)
	if err != nil {
		h.logger.Info("query failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// stream runs the pipeline with events written as SSE. Failures arrive as
// a terminal error event, so the HTTP status is always 200 once the stream
// has started.
func (h *QueryHandler) stream(ctx context.Context, w http.ResponseWriter, req *agent.Request, requestID string) {
	sse, err := utils.NewSSEWriter(w)
	if err != nil {
		h.logger.Error("streaming unsupported",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Streaming unsupported")
		return
	}

	if _, err := h.service.HandleQuery(ctx, req, sse); err != nil {
		h.logger.Info("streamed query failed",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
	if err := sse.Err(); err != nil {
		h.logger.Warn("event stream interrupted",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}
