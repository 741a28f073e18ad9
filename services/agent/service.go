package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/internal/shared"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/services/events"
	"github.com/upb/rag-gateway/services/providers"
	"github.com/upb/rag-gateway/services/ratelimit"
	"github.com/upb/rag-gateway/services/rerank"
	"github.com/upb/rag-gateway/services/retrieval"
	"github.com/upb/rag-gateway/services/routing"
	"go.uber.org/zap"
)

const directPrompt = `You are a household document assistant. Document search is unavailable for this answer. Answer from the conversation only, and say plainly when the question needs the family's documents.`

// Options tunes the agent loop
type Options struct {
	TopK      int
	PageLimit int
}

// Service runs the tool-calling query pipeline
type Service struct {
	tenants   repositories.TenantRepository
	limiter   RateLimiter
	retriever Retriever
	router    Router
	opts      Options
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewService creates a new agent service
func NewService(tenants repositories.TenantRepository, limiter RateLimiter, retriever Retriever, router Router, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{
		tenants:   tenants,
		limiter:   limiter,
		retriever: retriever,
		router:    router,
		opts:      opts,
		metrics:   metrics,
		logger:    logger,
	}
}

// query is the state of one HandleQuery invocation
type query struct {
	req      *Request
	message  string
	history  []providers.Message
	decision *ratelimit.Decision

	sources   []models.RetrievalResult
	pages     []models.PageResult
	toolCalls []ToolCallSummary
	answer    string
	model     string
}

// conversation returns a fresh copy of the history followed by a user turn
func (q *query) conversation(user string) []providers.Message {
	out := make([]providers.Message, 0, len(q.history)+1)
	out = append(out, q.history...)
	return append(out, providers.Message{Role: providers.RoleUser, Content: user})
}

// HandleQuery answers one user message. Progress goes to emitter, which
// always receives exactly one terminal event: complete or error.
func (s *Service) HandleQuery(ctx context.Context, req *Request, emitter events.Emitter) (*Result, error) {
	if emitter == nil {
		emitter = events.Discard
	}
	ctx = shared.WithTenantID(ctx, req.TenantID)

	result, err := s.run(ctx, req, emitter)
	if err != nil {
		emitter.Emit(ctx, errorEvent(err))
		if services.IsRateLimitError(err) {
			s.metrics.RecordQuery("rate_limited")
		} else {
			s.metrics.RecordQuery("error")
			s.logger.Warn("query failed",
				zap.String("request_id", shared.RequestID(ctx)),
				zap.String("tenant_id", req.TenantID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	emitter.Emit(ctx, events.New(events.TypeComplete, "result", result))
	s.metrics.RecordQuery("success")
	return result, nil
}

func (s *Service) run(ctx context.Context, req *Request, emitter events.Emitter) (*Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, services.ErrEmptyQuery
	}

	tenant, err := s.tenants.GetByID(ctx, req.TenantID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTenantNotFound.Wrap(nil).
				WithDetail("tenant_id", req.TenantID.String())
		}
		return nil, services.WrapInternal("tenant lookup failed", err)
	}

	decision, err := s.limiter.CheckTenant(ctx, tenant, ratelimit.EndpointQuery)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.logger.Info("query rejected by rate limiter",
			zap.String("request_id", shared.RequestID(ctx)),
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("plan", decision.Plan),
			zap.Int("retry_after", decision.RetryAfter))
		return nil, services.NewRateLimitError(decision.RetryAfter, decision.Limit, decision.WindowSeconds, decision.Plan)
	}

	emitter.Emit(ctx, events.New(events.TypeThinking, "status", events.StatusStarted))

	q := &query{
		req:      req,
		message:  message,
		history:  historyMessages(req.History),
		decision: decision,
	}

	route := s.router.NewRoute(req.Model)
	s.logger.Debug("route resolved",
		zap.String("request_id", shared.RequestID(ctx)),
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("model", route.Model.ID),
		zap.Bool("tools", route.Model.SupportsTools))

	if route.Model.SupportsTools && !req.SingleShot {
		err = s.answerWithTools(ctx, q, route, emitter)
	} else {
		err = s.answerWithContext(ctx, q, route, emitter)
	}
	if err != nil {
		return nil, err
	}

	return s.buildResult(q), nil
}

// answerWithTools is the two-call tool loop
func (s *Service) answerWithTools(ctx context.Context, q *query, route *routing.Route, emitter events.Emitter) error {
	messages := q.conversation(q.message)

	first, err := s.generate(ctx, route, &providers.CompletionRequest{
		System:     systemPrompt,
		Messages:   messages,
		Tools:      toolDeclarations(),
		ToolChoice: providers.ToolChoiceAuto,
	})
	if err != nil {
		return err
	}

	// the fallback call ran without tools; search up front instead
	if first.FellBack {
		return s.answerWithContext(ctx, q, route, emitter)
	}

	if len(first.ToolCalls) == 0 {
		s.emitAnswer(ctx, emitter, q, first)
		return nil
	}

	parsed := make([]toolArgs, len(first.ToolCalls))
	for i, call := range first.ToolCalls {
		args, err := parseToolArgs(call)
		if err != nil {
			s.logger.Warn("malformed tool call, answering without tools",
				zap.String("request_id", shared.RequestID(ctx)),
				zap.String("tool", call.Name),
				zap.Error(err))
			return s.answerDirect(ctx, q, route, emitter)
		}
		parsed[i] = args
	}

	messages = append(messages, providers.Message{
		Role:      providers.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	for i, call := range first.ToolCalls {
		content, err := s.executeTool(ctx, q, call.Name, parsed[i], emitter)
		if err != nil {
			return err
		}
		messages = append(messages, providers.Message{
			Role:       providers.RoleTool,
			ToolCallID: call.ID,
			Content:    content,
		})
	}

	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusStarted))
	second, err := s.generate(ctx, route, &providers.CompletionRequest{
		System:     systemPrompt,
		Messages:   messages,
		Tools:      toolDeclarations(),
		ToolChoice: providers.ToolChoiceNone,
	})
	if err != nil {
		return err
	}

	q.answer = second.Content
	q.model = second.Label
	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusComplete, "content", q.answer))
	return nil
}

// answerWithContext runs one implicit document search on the raw message,
// then a single generation call with the results inlined
func (s *Service) answerWithContext(ctx context.Context, q *query, route *routing.Route, emitter events.Emitter) error {
	if _, err := s.executeTool(ctx, q, ToolSearchDocuments, toolArgs{Query: q.message}, emitter); err != nil {
		return err
	}

	// single-shot tier selection, unless the caller pinned a model or the
	// route is already sticky on the secondary
	if q.req.Model == "" && !route.Fallback {
		route.Model = s.router.SelectForRelevance(topRelevance(q.sources))
		s.logger.Debug("single-shot model selected",
			zap.String("request_id", shared.RequestID(ctx)),
			zap.String("model", route.Model.ID))
	}

	messages := q.conversation(contextBlock(q.sources) + "\n\nQuestion: " + q.message)

	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusStarted))
	resp, err := s.generate(ctx, route, &providers.CompletionRequest{
		System:   contextPrompt,
		Messages: messages,
	})
	if err != nil {
		return err
	}

	q.answer = resp.Content
	q.model = resp.Label
	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusComplete, "content", q.answer))
	return nil
}

// answerDirect drops all tool context and answers from the conversation
func (s *Service) answerDirect(ctx context.Context, q *query, route *routing.Route, emitter events.Emitter) error {
	q.sources = nil
	q.pages = nil
	q.toolCalls = nil

	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusStarted))
	resp, err := s.generate(ctx, route, &providers.CompletionRequest{
		System:   directPrompt,
		Messages: q.conversation(q.message),
	})
	if err != nil {
		return err
	}

	q.answer = resp.Content
	q.model = resp.Label
	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusComplete, "content", q.answer))
	return nil
}

func (s *Service) emitAnswer(ctx context.Context, emitter events.Emitter, q *query, resp *routing.Result) {
	q.answer = resp.Content
	q.model = resp.Label
	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusStarted))
	emitter.Emit(ctx, events.New(events.TypeAnswer, "status", events.StatusComplete, "content", q.answer))
}

// executeTool runs one tool call to completion and returns the tool message content
func (s *Service) executeTool(ctx context.Context, q *query, name string, args toolArgs, emitter events.Emitter) (string, error) {
	q.toolCalls = append(q.toolCalls, ToolCallSummary{Name: name, Query: args.Query})
	s.metrics.RecordToolCall(name)

	switch name {
	case ToolVisualSearch:
		started := events.New(events.TypeVisualSearch, "status", events.StatusStarted, "query", args.Query)
		if args.DocumentID != nil {
			started.Data["document_id"] = args.DocumentID.String()
		}
		emitter.Emit(ctx, started)

		pages, err := s.retriever.SearchPages(ctx, retrieval.PageQuery{
			Text:       args.Query,
			TenantID:   q.req.TenantID,
			Viewer:     q.req.Viewer,
			DocumentID: args.DocumentID,
			Limit:      s.opts.PageLimit,
		})
		if services.IsNotFoundError(err) {
			msg := "document not found"
			if args.DocumentID != nil {
				msg = fmt.Sprintf("document %s not found", args.DocumentID.String())
			}
			emitter.Emit(ctx, events.New(events.TypeVisualSearch,
				"status", events.StatusComplete, "count", 0, "sources", []models.PageResult{}, "error", msg))
			return toolResultContent(map[string]string{"error": msg}), nil
		}
		if err != nil {
			return "", err
		}

		q.pages = append(q.pages, pages...)
		emitter.Emit(ctx, events.New(events.TypeVisualSearch,
			"status", events.StatusComplete, "count", len(pages), "sources", pages))
		return toolResultContent(map[string]interface{}{"pages": pages}), nil

	default:
		emitter.Emit(ctx, events.New(events.TypeSearch, "status", events.StatusStarted, "query", args.Query))

		results, err := s.retriever.Retrieve(ctx, retrieval.Query{
			Text:     args.Query,
			TenantID: q.req.TenantID,
			Viewer:   q.req.Viewer,
			TopK:     s.opts.TopK,
		})
		if err != nil {
			return "", err
		}

		q.sources = append(q.sources, results...)
		emitter.Emit(ctx, events.New(events.TypeSearch,
			"status", events.StatusComplete, "count", len(results), "sources", results))
		return toolResultContent(map[string]interface{}{"results": toolDocuments(results)}), nil
	}
}

// generate calls the router and classifies failures
func (s *Service) generate(ctx context.Context, route *routing.Route, req *providers.CompletionRequest) (*routing.Result, error) {
	resp, err := s.router.Generate(ctx, route, req)
	if err != nil {
		if services.GetErrorType(err) != "" {
			return nil, err
		}
		return nil, services.ErrProviderUnavailable.Wrap(err)
	}
	return resp, nil
}

func (s *Service) buildResult(q *query) *Result {
	sources := dedupeSources(q.sources)
	scores := make([]float64, len(sources))
	for i, src := range sources {
		scores[i] = src.Relevance
	}

	sessionID := q.req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	toolCalls := q.toolCalls
	if toolCalls == nil {
		toolCalls = []ToolCallSummary{}
	}

	return &Result{
		Answer:      q.answer,
		Sources:     sources,
		PageSources: dedupePages(q.pages),
		ToolCalls:   toolCalls,
		Confidence:  rerank.Confidence(scores),
		SessionID:   sessionID,
		Model:       q.model,
		RateLimit: RateLimitInfo{
			Remaining: q.decision.Remaining,
			Limit:     q.decision.Limit,
			Window:    q.decision.WindowSeconds,
			Plan:      q.decision.Plan,
		},
	}
}

// dedupeSources keeps the highest relevance per document, sorted descending
func dedupeSources(in []models.RetrievalResult) []models.RetrievalResult {
	out := make([]models.RetrievalResult, 0, len(in))
	index := make(map[uuid.UUID]int, len(in))
	for _, r := range in {
		if i, ok := index[r.DocumentID]; ok {
			if r.Relevance > out[i].Relevance {
				out[i] = r
			}
			continue
		}
		index[r.DocumentID] = len(out)
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// dedupePages keeps the highest similarity per page, sorted descending
func dedupePages(in []models.PageResult) []models.PageResult {
	out := make([]models.PageResult, 0, len(in))
	index := make(map[uuid.UUID]int, len(in))
	for _, p := range in {
		if i, ok := index[p.PageID]; ok {
			if p.Similarity > out[i].Similarity {
				out[i] = p
			}
			continue
		}
		index[p.PageID] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// historyMessages keeps user and assistant turns only
func historyMessages(turns []Turn) []providers.Message {
	out := make([]providers.Message, 0, len(turns))
	for _, t := range turns {
		if t.Role != providers.RoleUser && t.Role != providers.RoleAssistant {
			continue
		}
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		out = append(out, providers.Message{Role: t.Role, Content: t.Content})
	}
	return out
}

func topRelevance(sources []models.RetrievalResult) float64 {
	top := 0.0
	for _, src := range sources {
		if src.Relevance > top {
			top = src.Relevance
		}
	}
	return top
}

func contextBlock(sources []models.RetrievalResult) string {
	if len(sources) == 0 {
		return "Documents: none found."
	}
	var b strings.Builder
	b.WriteString("Documents:")
	for i, src := range sources {
		fmt.Fprintf(&b, "\n[%d] %s (%s): %s", i+1, src.Title, src.Category, excerpt(src))
		if len(src.KeyData) > 0 {
			if raw, err := json.Marshal(src.KeyData); err == nil {
				fmt.Fprintf(&b, "\n    Key data: %s", raw)
			}
		}
	}
	return b.String()
}

// errorEvent renders a failure as the terminal error event
func errorEvent(err error) events.Event {
	if services.IsRateLimitError(err) {
		details := services.GetErrorDetails(err)
		return events.New(events.TypeError,
			"message", "rate_limit_exceeded",
			"retry_after", details["retry_after"],
			"limit", details["limit"],
			"window", details["window"],
			"plan", details["plan"])
	}

	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		e := events.New(events.TypeError, "message", domainErr.Message, "type", string(domainErr.Type))
		if id, ok := domainErr.Details["tenant_id"]; ok {
			e.Data["tenant_id"] = id
		}
		return e
	}
	return events.New(events.TypeError, "message", "internal server error", "type", string(services.ErrorTypeInternal))
}
