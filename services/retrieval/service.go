package retrieval

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/internal/shared"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/repositories"
	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/services/embedding"
	"go.uber.org/zap"
)

const (
	defaultTopK              = 5
	defaultOverFetchFactor   = 3
	defaultMaxCandidates     = 50
	defaultPageMinSimilarity = 0.3
	defaultPageLimit         = 5
	snippetRunes             = 300
)

// Reranker orders candidates by relevance to the query
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []*models.DocumentMatch, topN int) []models.RetrievalResult
}

// Options tunes candidate counts
type Options struct {
	TopK              int
	OverFetchFactor   int
	MaxCandidates     int
	PageMinSimilarity float64
	PageLimit         int
}

// Query is a document search request
type Query struct {
	Text     string
	TenantID uuid.UUID
	Viewer   models.Viewer
	TopK     int
}

// PageQuery is a page image search request
type PageQuery struct {
	Text          string
	TenantID      uuid.UUID
	Viewer        models.Viewer
	DocumentID    *uuid.UUID
	MinSimilarity float64
	Limit         int
}

// Service runs visibility-filtered vector retrieval
type Service struct {
	docs         repositories.DocumentRepository
	textEmbedder embedding.Embedder
	pageEmbedder embedding.Embedder
	reranker     Reranker
	opts         Options
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewService creates a retrieval service. pageEmbedder may be nil, in which
// case page search uses the text embedder.
func NewService(docs repositories.DocumentRepository, textEmbedder, pageEmbedder embedding.Embedder, reranker Reranker, opts Options, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.OverFetchFactor <= 0 {
		opts.OverFetchFactor = defaultOverFetchFactor
	}
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = defaultMaxCandidates
	}
	if opts.PageMinSimilarity <= 0 {
		opts.PageMinSimilarity = defaultPageMinSimilarity
	}
	if opts.PageLimit <= 0 {
		opts.PageLimit = defaultPageLimit
	}
	if pageEmbedder == nil {
		pageEmbedder = textEmbedder
	}

	return &Service{
		docs:         docs,
		textEmbedder: textEmbedder,
		pageEmbedder: pageEmbedder,
		reranker:     reranker,
		opts:         opts,
		metrics:      metrics,
		logger:       logger,
	}
}

// CandidateLimit is how many nearest neighbours are fetched for topK results
func (s *Service) CandidateLimit(topK int) int {
	n := topK * s.opts.OverFetchFactor
	if n > s.opts.MaxCandidates {
		n = s.opts.MaxCandidates
	}
	return n
}

// Retrieve embeds the query, fetches visible candidates and reranks them
func (s *Service) Retrieve(ctx context.Context, q Query) ([]models.RetrievalResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, services.ErrEmptyQuery
	}
	topK := q.TopK
	if topK <= 0 {
		topK = s.opts.TopK
	}

	vec, err := s.embed(ctx, s.textEmbedder, text)
	if err != nil {
		return nil, err
	}

	matches, err := s.docs.SearchDocuments(ctx, repositories.DocumentSearch{
		TenantID:  q.TenantID,
		Embedding: vec,
		Viewer:    q.Viewer,
		Limit:     s.CandidateLimit(topK),
	})
	if err != nil {
		return nil, services.WrapInternal("document search failed", err)
	}

	visible := matches[:0]
	for _, m := range matches {
		if m != nil && q.Viewer.AllowsDocument(m.Document) {
			visible = append(visible, m)
		}
	}
	if dropped := len(matches) - len(visible); dropped > 0 {
		s.logger.Warn("search returned documents the viewer may not see",
			zap.String("request_id", shared.RequestID(ctx)),
			zap.Int("dropped", dropped))
	}

	results := s.reranker.Rerank(ctx, text, visible, topK)
	s.metrics.RecordRetrievalResults(len(results))

	s.logger.Debug("documents retrieved",
		zap.String("request_id", shared.RequestID(ctx)),
		zap.String("tenant_id", q.TenantID.String()),
		zap.Int("candidates", len(visible)),
		zap.Int("results", len(results)))
	return results, nil
}

// SearchPages finds page images matching the query. A DocumentID scope must
// name a document the viewer can see.
func (s *Service) SearchPages(ctx context.Context, q PageQuery) ([]models.PageResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, services.ErrEmptyQuery
	}
	minSimilarity := q.MinSimilarity
	if minSimilarity <= 0 {
		minSimilarity = s.opts.PageMinSimilarity
	}
	limit := q.Limit
	if limit <= 0 {
		limit = s.opts.PageLimit
	}

	if q.DocumentID != nil {
		doc, err := s.docs.GetByID(ctx, q.TenantID, *q.DocumentID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("document lookup failed", err)
		}
		if err != nil || !q.Viewer.AllowsDocument(doc) {
			return nil, services.ErrDocumentNotFound.Wrap(nil).
				WithDetail("document_id", q.DocumentID.String())
		}
	}

	vec, err := s.embed(ctx, s.pageEmbedder, text)
	if err != nil {
		return nil, err
	}

	matches, err := s.docs.SearchPages(ctx, repositories.PageSearch{
		TenantID:      q.TenantID,
		Embedding:     vec,
		Viewer:        q.Viewer,
		DocumentID:    q.DocumentID,
		MinSimilarity: minSimilarity,
		Limit:         limit,
	})
	if err != nil {
		return nil, services.WrapInternal("page search failed", err)
	}

	results := make([]models.PageResult, 0, len(matches))
	for _, m := range matches {
		if m == nil || m.Page == nil || !q.Viewer.Allows(m.ParentVisibility, m.ParentAssignedTo) {
			continue
		}
		if m.Similarity < minSimilarity {
			continue
		}
		results = append(results, models.PageResult{
			PageID:        m.Page.ID,
			DocumentID:    m.Page.DocumentID,
			DocumentTitle: m.DocumentTitle,
			PageNumber:    m.Page.PageNumber,
			ImageURL:      m.Page.ImageURL,
			Snippet:       truncateRunes(m.Page.OCRText, snippetRunes),
			Similarity:    m.Similarity,
		})
	}

	s.logger.Debug("pages retrieved",
		zap.String("request_id", shared.RequestID(ctx)),
		zap.String("tenant_id", q.TenantID.String()),
		zap.Int("results", len(results)))
	return results, nil
}

// embed calls the embedder; failures are fatal to the query
func (s *Service) embed(ctx context.Context, e embedding.Embedder, text string) ([]float32, error) {
	vec, err := e.Embed(ctx, text)
	if err != nil {
		if services.GetErrorType(err) != "" {
			return nil, err
		}
		return nil, services.ErrEmbeddingFailed.Wrap(err)
	}
	return vec, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
