package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/upb/rag-gateway/internal/observability"
	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/services/usage"
	"go.uber.org/zap"
)

const (
	defaultContentChars = 1000
	snippetChars        = 300
)

// Degradation reasons reported in metrics and logs
const (
	reasonDisabled    = "disabled"
	reasonBreakerOpen = "breaker_open"
	reasonError       = "error"
)

// Options configures the rerank Service
type Options struct {
	ContentChars int
}

// Service orders retrieval candidates by calibrated relevance. It never
// fails: when the remote scorer is unavailable it falls back to a
// similarity derived from vector distance.
type Service struct {
	scorer       Scorer
	breaker      *gobreaker.CircuitBreaker
	contentChars int
	usage        usage.Recorder
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewService creates a rerank Service. A nil scorer disables remote reranking.
func NewService(scorer Scorer, opts Options, recorder usage.Recorder, metrics *observability.Metrics, logger *zap.Logger) *Service {
	if opts.ContentChars <= 0 {
		opts.ContentChars = defaultContentChars
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "Reranker",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Service{
		scorer:       scorer,
		breaker:      breaker,
		contentChars: opts.ContentChars,
		usage:        recorder,
		metrics:      metrics,
		logger:       logger,
	}
}

type scored struct {
	match *models.DocumentMatch
	score float64
}

// Rerank returns at most topN results ordered by descending relevance.
// Ties keep retrieval order.
func (s *Service) Rerank(ctx context.Context, query string, candidates []*models.DocumentMatch, topN int) []models.RetrievalResult {
	if len(candidates) == 0 {
		return []models.RetrievalResult{}
	}
	if topN <= 0 || topN > len(candidates) {
		topN = len(candidates)
	}

	ranked, reason := s.remote(ctx, query, candidates, topN)
	if ranked == nil {
		s.metrics.RecordRerankDegraded(reason)
		ranked = proxyScores(candidates)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}

	results := make([]models.RetrievalResult, len(ranked))
	for i, r := range ranked {
		doc := r.match.Document
		results[i] = models.RetrievalResult{
			DocumentID: doc.ID,
			Title:      doc.Title,
			Category:   doc.Category,
			Relevance:  r.score,
			Snippet:    truncateRunes(doc.Content, snippetChars),
			Distance:   r.match.Distance,
			Excerpt:    truncateRunes(doc.Content, s.contentChars),
			KeyData:    doc.KeyData,
		}
	}
	return results
}

// remote scores candidates through the breaker. A nil result means the
// caller must degrade; reason says why.
func (s *Service) remote(ctx context.Context, query string, candidates []*models.DocumentMatch, topN int) ([]scored, string) {
	if s.scorer == nil {
		return nil, reasonDisabled
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = s.serialize(c.Document)
	}

	start := time.Now()
	var units int
	result, err := s.breaker.Execute(func() (interface{}, error) {
		scores, billed, err := s.scorer.Rerank(ctx, query, documents, topN)
		units = billed
		return scores, err
	})

	rec := models.NewUsageRecord(s.scorer.Name(), models.UsageOperationRerank, s.scorer.Model(), time.Since(start))
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.logger.Warn("reranker circuit open, using distance proxy")
			return nil, reasonBreakerOpen
		}
		s.recordUsage(ctx, rec.WithError(err))
		s.logger.Warn("reranker failed, using distance proxy", zap.Error(err))
		return nil, reasonError
	}
	s.recordUsage(ctx, rec.WithUnits(units))

	scores := result.([]Score)
	ranked := make([]scored, 0, len(scores))
	byIndex := make(map[int]float64, len(scores))
	for _, sc := range scores {
		byIndex[sc.Index] = clamp01(sc.RelevanceScore)
	}
	// Walk candidates in retrieval order so the stable sort breaks ties by it.
	for i, c := range candidates {
		if score, ok := byIndex[i]; ok {
			ranked = append(ranked, scored{match: c, score: score})
		}
	}
	if len(ranked) == 0 {
		s.logger.Warn("reranker returned no results, using distance proxy")
		return nil, reasonError
	}

	return ranked, ""
}

func (s *Service) recordUsage(ctx context.Context, rec *models.UsageRecord) {
	if s.usage != nil {
		s.usage.Record(ctx, rec)
	}
}

// serialize renders a candidate the way the reranker sees it
func (s *Service) serialize(doc *models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	if doc.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", doc.Category)
	}
	b.WriteString(truncateRunes(doc.Content, s.contentChars))
	return b.String()
}

// ProxyScore maps a cosine distance to a similarity in [0, 1]
func ProxyScore(distance float64) float64 {
	return clamp01(1 / (1 + distance))
}

func proxyScores(candidates []*models.DocumentMatch) []scored {
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{match: c, score: ProxyScore(c.Distance)}
	}
	return ranked
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
