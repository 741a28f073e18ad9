package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Score is the calibrated relevance of one input document
type Score struct {
	Index          int
	RelevanceScore float64
}

// Scorer scores documents against a query
type Scorer interface {
	Name() string
	Model() string
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Score, int, error)
}

// CohereConfig configures the Cohere-compatible rerank client
type CohereConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// CohereClient calls POST {base}/v2/rerank
type CohereClient struct {
	config     CohereConfig
	httpClient *http.Client
}

// NewCohereClient creates a new rerank client
func NewCohereClient(config CohereConfig) *CohereClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.cohere.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &CohereClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the provider name
func (c *CohereClient) Name() string {
	return "cohere"
}

// Model returns the configured rerank model
func (c *CohereClient) Model() string {
	return c.config.Model
}

// Rerank returns scores for the topN best documents and the billed search units
func (c *CohereClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Score, int, error) {
	payload, err := json.Marshal(cohereRerankRequest{
		Model:     c.config.Model,
		Query:     query,
		Documents: documents,
		TopN:      topN,
	})
	if err != nil {
		return nil, 0, fmt.Errorf("cohere rerank: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v2/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("cohere rerank: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("cohere rerank: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("cohere rerank: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("cohere rerank: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded cohereRerankResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, 0, fmt.Errorf("cohere rerank: decode: %w", err)
	}

	scores := make([]Score, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, 0, fmt.Errorf("cohere rerank: result index %d out of range", r.Index)
		}
		scores = append(scores, Score{Index: r.Index, RelevanceScore: r.RelevanceScore})
	}

	units := decoded.Meta.BilledUnits.SearchUnits
	if units == 0 {
		units = 1
	}
	return scores, units, nil
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
	Meta struct {
		BilledUnits struct {
			SearchUnits int `json:"search_units"`
		} `json:"billed_units"`
	} `json:"meta"`
}
