package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/upb/rag-gateway/models"
	"github.com/upb/rag-gateway/services"
	"github.com/upb/rag-gateway/services/usage"
	"go.uber.org/zap"
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Config holds settings for an OpenAI-compatible embeddings endpoint
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// Multimodal sends the query to {base}/multimodalembeddings as a
	// text-only content block, so it lands in the same space as page images.
	Multimodal bool
}

// Client calls POST {base}/embeddings
type Client struct {
	config     Config
	httpClient *http.Client
	usage      usage.Recorder
	logger     *zap.Logger
}

// NewClient creates a new embeddings client. recorder may be nil.
func NewClient(config Config, recorder usage.Recorder, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.Provider == "" {
		config.Provider = "openai"
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		usage:  recorder,
		logger: logger,
	}
}

// Dimensions returns the configured vector length
func (c *Client) Dimensions() int {
	return c.config.Dimensions
}

// Embed returns the embedding of text. A vector of the wrong length is a
// configuration error and is never returned.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()

	vector, tokens, err := c.call(ctx, text)
	rec := models.NewUsageRecord(c.config.Provider, models.UsageOperationEmbedding, c.config.Model, time.Since(start)).
		WithTokens(tokens, 0)
	if err != nil {
		c.record(ctx, rec.WithError(err))
		return nil, err
	}
	c.record(ctx, rec)

	if len(vector) != c.config.Dimensions {
		c.logger.Error("embedding dimension mismatch",
			zap.String("model", c.config.Model),
			zap.Int("expected", c.config.Dimensions),
			zap.Int("actual", len(vector)))
		return nil, services.NewDomainError(services.ErrorTypeConfiguration,
			fmt.Sprintf("embedding model %s returned %d dimensions, expected %d", c.config.Model, len(vector), c.config.Dimensions),
			services.ErrDimensionMismatch)
	}

	return vector, nil
}

// ProbeDimensions embeds a fixed string to verify the model matches the
// configured dimension. Called once at startup.
func (c *Client) ProbeDimensions(ctx context.Context) error {
	if _, err := c.Embed(ctx, "dimension probe"); err != nil {
		return fmt.Errorf("embedding probe for %s failed: %w", c.config.Model, err)
	}
	c.logger.Info("embedding dimensions verified",
		zap.String("model", c.config.Model),
		zap.Int("dimensions", c.config.Dimensions))
	return nil
}

func (c *Client) record(ctx context.Context, rec *models.UsageRecord) {
	if c.usage != nil {
		c.usage.Record(ctx, rec)
	}
}

func (c *Client) call(ctx context.Context, text string) ([]float32, int, error) {
	path := "/embeddings"
	var payload interface{} = embeddingRequest{Model: c.config.Model, Input: text}
	if c.config.Multimodal {
		path = "/multimodalembeddings"
		payload = multimodalRequest{
			Model:     c.config.Model,
			InputType: "query",
			Inputs: []multimodalInput{{
				Content: []multimodalContent{{Type: "text", Text: text}},
			}},
		}
	}

	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, services.WrapInternal("failed to marshal embedding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, services.WrapInternal("failed to create embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, services.WrapExternal("embedding request failed", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, 0, services.WrapExternal("failed to read embedding response", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, 0, services.WrapExternal("embedding request failed",
			fmt.Errorf("status %d: %s", httpResp.StatusCode, truncate(string(respBody), 200)))
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, 0, services.WrapExternal("failed to decode embedding response", err)
	}
	if len(resp.Data) == 0 {
		return nil, 0, services.WrapExternal("embedding response contained no vectors", nil)
	}

	tokens := resp.Usage.PromptTokens
	if tokens == 0 {
		tokens = resp.Usage.TextTokens
	}
	return resp.Data[0].Embedding, tokens, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TextTokens   int `json:"text_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type multimodalRequest struct {
	Model     string            `json:"model"`
	InputType string            `json:"input_type,omitempty"`
	Inputs    []multimodalInput `json:"inputs"`
}

type multimodalInput struct {
	Content []multimodalContent `json:"content"`
}

type multimodalContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}
