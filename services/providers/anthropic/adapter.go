package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/upb/rag-gateway/services/providers"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

// AnthropicAdapter implements the Provider interface for the Messages API
type AnthropicAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter
func NewAnthropicAdapter(config providers.ProviderConfig) *AnthropicAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &AnthropicAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *AnthropicAdapter) Name() string {
	return "anthropic"
}

// Complete sends one Messages API request
func (a *AnthropicAdapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	startTime := time.Now()

	reqBody, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/v1/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.config.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	for k, v := range a.config.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "HTTP_ERROR", "HTTP request failed", 0, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "READ_ERROR", "Failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}

	return a.convertResponse(&msgResp, req, time.Since(startTime)), nil
}

// buildRequest maps the unified conversation onto content blocks. Tool
// results travel as user turns; adjacent ones are merged into one turn.
func (a *AnthropicAdapter) buildRequest(req *providers.CompletionRequest) *messagesRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := &messagesRequest{
		Model:     req.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  make([]message, 0, len(req.Messages)),
	}
	if req.Temperature > 0 {
		out.Temperature = &req.Temperature
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleTool:
			block := contentBlock{Type: "tool_result", ToolUseID: msg.ToolCallID, Content: msg.Content}
			if n := len(out.Messages); n > 0 && out.Messages[n-1].Role == providers.RoleUser && isToolResultTurn(out.Messages[n-1]) {
				out.Messages[n-1].Content = append(out.Messages[n-1].Content, block)
				continue
			}
			out.Messages = append(out.Messages, message{Role: providers.RoleUser, Content: []contentBlock{block}})

		case providers.RoleAssistant:
			m := message{Role: providers.RoleAssistant}
			if msg.Content != "" {
				m.Content = append(m.Content, contentBlock{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				input := call.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				m.Content = append(m.Content, contentBlock{Type: "tool_use", ID: call.ID, Name: call.Name, Input: input})
			}
			out.Messages = append(out.Messages, m)

		default:
			out.Messages = append(out.Messages, message{
				Role:    providers.RoleUser,
				Content: []contentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	for _, tool := range req.Tools {
		schema := tool.Parameters
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out.Tools = append(out.Tools, toolDef{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	if len(out.Tools) > 0 && req.ToolChoice != "" {
		out.ToolChoice = &toolChoice{Type: req.ToolChoice}
	}

	return out
}

func isToolResultTurn(m message) bool {
	for _, block := range m.Content {
		if block.Type != "tool_result" {
			return false
		}
	}
	return len(m.Content) > 0
}

// convertResponse folds text blocks into Content and tool_use blocks into ToolCalls
func (a *AnthropicAdapter) convertResponse(resp *messagesResponse, req *providers.CompletionRequest, latency time.Duration) *providers.CompletionResponse {
	model := resp.Model
	if model == "" {
		model = req.Model
	}

	out := &providers.CompletionResponse{
		Model:      model,
		Provider:   a.Name(),
		StopReason: resp.StopReason,
		Usage: providers.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		Latency: latency,
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			input := block.Input
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, providers.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: input,
			})
		}
	}
	out.Content = text.String()

	return out
}

// handleErrorResponse maps an error body to a ProviderError. 429 and 529
// (overloaded) come back rate limited.
func (a *AnthropicAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		msg := strings.TrimSpace(string(body))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", fmt.Sprintf("unexpected response: %s", msg), statusCode, err)
	}

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		errors.New(errResp.Error.Message),
	)
}

type messagesRequest struct {
	Model       string      `json:"model"`
	MaxTokens   int         `json:"max_tokens"`
	System      string      `json:"system,omitempty"`
	Messages    []message   `json:"messages"`
	Tools       []toolDef   `json:"tools,omitempty"`
	ToolChoice  *toolChoice `json:"tool_choice,omitempty"`
	Temperature *float64    `json:"temperature,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type toolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type toolChoice struct {
	Type string `json:"type"`
}

type messagesResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
