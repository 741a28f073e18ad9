package openai

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
	defaultBaseURL = "https://api.openai.com/v1"
)

// OpenAIAdapter implements the Provider interface for OpenAI
type OpenAIAdapter struct {
	config     providers.ProviderConfig
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter
func NewOpenAIAdapter(config providers.ProviderConfig) *OpenAIAdapter {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}

	return &OpenAIAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// Complete performs a chat completion request. Retries are the caller's
// concern.
func (a *OpenAIAdapter) Complete(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	startTime := time.Now()

	openaiReq, err := a.buildOpenAIRequest(req)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to build request", 0, err)
	}

	reqBody, err := json.Marshal(openaiReq)
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "MARSHAL_ERROR", "Failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, providers.NewProviderError(a.Name(), "REQUEST_ERROR", "Failed to create request", 0, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.config.APIKey)
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

	var openaiResp OpenAIChatResponse
	if err := json.Unmarshal(respBody, &openaiResp); err != nil {
		return nil, providers.NewProviderError(a.Name(), "UNMARSHAL_ERROR", "Failed to unmarshal response", httpResp.StatusCode, err)
	}
	if len(openaiResp.Choices) == 0 {
		return nil, providers.NewProviderError(a.Name(), "EMPTY_RESPONSE", "Response contained no choices", httpResp.StatusCode, nil)
	}

	return a.convertToUnifiedResponse(&openaiResp, req, time.Since(startTime)), nil
}

// buildOpenAIRequest converts unified request to OpenAI format
func (a *OpenAIAdapter) buildOpenAIRequest(req *providers.CompletionRequest) (*OpenAIChatRequest, error) {
	openaiReq := &OpenAIChatRequest{
		Model:    req.Model,
		Messages: make([]OpenAIMessage, 0, len(req.Messages)+1),
	}

	if req.System != "" {
		openaiReq.Messages = append(openaiReq.Messages, OpenAIMessage{Role: "system", Content: stringPtr(req.System)})
	}

	for _, msg := range req.Messages {
		om := OpenAIMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}
		if msg.Content != "" || len(msg.ToolCalls) == 0 {
			om.Content = stringPtr(msg.Content)
		}
		for _, call := range msg.ToolCalls {
			args := string(call.Arguments)
			if args == "" {
				args = "{}"
			}
			om.ToolCalls = append(om.ToolCalls, OpenAIToolCall{
				ID:       call.ID,
				Type:     "function",
				Function: OpenAIFunctionCall{Name: call.Name, Arguments: args},
			})
		}
		openaiReq.Messages = append(openaiReq.Messages, om)
	}

	for _, tool := range req.Tools {
		params := tool.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		openaiReq.Tools = append(openaiReq.Tools, OpenAITool{
			Type: "function",
			Function: OpenAIFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	if len(openaiReq.Tools) > 0 && req.ToolChoice != "" {
		openaiReq.ToolChoice = req.ToolChoice
	}

	if req.MaxTokens > 0 {
		openaiReq.MaxTokens = &req.MaxTokens
	}
	if req.Temperature > 0 {
		openaiReq.Temperature = &req.Temperature
	}

	return openaiReq, nil
}

// convertToUnifiedResponse converts OpenAI response to unified format
func (a *OpenAIAdapter) convertToUnifiedResponse(openaiResp *OpenAIChatResponse, req *providers.CompletionRequest, latency time.Duration) *providers.CompletionResponse {
	choice := openaiResp.Choices[0]

	model := openaiResp.Model
	if model == "" {
		model = req.Model
	}

	resp := &providers.CompletionResponse{
		Model:      model,
		Provider:   a.Name(),
		StopReason: choice.FinishReason,
		Usage: providers.Usage{
			InputTokens:  openaiResp.Usage.PromptTokens,
			OutputTokens: openaiResp.Usage.CompletionTokens,
		},
		Latency: latency,
	}
	if choice.Message.Content != nil {
		resp.Content = *choice.Message.Content
	}

	for _, call := range choice.Message.ToolCalls {
		args := json.RawMessage(call.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		resp.ToolCalls = append(resp.ToolCalls, providers.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}

	return resp
}

// handleErrorResponse handles OpenAI error responses
func (a *OpenAIAdapter) handleErrorResponse(statusCode int, body []byte) error {
	var errResp OpenAIErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(a.Name(), "UNKNOWN_ERROR", fmt.Sprintf("unexpected response: %s", truncate(string(body), 200)), statusCode, err)
	}

	return providers.NewProviderError(
		a.Name(),
		errResp.Error.Type,
		errResp.Error.Message,
		statusCode,
		errors.New(errResp.Error.Message),
	)
}

func stringPtr(s string) *string { return &s }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OpenAI-specific request/response types

type OpenAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type OpenAITool struct {
	Type     string         `json:"type"`
	Function OpenAIFunction `json:"function"`
}

type OpenAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}
