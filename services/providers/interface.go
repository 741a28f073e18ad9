package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider represents a unified LLM provider interface
type Provider interface {
	// Name returns the provider name (e.g., "anthropic", "openai")
	Name() string

	// Complete performs one non-streaming completion, optionally with tools
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice values
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// CompletionRequest represents a unified completion request
type CompletionRequest struct {
	// Model identifier (e.g., "claude-sonnet-4-20250514", "gpt-4o-mini")
	Model string `json:"model"`

	// System prompt, sent out of band where the provider supports it
	System string `json:"system,omitempty"`

	// Messages in the conversation
	Messages []Message `json:"messages"`

	// Tools the model may call
	Tools []Tool `json:"tools,omitempty"`

	// ToolChoice is "auto", "none" or empty for the provider default
	ToolChoice string `json:"tool_choice,omitempty"`

	// MaxTokens limits the response length
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness
	Temperature float64 `json:"temperature,omitempty"`
}

// Message represents a single message in a conversation.
// An assistant message may carry ToolCalls; a tool message answers one
// of them through ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Tool declares a function the model may call
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema object
}

// ToolCall is a model's request to invoke a tool
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CompletionResponse represents a unified completion response
type CompletionResponse struct {
	// Content is the assistant text, possibly empty when only tools were called
	Content string `json:"content"`

	// ToolCalls requested by the model, in order
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Model that served the request
	Model string `json:"model"`

	// Provider that handled the request
	Provider string `json:"provider"`

	// StopReason as reported by the provider
	StopReason string `json:"stop_reason"`

	// Usage statistics
	Usage Usage `json:"usage"`

	// Latency of the request
	Latency time.Duration `json:"latency"`
}

// Usage represents token usage statistics
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderConfig holds common configuration for providers
type ProviderConfig struct {
	// APIKey for authentication
	APIKey string

	// BaseURL for the API (optional override)
	BaseURL string

	// Timeout for requests
	Timeout time.Duration

	// Additional headers
	Headers map[string]string
}

// ProviderError represents an error from a provider
type ProviderError struct {
	// Provider that generated the error
	Provider string

	// Code is the error code
	Code string

	// Message is the error message
	Message string

	// StatusCode is the HTTP status code (if applicable)
	StatusCode int

	// RateLimited marks throttling (HTTP 429, or 529 overloaded); only
	// these are retried by the router
	RateLimited bool

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Message)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap implements error unwrapping
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a new provider error. Status 429 and 529 are
// marked rate limited.
func NewProviderError(provider, code, message string, statusCode int, cause error) *ProviderError {
	return &ProviderError{
		Provider:    provider,
		Code:        code,
		Message:     message,
		StatusCode:  statusCode,
		RateLimited: statusCode == 429 || statusCode == 529,
		Cause:       cause,
	}
}

// IsRateLimited checks whether err is a throttling ProviderError
func IsRateLimited(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.RateLimited
	}
	return false
}
