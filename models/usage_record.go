package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageOperation is the kind of external call being accounted
type UsageOperation string

const (
	UsageOperationEmbedding  UsageOperation = "embedding"
	UsageOperationRerank     UsageOperation = "rerank"
	UsageOperationGeneration UsageOperation = "generation"
)

// UsageRecord is an append-only accounting entry for one external call
type UsageRecord struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	TenantID     *uuid.UUID     `json:"tenant_id,omitempty" db:"tenant_id"`
	RequestID    string         `json:"request_id" db:"request_id"`
	Provider     string         `json:"provider" db:"provider"`
	Operation    UsageOperation `json:"operation" db:"operation"`
	Model        string         `json:"model" db:"model"`
	InputTokens  int            `json:"input_tokens" db:"input_tokens"`
	OutputTokens int            `json:"output_tokens" db:"output_tokens"`
	Units        int            `json:"units" db:"units"` // billable requests, e.g. rerank search units
	CostUSD      float64        `json:"cost_usd" db:"cost_usd"`
	LatencyMs    int64          `json:"latency_ms" db:"latency_ms"`
	Success      bool           `json:"success" db:"success"`
	ErrorMessage *string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the UsageRecord model
func (UsageRecord) TableName() string {
	return "usage_records"
}

// NewUsageRecord creates a new UsageRecord for a call that took latency
func NewUsageRecord(provider string, op UsageOperation, model string, latency time.Duration) *UsageRecord {
	return &UsageRecord{
		ID:        uuid.New(),
		Provider:  provider,
		Operation: op,
		Model:     model,
		LatencyMs: latency.Milliseconds(),
		Success:   true,
		CreatedAt: time.Now(),
	}
}

// WithTokens sets token counts
func (u *UsageRecord) WithTokens(input, output int) *UsageRecord {
	u.InputTokens = input
	u.OutputTokens = output
	return u
}

// WithUnits sets billable request units
func (u *UsageRecord) WithUnits(units int) *UsageRecord {
	u.Units = units
	return u
}

// WithError marks the call as failed
func (u *UsageRecord) WithError(err error) *UsageRecord {
	u.Success = false
	if err != nil {
		msg := err.Error()
		u.ErrorMessage = &msg
	}
	return u
}
