package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLimitWindow is one fixed, clock-aligned admission bucket.
// RequestCount only ever grows within a window.
type RateLimitWindow struct {
	TenantID     uuid.UUID `json:"tenant_id" db:"tenant_id"`
	Endpoint     string    `json:"endpoint" db:"endpoint"`
	WindowStart  time.Time `json:"window_start" db:"window_start"`
	RequestCount int       `json:"request_count" db:"request_count"`
}

// TableName returns the table name for the RateLimitWindow model
func (RateLimitWindow) TableName() string {
	return "rate_limit_windows"
}

// WindowStart truncates now to a multiple of windowSeconds since the epoch
func WindowStart(now time.Time, windowSeconds int) time.Time {
	ws := int64(windowSeconds)
	start := (now.Unix() / ws) * ws
	return time.Unix(start, 0).UTC()
}
