package models

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the subscription tier of a tenant. It determines the rate-limit ceiling.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanFamily  Plan = "family"
	PlanPremium Plan = "premium"
)

// TenantStatus represents the lifecycle state of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

// Tenant represents an isolation boundary (a family or organization)
type Tenant struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	Name      string       `json:"name" db:"name"`
	Plan      Plan         `json:"plan" db:"plan"`
	Status    TenantStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// IsSuspended reports whether the tenant is suspended
func (t *Tenant) IsSuspended() bool {
	return t.Status == TenantStatusSuspended
}

// NewTenant creates a new active Tenant instance
func NewTenant(name string, plan Plan) *Tenant {
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Name:      name,
		Plan:      plan,
		Status:    TenantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
