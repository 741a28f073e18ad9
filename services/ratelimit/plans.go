package ratelimit

import "github.com/upb/rag-gateway/models"

// Default per-window ceilings
const (
	DefaultFreeCeiling      = 20
	DefaultFamilyCeiling    = 100
	DefaultPremiumCeiling   = 500
	DefaultSuspendedCeiling = 5
)

// PlanTable maps subscription plans to request ceilings
type PlanTable struct {
	Ceilings  map[string]int
	Suspended int
}

// DefaultPlanTable returns the built-in plan ceilings
func DefaultPlanTable() *PlanTable {
	return &PlanTable{
		Ceilings: map[string]int{
			string(models.PlanFree):    DefaultFreeCeiling,
			string(models.PlanFamily):  DefaultFamilyCeiling,
			string(models.PlanPremium): DefaultPremiumCeiling,
		},
		Suspended: DefaultSuspendedCeiling,
	}
}

// NewPlanTable builds a table from configured ceilings. Missing built-in
// plans keep their defaults.
func NewPlanTable(ceilings map[string]int, suspended int) *PlanTable {
	table := DefaultPlanTable()
	for plan, ceiling := range ceilings {
		table.Ceilings[plan] = ceiling
	}
	if suspended > 0 {
		table.Suspended = suspended
	}
	return table
}

// Ceiling returns the request ceiling for the tenant.
// Suspended tenants get the suspended ceiling whatever their plan; unknown
// plans fall back to free.
func (p *PlanTable) Ceiling(tenant *models.Tenant) int {
	if tenant.IsSuspended() {
		return p.Suspended
	}
	if ceiling, ok := p.Ceilings[string(tenant.Plan)]; ok {
		return ceiling
	}
	return p.Ceilings[string(models.PlanFree)]
}
