package providers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrProviderNotFound is returned when a provider is not registered
var ErrProviderNotFound = errors.New("provider not found")

// Role is a provider's position in the routing order
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Tier is a coarse cost class
type Tier string

const (
	TierCheap   Tier = "cheap"
	TierCapable Tier = "capable"
)

// ModelInfo contains metadata about a model
type ModelInfo struct {
	ID            string
	Provider      string
	Role          Role
	Tier          Tier
	ContextWindow int
	SupportsTools bool
	Multimodal    bool

	// Pricing in USD per 1K tokens, used to rank by cost
	InputPer1K  float64
	OutputPer1K float64
}

// DefaultModelID is served when no model or an unknown one is requested
const DefaultModelID = "claude-sonnet-4-20250514"

// DefaultModels is the static model catalogue
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{
			ID: "claude-sonnet-4-20250514", Provider: "anthropic", Role: RolePrimary, Tier: TierCapable,
			ContextWindow: 200000, SupportsTools: true, Multimodal: true,
			InputPer1K: 0.003, OutputPer1K: 0.015,
		},
		{
			ID: "claude-3-5-haiku-20241022", Provider: "anthropic", Role: RolePrimary, Tier: TierCheap,
			ContextWindow: 200000, SupportsTools: true,
			InputPer1K: 0.0008, OutputPer1K: 0.004,
		},
		{
			ID: "gpt-4o", Provider: "openai", Role: RoleSecondary, Tier: TierCapable,
			ContextWindow: 128000, SupportsTools: true, Multimodal: true,
			InputPer1K: 0.0025, OutputPer1K: 0.01,
		},
		{
			ID: "gpt-4o-mini", Provider: "openai", Role: RoleSecondary, Tier: TierCheap,
			ContextWindow: 128000, SupportsTools: true, Multimodal: true,
			InputPer1K: 0.00015, OutputPer1K: 0.0006,
		},
		{
			ID: "o1-mini", Provider: "openai", Role: RoleSecondary, Tier: TierCapable,
			ContextWindow: 128000, SupportsTools: false,
			InputPer1K: 0.0011, OutputPer1K: 0.0044,
		},
	}
}

// Registry maps model ids to their metadata and serving provider
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	models       map[string]ModelInfo
	defaultModel string
}

// NewRegistry creates a registry over models. An empty defaultModel uses
// DefaultModelID.
func NewRegistry(models []ModelInfo, defaultModel string) *Registry {
	if defaultModel == "" {
		defaultModel = DefaultModelID
	}

	r := &Registry{
		providers:    make(map[string]Provider),
		models:       make(map[string]ModelInfo, len(models)),
		defaultModel: defaultModel,
	}
	for _, m := range models {
		r.models[m.ID] = m
	}
	return r
}

// RegisterProvider registers a provider instance under its name
func (r *Registry) RegisterProvider(provider Provider) error {
	if provider == nil {
		return errors.New("provider cannot be nil")
	}
	if provider.Name() == "" {
		return errors.New("provider name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
	return nil
}

// GetProvider retrieves a provider by name
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, ErrProviderNotFound
	}
	return provider, nil
}

// Resolve returns the model info for id, or the default model when id is
// empty or unknown
func (r *Registry) Resolve(id string) ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.models[id]; ok {
		return m
	}
	return r.models[r.defaultModel]
}

// Cheapest returns the lowest-priced model of a role
func (r *Registry) Cheapest(role Role) (ModelInfo, bool) {
	candidates := r.byRole(role)
	if len(candidates) == 0 {
		return ModelInfo{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].InputPer1K+candidates[i].OutputPer1K < candidates[j].InputPer1K+candidates[j].OutputPer1K
	})
	return candidates[0], true
}

// ByTier returns the cheapest model of a role and tier
func (r *Registry) ByTier(role Role, tier Tier) (ModelInfo, bool) {
	var matches []ModelInfo
	for _, m := range r.byRole(role) {
		if m.Tier == tier {
			matches = append(matches, m)
		}
	}
	if len(matches) == 0 {
		return ModelInfo{}, false
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].InputPer1K+matches[i].OutputPer1K < matches[j].InputPer1K+matches[j].OutputPer1K
	})
	return matches[0], true
}

// byRole returns models of role sorted by id for deterministic ordering
func (r *Registry) byRole(role Role) []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ModelInfo
	for _, m := range r.models {
		if m.Role == role {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate fails when the default model is missing from the catalogue
func (r *Registry) Validate() error {
	r.mu.RLock()
	_, ok := r.models[r.defaultModel]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("unknown default model %q (known: %s)", r.defaultModel, strings.Join(r.ListModels(), ", "))
	}
	return nil
}

// ListModels returns all known model ids, sorted
func (r *Registry) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
