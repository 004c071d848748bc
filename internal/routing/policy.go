// Package routing maps tasks to a model tier and adapter profile and
// matches agents against that decision by capability.
package routing

import (
	"strings"

	"github.com/repomesh/repomesh/internal/models"
)

// Decision is the routing outcome for one task.
type Decision struct {
	Tier           string `json:"tier"`
	AdapterProfile string `json:"adapter_profile"`
	Reason         string `json:"reason"`
}

type Policy struct{}

func NewPolicy() *Policy { return &Policy{} }

// Decide picks a tier and adapter profile for the task. Scope overrides win;
// otherwise priority >= 4 routes to the frontier tier.
func (p *Policy) Decide(task *models.Task) Decision {
	scope := task.Scope
	if scope == nil {
		scope = map[string]any{}
	}
	adapter, _ := scope["adapter"].(map[string]any)

	explicitTier := stringField(adapter, "tier")
	if explicitTier == "" {
		explicitTier = stringField(scope, "tier")
	}
	explicitProfile := stringField(adapter, "profile")
	if explicitProfile == "" {
		explicitProfile = stringField(scope, "adapter_profile")
	}

	decision := Decision{Tier: "small", AdapterProfile: "generic-shell", Reason: "default"}
	if explicitTier != "" {
		decision.Tier = explicitTier
		decision.Reason = "scope override"
	} else if task.Priority >= 4 {
		decision.Tier = "frontier"
		decision.Reason = "priority>=4"
	}
	if explicitProfile != "" {
		decision.AdapterProfile = explicitProfile
	}
	return decision
}

// Supports reports whether the agent's capability lists admit the decision.
// A missing or empty list is permissive.
func (p *Policy) Supports(agent *models.Agent, decision Decision) bool {
	caps := agent.Capabilities
	if caps == nil {
		return true
	}
	return listAdmits(caps["model_tiers"], decision.Tier) &&
		listAdmits(caps["adapter_profiles"], decision.AdapterProfile)
}

func listAdmits(raw any, value string) bool {
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return true
	}
	for _, item := range list {
		if s, ok := item.(string); ok && s == value {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
