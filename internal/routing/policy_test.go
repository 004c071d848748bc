package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repomesh/repomesh/internal/models"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		task     *models.Task
		expected Decision
	}{
		{
			name:     "default routing",
			task:     &models.Task{Priority: 3},
			expected: Decision{Tier: "small", AdapterProfile: "generic-shell", Reason: "default"},
		},
		{
			name:     "high priority routes to frontier",
			task:     &models.Task{Priority: 4},
			expected: Decision{Tier: "frontier", AdapterProfile: "generic-shell", Reason: "priority>=4"},
		},
		{
			name: "scope tier override wins over priority",
			task: &models.Task{
				Priority: 5,
				Scope:    map[string]any{"tier": "small"},
			},
			expected: Decision{Tier: "small", AdapterProfile: "generic-shell", Reason: "scope override"},
		},
		{
			name: "adapter sub-map override",
			task: &models.Task{
				Priority: 1,
				Scope: map[string]any{
					"adapter": map[string]any{"tier": "frontier", "profile": "go-test"},
				},
			},
			expected: Decision{Tier: "frontier", AdapterProfile: "go-test", Reason: "scope override"},
		},
		{
			name: "profile from scope.adapter_profile",
			task: &models.Task{
				Priority: 2,
				Scope:    map[string]any{"adapter_profile": "python-ci"},
			},
			expected: Decision{Tier: "small", AdapterProfile: "python-ci", Reason: "default"},
		},
	}

	p := NewPolicy()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, p.Decide(tt.task))
		})
	}
}

func TestSupports(t *testing.T) {
	p := NewPolicy()
	decision := Decision{Tier: "frontier", AdapterProfile: "generic-shell"}

	tests := []struct {
		name     string
		caps     map[string]any
		expected bool
	}{
		{"nil capabilities are permissive", nil, true},
		{"empty list is permissive", map[string]any{"model_tiers": []any{}}, true},
		{"matching tier", map[string]any{"model_tiers": []any{"small", "frontier"}}, true},
		{"missing tier", map[string]any{"model_tiers": []any{"small"}}, false},
		{
			"profile list is also checked",
			map[string]any{"adapter_profiles": []any{"go-test"}},
			false,
		},
		{
			"both lists admit",
			map[string]any{
				"model_tiers":      []any{"frontier"},
				"adapter_profiles": []any{"generic-shell"},
			},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &models.Agent{Capabilities: tt.caps}
			assert.Equal(t, tt.expected, p.Supports(agent, decision))
		})
	}
}
