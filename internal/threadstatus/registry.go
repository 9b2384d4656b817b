package threadstatus

import (
	"sort"
	"strings"
)

// Role is one expected seat at the table and the agents that may fill it
type Role struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Agents      []string `json:"agents"`
}

// Registry is the static role assignment a projection is computed against
type Registry struct {
	roles []Role
}

// NewRegistry copies roles, drops blank agent names, and orders roles by name
func NewRegistry(roles []Role) *Registry {
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		agents := make([]string, 0, len(r.Agents))
		for _, a := range r.Agents {
			if a = strings.TrimSpace(a); a != "" {
				agents = append(agents, a)
			}
		}
		display := strings.TrimSpace(r.DisplayName)
		if display == "" {
			display = name
		}
		out = append(out, Role{Name: name, DisplayName: display, Agents: agents})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &Registry{roles: out}
}

// DefaultRoles is the three-seat layout used when no roles are configured
func DefaultRoles() []Role {
	return []Role{
		{Name: "hypothesis_generator", DisplayName: "Hypothesis Generator", Agents: []string{"Codex"}},
		{Name: "test_designer", DisplayName: "Test Designer", Agents: []string{"Opus", "Claude"}},
		{Name: "adversarial_critic", DisplayName: "Adversarial Critic", Agents: []string{"Gemini"}},
	}
}

// DefaultRegistry returns a registry over DefaultRoles
func DefaultRegistry() *Registry {
	return NewRegistry(DefaultRoles())
}

// Roles returns a copy of the registered roles
func (r *Registry) Roles() []Role {
	out := make([]Role, len(r.roles))
	for i, role := range r.roles {
		role.Agents = append([]string(nil), role.Agents...)
		out[i] = role
	}
	return out
}

// Role looks up a role by name
func (r *Registry) Role(name string) (Role, bool) {
	for _, role := range r.roles {
		if role.Name == name {
			return role, true
		}
	}
	return Role{}, false
}

// RoleOf returns the role an agent is assigned to. Agent names match case-insensitively.
func (r *Registry) RoleOf(agent string) (string, bool) {
	for _, role := range r.roles {
		for _, a := range role.Agents {
			if sameName(a, agent) {
				return role.Name, true
			}
		}
	}
	return "", false
}

// Agents lists every registered agent in role order
func (r *Registry) Agents() []string {
	var out []string
	for _, role := range r.roles {
		out = append(out, role.Agents...)
	}
	return out
}
