package provider

import (
	"github.com/joss/converge/internal/exec"
)

// Capabilities bundles the proposer and planner a task runs with.
type Capabilities struct {
	Proposer Proposer
	Planner  Planner
}

// Registry holds the available capability sets keyed by provider name.
type Registry struct {
	providers map[string]Capabilities
	fallback  Capabilities
}

// NewRegistry creates a registry whose fallback is the heuristic pair.
func NewRegistry() *Registry {
	heuristic := Capabilities{
		Proposer: &HeuristicProposer{},
		Planner:  &HeuristicPlanner{},
	}
	r := &Registry{
		providers: make(map[string]Capabilities),
		fallback:  heuristic,
	}
	r.Register("heuristic", heuristic)
	return r
}

// Register adds a named capability set.
func (r *Registry) Register(name string, caps Capabilities) {
	r.providers[name] = caps
}

// Resolve returns the capabilities for name, or the heuristic fallback when
// the name is unknown or empty.
func (r *Registry) Resolve(name string) Capabilities {
	if caps, ok := r.providers[name]; ok {
		return caps
	}
	return r.fallback
}

// Fallback returns the deterministic heuristic capability set.
func (r *Registry) Fallback() Capabilities {
	return r.fallback
}

// NewDefaultRegistry wires the built-in providers. With noLLM set, only the
// heuristic pair is registered so every provider name resolves to it.
func NewDefaultRegistry(runner exec.Runner, noLLM bool) *Registry {
	r := NewRegistry()
	if noLLM {
		return r
	}

	r.Register("codex", Capabilities{
		Proposer: NewCLIProposer("codex", "codex", []string{"exec", "--json", "-"}, runner),
		Planner:  NewCLIPlanner("codex", "codex", []string{"exec", "--json", "-"}, runner),
	})
	r.Register("copilot", Capabilities{
		// Copilot only plans; proposals stay heuristic.
		Proposer: &HeuristicProposer{},
		Planner:  NewCLIPlanner("copilot", "gh", []string{"copilot", "suggest", "--json"}, runner),
	})
	return r
}
