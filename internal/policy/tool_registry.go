package policy

import "github.com/sentrycore/sentinel/internal/tools"

// specLookup is satisfied by *tools.Registry; kept narrow so this adapter
// doesn't need to import the concrete registry type's constructor surface.
type specLookup interface {
	Lookup(name tools.Ident) (tools.ToolSpec, bool)
}

// ToolRegistryAdapter adapts a *tools.Registry (keyed on the runtime's full
// ToolSpec, including handlers and schemas the engine has no business
// touching) down to the narrow ToolRegistry the Policy Engine depends on.
type ToolRegistryAdapter struct {
	Registry specLookup
}

// NewToolRegistryAdapter wraps a tool registry for use as an Engine's
// ToolRegistry dependency.
func NewToolRegistryAdapter(r specLookup) ToolRegistryAdapter {
	return ToolRegistryAdapter{Registry: r}
}

// Lookup implements ToolRegistry.
func (a ToolRegistryAdapter) Lookup(name tools.Ident) (ToolInfo, bool) {
	spec, ok := a.Registry.Lookup(name)
	if !ok {
		return ToolInfo{}, false
	}
	return ToolInfo{Name: spec.Name, Category: spec.Category, RiskLevel: spec.RiskLevel}, true
}
