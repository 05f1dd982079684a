package tools

import "fmt"

// Registry is a static, startup-populated catalogue of Core Tools. It
// backs policy.ToolRegistry through policy.ToolRegistryAdapter: the policy
// engine never constructs tool metadata itself, it only looks it up here.
type Registry struct {
	specs map[Ident]ToolSpec
}

// NewRegistry builds a Registry from specs, the full startup registration
// list. A duplicate Name is a startup bug, not a runtime condition: it
// panics immediately rather than silently shadowing an entry.
func NewRegistry(specs ...ToolSpec) *Registry {
	r := &Registry{specs: make(map[Ident]ToolSpec, len(specs))}
	for _, s := range specs {
		if _, exists := r.specs[s.Name]; exists {
			panic(fmt.Sprintf("tools: duplicate registration for %q", s.Name))
		}
		r.specs[s.Name] = s
	}
	return r
}

// Lookup returns the registered spec for name, or false if unregistered.
func (r *Registry) Lookup(name Ident) (ToolSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// All returns every registered spec, in no particular order.
func (r *Registry) All() []ToolSpec {
	out := make([]ToolSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// CoreCatalogue returns the stock ToolSpec metadata (name, category, risk)
// for every tool the rule catalogue in internal/policy/rules references.
// Execute handlers are left nil here: the runtime wiring layer fills them
// in via WithExecute before registering, since handler wiring depends on
// concrete stores/clients this package does not import.
func CoreCatalogue() []ToolSpec {
	return []ToolSpec{
		{Name: "write_file", Category: "filesystem", RiskLevel: RiskCaution},
		{Name: "read_file", Category: "filesystem", RiskLevel: RiskSafe},
		{Name: "edit_own_file", Category: "self_modification", RiskLevel: RiskDangerous},
		{Name: "exec", Category: "shell", RiskLevel: RiskDangerous},
		{Name: "transfer_credits", Category: "wallet", RiskLevel: RiskDangerous},
		{Name: "x402_fetch", Category: "wallet", RiskLevel: RiskCaution},
		{Name: "fund_child", Category: "wallet", RiskLevel: RiskDangerous},
		{Name: "chat", Category: "inference", RiskLevel: RiskSafe},
		{Name: "inference", Category: "inference", RiskLevel: RiskSafe},
		{Name: "install_npm_package", Category: "package_management", RiskLevel: RiskCaution},
		{Name: "install_mcp_server", Category: "package_management", RiskLevel: RiskCaution},
		{Name: "install_skill", Category: "skills", RiskLevel: RiskCaution},
		{Name: "create_skill", Category: "skills", RiskLevel: RiskCaution},
		{Name: "remove_skill", Category: "skills", RiskLevel: RiskCaution},
		{Name: "pull_upstream", Category: "self_modification", RiskLevel: RiskDangerous},
		{Name: "expose_port", Category: "networking", RiskLevel: RiskCaution},
		{Name: "remove_port", Category: "networking", RiskLevel: RiskSafe},
		{Name: "modify_heartbeat", Category: "scheduling", RiskLevel: RiskCaution},
		{Name: "send_message", Category: "messaging", RiskLevel: RiskSafe},
		{Name: "update_genesis_prompt", Category: "self_modification", RiskLevel: RiskDangerous},
		{Name: "spawn_child", Category: "lifecycle", RiskLevel: RiskDangerous},
	}
}

// WithExecute returns a copy of spec with Execute set, for wiring handlers
// onto CoreCatalogue's metadata-only entries at startup.
func WithExecute(spec ToolSpec, fn ExecuteFunc) ToolSpec {
	spec.Execute = fn
	return spec
}
