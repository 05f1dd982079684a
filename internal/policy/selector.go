package policy

import "github.com/sentrycore/sentinel/internal/tools"

// Selector decides whether a rule applies to a given tool. Exactly one of
// the four forms is active for a given Selector value.
type Selector struct {
	all        bool
	names      map[tools.Ident]struct{}
	categories map[string]struct{}
	risks      map[tools.RiskLevel]struct{}
}

// All matches every registered tool.
func All() Selector {
	return Selector{all: true}
}

// ByName matches tools whose name is in the given set.
func ByName(names ...tools.Ident) Selector {
	set := make(map[tools.Ident]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Selector{names: set}
}

// ByCategory matches tools whose category is in the given set.
func ByCategory(categories ...string) Selector {
	set := make(map[string]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return Selector{categories: set}
}

// ByRisk matches tools whose risk level is in the given set.
func ByRisk(risks ...tools.RiskLevel) Selector {
	set := make(map[tools.RiskLevel]struct{}, len(risks))
	for _, r := range risks {
		set[r] = struct{}{}
	}
	return Selector{risks: set}
}

// Matches reports whether tool satisfies the selector.
func (s Selector) Matches(tool ToolInfo) bool {
	if s.all {
		return true
	}
	if s.names != nil {
		_, ok := s.names[tool.Name]
		return ok
	}
	if s.categories != nil {
		_, ok := s.categories[tool.Category]
		return ok
	}
	if s.risks != nil {
		_, ok := s.risks[tool.RiskLevel]
		return ok
	}
	return false
}
