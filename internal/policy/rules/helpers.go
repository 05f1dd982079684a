package rules

import "github.com/sentrycore/sentinel/internal/tools"

// toIdents converts plain tool-name strings to tools.Ident for selector
// construction, so the catalogue files above can write readable string
// literals.
func toIdents(names []string) []tools.Ident {
	idents := make([]tools.Ident, len(names))
	for i, n := range names {
		idents[i] = tools.Ident(n)
	}
	return idents
}
