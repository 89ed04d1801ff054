package regression

import "strings"

// ZeroInterceptRule lists predictor-name substrings that force a fit through the origin.
type ZeroInterceptRule []string

// Matches reports whether any predictor of the term contains any rule substring
func (r ZeroInterceptRule) Matches(term Term) bool {
	for _, pattern := range r {
		if pattern == "" {
			continue
		}
		for _, p := range term {
			if strings.Contains(p, pattern) {
				return true
			}
		}
	}
	return false
}

// ForcedRule is a predictor group that travels together once any member is selected.
type ForcedRule []string

// Intersects reports whether the rule shares a member with the set
func (r ForcedRule) Intersects(set map[string]bool) bool {
	for _, p := range r {
		if set[p] {
			return true
		}
	}
	return false
}

// Selection is one element's multivariate predictor set.
type Selection struct {
	Element string
	Term    Term
	// Forced lists members added only by a forced rule, in term order.
	Forced []string
}

