package routing

import "strings"

// dispatchRule pairs a matcher with a handler key. Rules are evaluated in
// order: every exact rule before any prefix rule, so the table stays easy to
// reason about and unit test.
type dispatchRule struct {
	exact   string
	prefix  string
	handler string
}

// DispatchTable resolves a fused intent to a handler key: exact intent first,
// then the longest matching intent prefix, then the default handler.
type DispatchTable struct {
	exactRules  []dispatchRule
	prefixRules []dispatchRule
	fallback    string
}

// NewDispatchTable creates a table whose unresolved intents map to
// defaultHandler.
func NewDispatchTable(defaultHandler string) *DispatchTable {
	if defaultHandler == "" {
		panic("routing: default handler required")
	}
	return &DispatchTable{fallback: defaultHandler}
}

// Exact maps one intent to a handler key.
func (t *DispatchTable) Exact(intent, handler string) *DispatchTable {
	t.exactRules = append(t.exactRules, dispatchRule{exact: intent, handler: handler})
	return t
}

// Prefix maps every intent starting with prefix to a handler key.
// "students_" covers students_create, students_list, and so on.
func (t *DispatchTable) Prefix(prefix, handler string) *DispatchTable {
	t.prefixRules = append(t.prefixRules, dispatchRule{prefix: prefix, handler: handler})
	return t
}

// Resolve returns the handler key for an intent.
func (t *DispatchTable) Resolve(intent string) string {
	for _, rule := range t.exactRules {
		if rule.exact == intent {
			return rule.handler
		}
	}

	best := ""
	bestLen := -1
	for _, rule := range t.prefixRules {
		if strings.HasPrefix(intent, rule.prefix) && len(rule.prefix) > bestLen {
			best = rule.handler
			bestLen = len(rule.prefix)
		}
	}
	if best != "" {
		return best
	}
	return t.fallback
}

// Default returns the table's default handler key.
func (t *DispatchTable) Default() string {
	return t.fallback
}
