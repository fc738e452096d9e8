package routing

import (
	"fmt"
	"strings"
)

// Route matches a message against the installed snapshot. Returns nil when the
// cache is unloaded or no positive pattern survives negation. Deterministic
// for an unchanged snapshot.
func (c *Cache) Route(message, schoolID string) *RouterResult {
	snap := c.snap.Load()
	if snap == nil {
		return nil
	}
	return snap.route(message, schoolID, c.baseConfidence)
}

type routeCandidate struct {
	pattern *compiledPattern
	span    [2]int
}

// route walks patterns in snapshot order (descending priority, stable load
// order) in two phases: collect positive candidates and negative vetoes, then
// pick the first candidate whose intent was not vetoed. A negative pattern
// suppresses its intent regardless of where it sits in the order.
func (s *Snapshot) route(message, schoolID string, baseConfidence float64) *RouterResult {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	vetoed := map[string]bool{}
	seen := map[string]bool{}
	var candidates []routeCandidate

	for i := range s.patterns {
		p := &s.patterns[i]
		if p.SchoolID != "" && p.SchoolID != schoolID {
			continue
		}
		loc := p.re.FindStringIndex(message)
		if loc == nil {
			continue
		}
		if p.Kind == KindNegative {
			vetoed[p.Intent] = true
			continue
		}
		if seen[p.Intent] {
			continue
		}
		seen[p.Intent] = true
		candidates = append(candidates, routeCandidate{pattern: p, span: [2]int{loc[0], loc[1]}})
	}

	for _, cand := range candidates {
		p := cand.pattern
		if vetoed[p.Intent] {
			continue
		}
		return &RouterResult{
			Intent:     p.Intent,
			Confidence: matchConfidence(baseConfidence, cand.span, len(message)),
			Entities:   extractEntities(p, message),
			Reason: fmt.Sprintf("pattern %s (%s, priority %d) matched %q",
				p.ID, p.Kind, p.Priority, p.Expression),
		}
	}
	return nil
}

// matchConfidence applies one policy to every positive match: a fixed high
// base, shaded down slightly when the match covers a small span of the
// message. Thresholds are tuned in config, not here.
func matchConfidence(base float64, span [2]int, messageLen int) float64 {
	if messageLen <= 0 {
		return base
	}
	coverage := float64(span[1]-span[0]) / float64(messageLen)
	confidence := base - 0.2*(1-coverage)
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

// extractEntities pulls named capture groups out of the match.
func extractEntities(p *compiledPattern, message string) map[string]string {
	names := p.re.SubexpNames()
	hasNamed := false
	for _, n := range names {
		if n != "" {
			hasNamed = true
			break
		}
	}
	if !hasNamed {
		return nil
	}

	m := p.re.FindStringSubmatch(message)
	if m == nil {
		return nil
	}
	entities := map[string]string{}
	for i, name := range names {
		if name == "" || i >= len(m) || m[i] == "" {
			continue
		}
		entities[name] = m[i]
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}
