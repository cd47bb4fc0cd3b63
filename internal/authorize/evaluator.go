// Package authorize evaluates the ordered route-pattern-to-role rules
// against a resolved Principal. The evaluator is pure: same path, same
// principal, same decision, and it never mutates its inputs.
package authorize

import (
	"strings"

	"paragate/gateway-service/internal/principal"
)

// Deny reasons carried in decisions. They are machine-readable codes, not
// user-facing text.
const (
	ReasonUnmatchedPath    = "unmatched_path"
	ReasonUnauthenticated  = "unauthenticated"
	ReasonInsufficientRole = "insufficient_role"
)

// Rule binds path patterns to the roles allowed through. An empty role
// list defaults to the interactive roles at compile time.
type Rule struct {
	Patterns []string
	Roles    []string
}

// Decision is produced once per request and never mutated.
type Decision struct {
	Allowed bool
	Reason  string // empty when Allowed
}

var defaultRoles = []string{principal.RoleUser, principal.RoleMod, principal.RoleAdmin}

type compiledRule struct {
	patterns []string
	roles    []string
}

// Evaluator holds the compiled rule list. Rules are evaluated
// top-to-bottom; the first pattern match decides.
type Evaluator struct {
	rules []compiledRule
}

// NewEvaluator compiles rules, normalizing role names to upper case.
func NewEvaluator(rules []Rule) *Evaluator {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr := compiledRule{patterns: append([]string{}, r.Patterns...)}
		for _, role := range r.Roles {
			role = strings.ToUpper(strings.TrimSpace(role))
			if role != "" {
				cr.roles = append(cr.roles, role)
			}
		}
		if len(cr.roles) == 0 {
			cr.roles = defaultRoles
		}
		compiled = append(compiled, cr)
	}
	return &Evaluator{rules: compiled}
}

// Evaluate matches path against the rules in order. A path matching no
// rule is denied; exempting paths entirely is the ignored-path list's job,
// which runs upstream of this evaluator.
func (e *Evaluator) Evaluate(path string, p principal.Principal) Decision {
	for _, rule := range e.rules {
		if !matchAny(rule.patterns, path) {
			continue
		}
		if p.HasAnyRole(rule.roles) {
			return Decision{Allowed: true}
		}
		if p.IsAnonymous() {
			return Decision{Reason: ReasonUnauthenticated}
		}
		return Decision{Reason: ReasonInsufficientRole}
	}
	return Decision{Reason: ReasonUnmatchedPath}
}

func matchAny(patterns []string, path string) bool {
	for _, pat := range patterns {
		if MatchPattern(pat, path) {
			return true
		}
	}
	return false
}

// MatchPattern implements ant-style path matching: "*" matches exactly one
// path segment (or a suffix within a segment, as in "/users/u*"), "**"
// matches any remainder including nothing.
func MatchPattern(pattern, path string) bool {
	return matchSegments(splitPath(pattern), splitPath(path))
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		if matchSegments(pat[1:], segs) {
			return true
		}
		if len(segs) == 0 {
			return false
		}
		return matchSegments(pat, segs[1:])
	}
	if len(segs) == 0 {
		return false
	}
	if !matchSegment(pat[0], segs[0]) {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

func matchSegment(pat, seg string) bool {
	if pat == "*" {
		return true
	}
	if i := strings.IndexByte(pat, '*'); i >= 0 {
		prefix, suffix := pat[:i], pat[i+1:]
		return len(seg) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(seg, prefix) && strings.HasSuffix(seg, suffix)
	}
	return pat == seg
}
