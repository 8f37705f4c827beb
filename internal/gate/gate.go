// Package gate decides whether a resolved status admits an operation.
//
// Each operation declares a list of rules. The call is admitted when at least
// one rule matches; otherwise the status alone determines the error.
package gate

import (
	"muistot/api/internal/apperr"
	"muistot/api/internal/status"
)

// Rule matches a status that carries every required flag and none of the
// forbidden ones.
type Rule struct {
	require status.Status
	forbid  status.Status
}

func Require(flags status.Status) Rule {
	return Rule{require: flags}
}

// Without returns a copy of the rule that also rejects any of flags.
func (r Rule) Without(flags status.Status) Rule {
	r.forbid |= flags
	return r
}

func (r Rule) Matches(s status.Status) bool {
	return s.Has(r.require) && !s.Any(r.forbid)
}

func (r Rule) String() string {
	if r.forbid == status.None {
		return r.require.String()
	}
	return r.require.String() + " without " + r.forbid.String()
}

// Any is shorthand for a rule list.
func Any(rules ...Rule) []Rule { return rules }

// Check admits s against rules or returns the error the status maps to:
//
//   - 409 when a rule demanding absence would otherwise match an existing resource
//   - 404 when the resource is missing (and absence was not asked for) or unpublished
//   - 401 for anonymous callers
//   - 403 for authenticated callers
//   - 400 otherwise
func Check(s status.Status, rules ...Rule) error {
	expectsAbsence := false
	for _, rule := range rules {
		if rule.Matches(s) {
			return nil
		}
		if rule.require.Has(status.DoesNotExist) {
			expectsAbsence = true
		}
	}

	if expectsAbsence && s.Has(status.Exists) {
		for _, rule := range rules {
			if !rule.require.Has(status.DoesNotExist) {
				continue
			}
			relaxed := Rule{require: rule.require &^ status.DoesNotExist, forbid: rule.forbid}
			if relaxed.Matches(s) {
				return apperr.Conflict("resource already exists")
			}
		}
	}

	switch {
	case s.Has(status.DoesNotExist) && !expectsAbsence, s.Has(status.NotPublished):
		return apperr.NotFound("resource not found")
	case s.Has(status.Anonymous):
		return apperr.Unauthorized("authentication required")
	case s.Has(status.Authenticated):
		return apperr.Forbidden("not allowed")
	default:
		return apperr.Bad("request not acceptable for resource state")
	}
}
