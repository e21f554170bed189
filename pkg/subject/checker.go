package subject

import (
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
)

// Finding is one instance of a rule condition holding: a violating entity
// (or nil for cluster-wide) and a human-readable message.
type Finding struct {
	EntityID *string
	Message  string
}

// Rule is one invariant: a name, a severity, a grace period, and an
// evaluation function returning the currently violating findings.
type Rule struct {
	Invariant string
	Severity  models.Severity

	// Grace is the minimum continuous violation duration before a
	// violation is emitted. Zero emits immediately.
	Grace time.Duration

	// Eval returns one finding per violating (invariant, entity) pair.
	Eval func(obs models.Observation) []Finding
}

// GraceChecker implements Checker over a set of rules, tracking when each
// (invariant, entity) pair first started violating so grace periods are
// honored across ticks.
type GraceChecker struct {
	rules     []Rule
	firstSeen map[string]time.Time
}

// NewGraceChecker creates a checker over the given rules.
func NewGraceChecker(rules []Rule) *GraceChecker {
	return &GraceChecker{
		rules:     rules,
		firstSeen: make(map[string]time.Time),
	}
}

// InvariantCount returns the number of configured rules.
func (c *GraceChecker) InvariantCount() int {
	return len(c.rules)
}

// Check evaluates every rule against the observation. For each violating
// pair: start tracking on first sight, emit only once the grace period
// has elapsed. Pairs that stop violating are untracked, so an
// intermittent violation must re-earn its grace period.
func (c *GraceChecker) Check(now time.Time, obs models.Observation) []models.Violation {
	active := make(map[string]struct{})
	var violations []models.Violation

	for _, rule := range c.rules {
		for _, f := range rule.Eval(obs) {
			key := models.ViolationKey(rule.Invariant, f.EntityID)
			active[key] = struct{}{}

			first, tracked := c.firstSeen[key]
			if !tracked {
				first = now
				c.firstSeen[key] = now
			}
			if now.Sub(first) < rule.Grace {
				continue
			}
			violations = append(violations, models.Violation{
				InvariantName: rule.Invariant,
				Message:       f.Message,
				EntityID:      f.EntityID,
				Severity:      rule.Severity,
				FirstSeen:     first,
				LastSeen:      now,
			})
		}
	}

	for key := range c.firstSeen {
		if _, ok := active[key]; !ok {
			delete(c.firstSeen, key)
		}
	}

	return violations
}
