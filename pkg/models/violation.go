package models

import (
	"fmt"
	"time"
)

// Severity classifies how serious a violation or diagnosis is.
type Severity string

// Severity levels, ordered from least to most serious.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Violation is an observed failure of a named invariant, scoped to a
// specific entity or cluster-wide (EntityID == nil). Violations are
// regenerated on every monitor tick; only their derivation into a ticket
// is persistent.
type Violation struct {
	InvariantName string
	Message       string
	EntityID      *string
	Severity      Severity
	FirstSeen     time.Time
	LastSeen      time.Time
}

// Key returns the deterministic fingerprint used for ticket deduplication.
// Two violations with the same key in successive ticks are the same incident.
func (v Violation) Key() string {
	return ViolationKey(v.InvariantName, v.EntityID)
}

// ViolationKey derives the dedup fingerprint from an invariant name and an
// optional entity scope.
func ViolationKey(invariantName string, entityID *string) string {
	if entityID == nil {
		return invariantName
	}
	return fmt.Sprintf("%s:%s", invariantName, *entityID)
}
