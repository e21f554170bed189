// Package models defines the core data types shared across the operator:
// observations, violations, tickets, action proposals, audit events, and
// eval harness records. All cross-component communication goes through
// these types and the stores that persist them; no in-memory object graph
// crosses a tick boundary.
package models

// Observation is a keyed snapshot of subject state at one point in time.
// Its schema is opaque to the operator core and meaningful only to the
// paired checker. Observations live for one tick and are never persisted.
type Observation map[string]any

// GetString returns the string value for key, or "" if absent or not a string.
func (o Observation) GetString(key string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return ""
}

// GetFloat returns the numeric value for key as a float64.
// JSON decoding produces float64 for all numbers, but int values set
// directly by in-process observers are handled too.
func (o Observation) GetFloat(key string) (float64, bool) {
	switch v := o[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
