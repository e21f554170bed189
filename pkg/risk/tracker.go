// Package risk tracks a rolling session-level risk score across recent
// actions: per-action weights, a rapid-fire multiplier, and escalation
// pattern bonuses, mapped to a risk level by configured thresholds.
package risk

import (
	"sync"
	"time"

	"github.com/vigil-ops/vigil/pkg/models"
)

// Pattern is an action-name sequence that signals escalation when it
// appears consecutively in the recent window.
type Pattern struct {
	Sequence []string
	Bonus    float64
}

// Config controls scoring.
type Config struct {
	// Window is how far back actions count toward the score.
	Window time.Duration

	// RapidThreshold flags consecutive actions closer together than this.
	RapidThreshold time.Duration

	// RapidMultiplier scales the base score when rapid-fire activity is
	// present.
	RapidMultiplier float64

	// Scores weighs individual actions by name. Actions not listed score
	// DefaultScore.
	Scores       map[string]float64
	DefaultScore float64

	// EscalationPatterns add fixed bonuses per consecutive match.
	EscalationPatterns []Pattern

	// Level thresholds: total >= Critical is critical, >= High is high,
	// >= Medium is medium, else low.
	MediumThreshold   float64
	HighThreshold     float64
	CriticalThreshold float64
}

// DefaultConfig returns the built-in scoring policy.
func DefaultConfig() Config {
	return Config{
		Window:          5 * time.Minute,
		RapidThreshold:  30 * time.Second,
		RapidMultiplier: 1.5,
		Scores: map[string]float64{
			"wait":                         1,
			"log_message":                  1,
			"container_inspect":            1,
			"container_logs":               1,
			"container_network_connect":    3,
			"container_network_disconnect": 5,
			"host_service_start":           3,
			"host_service_restart":         5,
			"container_start":              4,
			"container_restart":            6,
			"container_stop":               6,
			"host_service_stop":            6,
			"execute_script":               8,
			"container_exec":               8,
			"host_kill_process":            9,
		},
		DefaultScore: 3,
		EscalationPatterns: []Pattern{
			{Sequence: []string{"container_restart", "container_exec"}, Bonus: 10},
			{Sequence: []string{"container_stop", "container_stop"}, Bonus: 10},
			{Sequence: []string{"host_kill_process", "host_kill_process"}, Bonus: 15},
		},
		MediumThreshold:   10,
		HighThreshold:     25,
		CriticalThreshold: 50,
	}
}

type entry struct {
	action string
	at     time.Time
}

// Tracker keeps the rolling action list for one session. Thread-safe.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	entries []entry
}

// NewTracker creates a tracker with the given config.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Record notes one executed action.
func (t *Tracker) Record(actionName string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry{action: actionName, at: at})
}

// Score computes the current session risk: entries outside the window are
// dropped, base weights are summed, rapid-fire activity multiplies the
// base, and escalation pattern matches add bonuses. Returns the total and
// its mapped level.
func (t *Tracker) Score(now time.Time) (float64, models.RiskLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.cfg.Window)
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.entries = kept

	var base float64
	for _, e := range t.entries {
		if w, ok := t.cfg.Scores[e.action]; ok {
			base += w
		} else {
			base += t.cfg.DefaultScore
		}
	}

	total := base
	if t.rapidFire() {
		total = base * t.cfg.RapidMultiplier
	}

	for _, p := range t.cfg.EscalationPatterns {
		total += float64(t.countPattern(p.Sequence)) * p.Bonus
	}

	return total, t.level(total)
}

// rapidFire reports whether any pair of consecutive recent actions landed
// within the rapid threshold.
func (t *Tracker) rapidFire() bool {
	for i := 1; i < len(t.entries); i++ {
		if t.entries[i].at.Sub(t.entries[i-1].at) <= t.cfg.RapidThreshold {
			return true
		}
	}
	return false
}

// countPattern counts non-overlapping consecutive occurrences of seq in
// the recent action names.
func (t *Tracker) countPattern(seq []string) int {
	if len(seq) == 0 || len(t.entries) < len(seq) {
		return 0
	}
	count := 0
	for i := 0; i+len(seq) <= len(t.entries); i++ {
		match := true
		for j, name := range seq {
			if t.entries[i+j].action != name {
				match = false
				break
			}
		}
		if match {
			count++
			i += len(seq) - 1
		}
	}
	return count
}

func (t *Tracker) level(total float64) models.RiskLevel {
	switch {
	case total >= t.cfg.CriticalThreshold:
		return models.RiskLevelCritical
	case total >= t.cfg.HighThreshold:
		return models.RiskLevelHigh
	case total >= t.cfg.MediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
