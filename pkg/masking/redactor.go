// Package masking redacts secrets from strings and nested keyed containers
// before they are persisted. A shared Redactor is applied everywhere an
// action's raw payload would otherwise reach a store: audit event data,
// action result data, and script content validation.
package masking

import (
	"log/slog"
	"strings"
)

// Config customizes a Redactor beyond the built-in pattern set.
type Config struct {
	// PatternGroup selects the built-in group to apply ("basic" or "all").
	// Empty selects "all".
	PatternGroup string

	// ExtraPatterns are additional regex patterns compiled alongside the
	// built-ins. Invalid patterns are logged and skipped.
	ExtraPatterns map[string]PatternConfig

	// ExtraKeyBlacklist extends the built-in key-name blacklist.
	ExtraKeyBlacklist []string
}

// Redactor applies regex masking to strings and key-blacklist masking to
// nested maps. Created once at startup; thread-safe and stateless aside
// from compiled patterns.
type Redactor struct {
	patterns     []*CompiledPattern
	keyBlacklist []string
}

// NewRedactor creates a redactor with compiled patterns. All patterns are
// compiled eagerly; invalid ones are logged and skipped.
func NewRedactor(cfg Config) *Redactor {
	group := cfg.PatternGroup
	if group == "" {
		group = "all"
	}
	names, ok := builtinGroups[group]
	if !ok {
		slog.Warn("Unknown masking pattern group, falling back to all", "group", group)
		names = builtinGroups["all"]
	}

	compiled := compilePatterns(builtinPatterns)
	var patterns []*CompiledPattern
	for _, name := range names {
		if cp, ok := compiled[name]; ok {
			patterns = append(patterns, cp)
		}
	}
	for name, cp := range compilePatterns(cfg.ExtraPatterns) {
		cp.Name = "custom:" + name
		patterns = append(patterns, cp)
	}

	blacklist := make([]string, 0, len(builtinKeyBlacklist)+len(cfg.ExtraKeyBlacklist))
	blacklist = append(blacklist, builtinKeyBlacklist...)
	blacklist = append(blacklist, cfg.ExtraKeyBlacklist...)

	r := &Redactor{patterns: patterns, keyBlacklist: blacklist}

	slog.Info("Redactor initialized",
		"patterns", len(patterns),
		"blacklisted_keys", len(blacklist))

	return r
}

// RedactString masks all recognized secret spans in s.
func (r *Redactor) RedactString(s string) string {
	if s == "" {
		return s
	}
	for _, p := range r.patterns {
		s = p.Regex.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// ContainsSecret reports whether s matches any secret pattern. Used by the
// script validator to reject payloads that embed credentials.
func (r *Redactor) ContainsSecret(s string) bool {
	for _, p := range r.patterns {
		if p.Regex.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactMap returns a deep copy of m with blacklisted keys replaced and
// string values run through RedactString. The input is never mutated.
func (r *Redactor) RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if r.keyBlacklisted(k) {
			out[k] = Redacted
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch t := v.(type) {
	case string:
		return r.RedactString(t)
	case map[string]any:
		return r.RedactMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.redactValue(e)
		}
		return out
	default:
		return v
	}
}

func (r *Redactor) keyBlacklisted(key string) bool {
	lower := strings.ToLower(key)
	for _, b := range r.keyBlacklist {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}
