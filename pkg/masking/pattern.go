package masking

import (
	"log/slog"
	"regexp"
)

// PatternConfig declares one regex masking pattern.
type PatternConfig struct {
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// Redacted is the replacement for values matched by key-name blacklisting.
const Redacted = "***REDACTED***"

// builtinPatterns are the recognized secret shapes. Matched spans are
// replaced wholesale; over-matching is preferred to leaking.
var builtinPatterns = map[string]PatternConfig{
	"api_key": {
		Pattern:     `(?i)\b(api[_-]?key|apikey)["'\s:=]+[A-Za-z0-9_\-\.]{8,}`,
		Replacement: Redacted,
		Description: "API key assignments",
	},
	"bearer_token": {
		Pattern:     `(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{8,}`,
		Replacement: Redacted,
		Description: "Bearer authorization tokens",
	},
	"password": {
		Pattern:     `(?i)\b(password|passwd|pwd)["'\s:=]+\S+`,
		Replacement: Redacted,
		Description: "Password assignments",
	},
	"secret": {
		Pattern:     `(?i)\b(secret|token)["'\s:=]+[A-Za-z0-9_\-\.=]{8,}`,
		Replacement: Redacted,
		Description: "Generic secret/token assignments",
	},
	"aws_access_key": {
		Pattern:     `\bAKIA[0-9A-Z]{16}\b`,
		Replacement: Redacted,
		Description: "AWS access key IDs",
	},
	"private_key_block": {
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: Redacted,
		Description: "PEM private key blocks",
	},
}

// builtinGroups maps group names to pattern names.
var builtinGroups = map[string][]string{
	"basic": {"api_key", "bearer_token", "password"},
	"all":   {"api_key", "bearer_token", "password", "secret", "aws_access_key", "private_key_block"},
}

// builtinKeyBlacklist lists map keys whose values are always redacted,
// regardless of value shape. Matching is case-insensitive substring.
var builtinKeyBlacklist = []string{
	"password", "passwd", "secret", "token", "api_key", "apikey",
	"authorization", "credential", "private_key", "access_key",
}

// compilePatterns compiles the named patterns, skipping (and logging)
// any that fail to compile.
func compilePatterns(configs map[string]PatternConfig) map[string]*CompiledPattern {
	compiled := make(map[string]*CompiledPattern, len(configs))
	for name, cfg := range configs {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled[name] = &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: cfg.Replacement,
			Description: cfg.Description,
		}
	}
	return compiled
}
